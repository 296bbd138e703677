package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"chatflow_backend/internal/pipeline"
)

// InboundEvent is the webhook body the WhatsApp gateway posts for every
// received message.
type InboundEvent struct {
	Event     string          `json:"event,omitempty"`
	SenderID  string          `json:"sender_id"`
	ChatID    string          `json:"chat_id"`
	From      string          `json:"from"`
	Timestamp string          `json:"timestamp"`
	PushName  string          `json:"pushname"`
	IsFromMe  bool            `json:"is_from_me,omitempty"`
	Message   *gowaMessage    `json:"message,omitempty"`
	Image     *gowaMedia      `json:"image,omitempty"`
	Audio     *gowaMedia      `json:"audio,omitempty"`
	Video     *gowaMedia      `json:"video,omitempty"`
	Document  *gowaMedia      `json:"document,omitempty"`
	Location  *gowaLocation   `json:"location,omitempty"`
	Reaction  json.RawMessage `json:"reaction,omitempty"`
}

type gowaMessage struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

type gowaMedia struct {
	MediaPath string `json:"media_path"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	Caption   string `json:"caption"`
}

type gowaLocation struct {
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
	Name      string  `json:"name"`
}

// ignoreReason explains why an event carries no customer message, or
// returns "" when it does.
func (e InboundEvent) ignoreReason() string {
	switch {
	case e.Event != "" && e.Event != "message":
		return "event " + e.Event
	case e.IsFromMe:
		return "own message"
	case strings.HasSuffix(e.chatJID(), "@g.us"):
		return "group chat"
	case strings.HasSuffix(e.chatJID(), "@broadcast"):
		return "broadcast"
	case len(e.Reaction) > 0:
		return "reaction"
	}
	return ""
}

func (e InboundEvent) chatJID() string {
	from := strings.TrimSpace(e.From)
	if strings.Contains(from, " in ") {
		// "sender in group" form
		parts := strings.SplitN(from, " in ", 2)
		return strings.TrimSpace(parts[1])
	}
	if from != "" {
		return from
	}
	if id := strings.TrimSpace(e.ChatID); id != "" {
		if strings.Contains(id, "@") {
			return id
		}
		return id + "@s.whatsapp.net"
	}
	return ""
}

// MessagePayload maps the event onto the ingestion payload. Relative media
// paths are resolved against the gateway base URL.
func (e InboundEvent) MessagePayload(mediaBaseURL string) pipeline.MessagePayload {
	p := pipeline.MessagePayload{
		ChatID:     e.chatJID(),
		SenderName: strings.TrimSpace(e.PushName),
		ReceivedAt: parseTimestamp(e.Timestamp),
	}
	if e.SenderID != "" {
		p.SenderPhone = e.SenderID
		if !strings.HasPrefix(p.SenderPhone, "+") {
			p.SenderPhone = "+" + p.SenderPhone
		}
	}
	if e.Message != nil {
		p.ExternalID = e.Message.ID
		p.Text = e.Message.Text
	}

	media := []struct {
		kind string
		item *gowaMedia
	}{{"audio", e.Audio}, {"video", e.Video}, {"image", e.Image}, {"document", e.Document}}
	for _, m := range media {
		if m.item == nil {
			continue
		}
		p.Media = &pipeline.MediaPayload{
			Kind:     m.kind,
			URL:      resolveMediaURL(mediaBaseURL, m.item),
			MimeType: m.item.MimeType,
			Caption:  m.item.Caption,
		}
		break
	}
	if p.Media == nil && e.Location != nil {
		p.Location = &pipeline.LocationPayload{Lat: e.Location.Latitude, Lng: e.Location.Longitude, Name: e.Location.Name}
	}
	return p
}

func resolveMediaURL(base string, m *gowaMedia) string {
	if m.URL != "" {
		return m.URL
	}
	path := strings.TrimSpace(m.MediaPath)
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05 -0700 MST"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
