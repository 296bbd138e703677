package pipeline

import (
	"strings"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/phone"
)

// MediaPayload is an attachment as received from the gateway.
type MediaPayload struct {
	Kind     string `json:"kind" validate:"required,oneof=audio video image document"`
	URL      string `json:"url" validate:"required,url"`
	MimeType string `json:"mimeType,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type LocationPayload struct {
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `json:"lng" validate:"gte=-180,lte=180"`
	Name string  `json:"name,omitempty"`
}

// MessagePayload is the job payload for both ingestion and AI processing.
// Exactly one of Text, Media or Location carries the content.
type MessagePayload struct {
	ChatID      string           `json:"chatId" validate:"required,chatid"`
	ExternalID  string           `json:"externalId,omitempty"`
	SenderPhone string           `json:"senderPhone,omitempty"`
	SenderName  string           `json:"senderName,omitempty"`
	Text        string           `json:"text,omitempty"`
	Media       *MediaPayload    `json:"media,omitempty" validate:"omitempty"`
	Location    *LocationPayload `json:"location,omitempty" validate:"omitempty"`
	ReceivedAt  time.Time        `json:"receivedAt"`
}

// Normalize fills the sender phone from the chat id and formats it as E.164.
func (p *MessagePayload) Normalize() {
	p.ChatID = strings.TrimSpace(p.ChatID)
	p.Text = strings.TrimSpace(p.Text)
	p.SenderName = strings.TrimSpace(p.SenderName)
	if p.SenderPhone == "" {
		p.SenderPhone = phone.FromChatID(p.ChatID)
	} else {
		p.SenderPhone = phone.NormalizeE164(p.SenderPhone)
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now().UTC()
	}
}

// Content converts the payload into its message variant.
func (p MessagePayload) Content() (domain.Content, error) {
	switch {
	case p.Media != nil:
		caption := p.Media.Caption
		if caption == "" {
			caption = p.Text
		}
		return domain.Media{
			Kind:     domain.MediaKind(p.Media.Kind),
			URL:      p.Media.URL,
			MimeType: p.Media.MimeType,
			Caption:  caption,
		}, nil
	case p.Location != nil:
		return domain.Location{Lat: p.Location.Lat, Lng: p.Location.Lng, Name: p.Location.Name}, nil
	case p.Text != "":
		return domain.Text{Body: p.Text}, nil
	default:
		return nil, apperr.Validation("message has no text, media or location")
	}
}

// Inbound builds the orchestrator input for attempt.
func (p MessagePayload) Inbound(attempt int) (Inbound, error) {
	content, err := p.Content()
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{
		ChatID:       p.ChatID,
		ContactPhone: p.SenderPhone,
		ContactName:  p.SenderName,
		ExternalID:   p.ExternalID,
		Content:      content,
		Attempt:      attempt,
	}, nil
}
