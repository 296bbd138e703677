package domain

import (
	"fmt"
	"strings"
)

// Content is the body of a message: Text, Media or Location.
type Content interface {
	isContent()
}

// Text is a plain text message.
type Text struct {
	Body string
}

// MediaKind classifies attachments.
type MediaKind string

const (
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
)

// Media is an attachment reachable by URL.
type Media struct {
	Kind     MediaKind
	URL      string
	MimeType string
	Caption  string
}

// NeedsTranscription reports whether the media carries speech.
func (m Media) NeedsTranscription() bool {
	return m.Kind == MediaAudio || m.Kind == MediaVideo
}

// Location is a shared map pin.
type Location struct {
	Lat  float64
	Lng  float64
	Name string
}

func (Text) isContent()     {}
func (Media) isContent()    {}
func (Location) isContent() {}

// ContentText renders content as the text the pipeline reasons about. Media
// needing transcription renders as its caption until transcribed.
func ContentText(c Content) string {
	switch v := c.(type) {
	case Text:
		return strings.TrimSpace(v.Body)
	case Media:
		return strings.TrimSpace(v.Caption)
	case Location:
		if v.Name != "" {
			return fmt.Sprintf("shared location: %s (%.6f, %.6f)", v.Name, v.Lat, v.Lng)
		}
		return fmt.Sprintf("shared location: %.6f, %.6f", v.Lat, v.Lng)
	case nil:
		return ""
	default:
		panic(fmt.Sprintf("domain: unhandled content type %T", c))
	}
}
