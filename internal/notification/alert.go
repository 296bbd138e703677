package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var alertTemplate = template.Must(template.ParseFS(templateFS, "templates/operator_alert.html"))

// Notification kinds.
const (
	KindHandoff = "conversation.handoff"
	KindUrgent  = "conversation.urgent"
	KindMessage = "conversation.message"
)

// Alert is the rendered form of one notification.
type Alert struct {
	Title          string
	Summary        string
	Contact        string
	Phone          string
	Text           string
	ConversationID string
	Urgent         bool
}

func alertFor(kind string, payload map[string]any) Alert {
	a := Alert{
		Contact:        stringField(payload, "contact"),
		Phone:          stringField(payload, "phone"),
		Text:           stringField(payload, "text"),
		ConversationID: stringField(payload, "conversationId"),
	}
	who := a.Contact
	if who == "" {
		who = a.Phone
	}
	switch kind {
	case KindUrgent:
		a.Urgent = true
		a.Title = "URGENT: gesprek vraagt direct aandacht"
		a.Summary = fmt.Sprintf("%s heeft een urgent bericht gestuurd en wacht op een medewerker.", who)
	case KindHandoff:
		a.Title = "Nieuw gesprek voor jou"
		a.Summary = fmt.Sprintf("Het gesprek met %s is aan jou overgedragen.", who)
	case KindMessage:
		a.Title = "Nieuw bericht"
		a.Summary = fmt.Sprintf("%s heeft een nieuw bericht gestuurd.", who)
	default:
		a.Title = "Melding"
		a.Summary = kind
	}
	return a
}

// PlainText is the WhatsApp rendering.
func (a Alert) PlainText() string {
	var b strings.Builder
	b.WriteString(a.Title)
	b.WriteString("\n")
	b.WriteString(a.Summary)
	if a.Phone != "" {
		b.WriteString("\nTelefoon: ")
		b.WriteString(a.Phone)
	}
	if a.Text != "" {
		b.WriteString("\nBericht: ")
		b.WriteString(a.Text)
	}
	if a.ConversationID != "" {
		b.WriteString("\nGesprek: ")
		b.WriteString(a.ConversationID)
	}
	return b.String()
}

// HTML is the e-mail rendering.
func (a Alert) HTML() (string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, a); err != nil {
		return "", fmt.Errorf("render alert: %w", err)
	}
	return buf.String(), nil
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
