// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	defaultRegion = "NL"
	// whatsAppUserSuffix is the JID suffix GOWA uses for one-to-one chats.
	whatsAppUserSuffix = "@s.whatsapp.net"
)

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// IsValid reports whether input parses to a valid number.
func IsValid(input string) bool {
	number, err := phonenumbers.Parse(strings.TrimSpace(input), defaultRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(number)
}

// FromChatID extracts the phone number from a WhatsApp chat id such as
// "31612345678@s.whatsapp.net" and returns it in E.164.
func FromChatID(chatID string) string {
	user := strings.TrimSpace(chatID)
	if at := strings.IndexByte(user, '@'); at >= 0 {
		user = user[:at]
	}
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		user = user[:colon]
	}
	if user == "" {
		return ""
	}
	if !strings.HasPrefix(user, "+") {
		user = "+" + user
	}
	return NormalizeE164(user)
}

// ToChatID builds the WhatsApp chat id for a phone number.
func ToChatID(phoneNumber string) string {
	normalized := strings.TrimPrefix(NormalizeE164(phoneNumber), "+")
	if normalized == "" {
		return ""
	}
	return normalized + whatsAppUserSuffix
}
