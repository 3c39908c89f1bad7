package utils

import (
	"strings"
)

// DigitsOnly strips every non-digit rune from a phone number.
// Provider payloads carry phones in wildly different shapes
// ("+55 11 99999-0000", "5511999990000@s.whatsapp.net"); storage and
// thread identity always use the bare digit string.
func DigitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone trims a raw phone value and reduces it to digits.
// Returns the empty string when nothing numeric is left.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	// JID-style identifiers keep the phone before the @.
	if at := strings.IndexByte(trimmed, '@'); at > 0 {
		trimmed = trimmed[:at]
	}
	return DigitsOnly(trimmed)
}

// FormatPhone renders a Brazilian digit string for display
// ("+55 (11) 99999-0000"). Unknown lengths are returned as-is.
func FormatPhone(digits string) string {
	digits = DigitsOnly(digits)
	switch {
	case len(digits) == 13 && strings.HasPrefix(digits, "55"):
		return "+55 (" + digits[2:4] + ") " + digits[4:9] + "-" + digits[9:]
	case len(digits) == 12 && strings.HasPrefix(digits, "55"):
		return "+55 (" + digits[2:4] + ") " + digits[4:8] + "-" + digits[8:]
	case len(digits) == 11:
		return "(" + digits[0:2] + ") " + digits[2:7] + "-" + digits[7:]
	case len(digits) == 10:
		return "(" + digits[0:2] + ") " + digits[2:6] + "-" + digits[6:]
	default:
		return digits
	}
}
