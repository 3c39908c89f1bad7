package gateway

import (
	"strings"

	"whatsapp-hub/pkg/utils"
)

// The channel thread identifier is the only place gateway identity is
// encoded. Meta and sandbox lines use the provider-native thread id as-is;
// alt gateway threads carry a composite "alt:<slug>:<digits>" token so the
// owning instance can be recovered from the thread row alone.

const altPrefix = "alt:"

// Channel filter names accepted by panel queries.
const (
	ChannelMeta   = "meta"
	ChannelAlt    = "alt"
	ChannelAltLab = "alt_lab"
	ChannelAltWpp = "alt_wpp"
)

// SanitizeSlug lowercases an alt instance slug and strips everything
// outside [a-z0-9_-]. Returns "" when nothing valid remains.
func SanitizeSlug(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EncodeAltChannelID builds the composite identifier for an alt gateway
// thread from the instance slug and the contact phone.
func EncodeAltChannelID(slug, phone string) string {
	digits := utils.DigitsOnly(phone)
	if digits == "" {
		digits = strings.TrimSpace(phone)
	}
	clean := SanitizeSlug(slug)
	if clean == "" {
		clean = "default"
	}
	return altPrefix + clean + ":" + digits
}

// DecodeAltChannelID splits a channel thread id into instance slug and
// remote identity. ok is false for non-alt identifiers.
func DecodeAltChannelID(channelID string) (slug, remote string, ok bool) {
	if !strings.HasPrefix(channelID, altPrefix) {
		return "", "", false
	}

	payload := channelID[len(altPrefix):]
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) == 2 {
		return SanitizeSlug(parts[0]), parts[1], true
	}
	return "", parts[0], true
}

// IsAltChannelID reports whether the identifier belongs to an alt gateway.
func IsAltChannelID(channelID string) bool {
	return strings.HasPrefix(channelID, altPrefix)
}

// MatchesChannel applies a panel channel filter purely by decoding the
// identifier: meta matches every non-alt thread, alt matches any alt
// thread, and alt_lab/alt_wpp match alt instances whose slug starts with
// "lab"/"wpp".
func MatchesChannel(channelID, channel string) bool {
	switch channel {
	case ChannelMeta:
		return !IsAltChannelID(channelID)
	case ChannelAlt:
		return IsAltChannelID(channelID)
	case ChannelAltLab:
		slug, _, ok := DecodeAltChannelID(channelID)
		return ok && strings.HasPrefix(slug, "lab")
	case ChannelAltWpp:
		slug, _, ok := DecodeAltChannelID(channelID)
		return ok && strings.HasPrefix(slug, "wpp")
	}
	return false
}

// NormalizeChannel validates a raw channel filter value. Unknown values
// report false.
func NormalizeChannel(raw string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case ChannelMeta, ChannelAlt, ChannelAltLab, ChannelAltWpp:
		return normalized, true
	}
	return "", false
}
