package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeAltChannelID(t *testing.T) {
	assert.Equal(t, "alt:wpp1:5511999990000", EncodeAltChannelID("wpp1", "+55 11 99999-0000"))
	assert.Equal(t, "alt:lab:5511999990000", EncodeAltChannelID("LAB", "5511999990000"))
	assert.Equal(t, "alt:default:5511999990000", EncodeAltChannelID("", "5511999990000"))
}

func TestDecodeAltChannelID(t *testing.T) {
	slug, remote, ok := DecodeAltChannelID("alt:wpp1:5511999990000")
	assert.True(t, ok)
	assert.Equal(t, "wpp1", slug)
	assert.Equal(t, "5511999990000", remote)

	// Missing slug segment keeps the whole payload as remote identity
	slug, remote, ok = DecodeAltChannelID("alt:5511999990000")
	assert.True(t, ok)
	assert.Empty(t, slug)
	assert.Equal(t, "5511999990000", remote)

	_, _, ok = DecodeAltChannelID("wamid.HBgNNTUxMQ==")
	assert.False(t, ok)

	_, _, ok = DecodeAltChannelID("")
	assert.False(t, ok)
}

func TestAltChannelIDRoundTrip(t *testing.T) {
	inputs := []struct {
		slug  string
		phone string
	}{
		{"wpp1", "5511999990000"},
		{"lab", "5521888887777"},
		{"wpp-2", "551133334444"},
		{"default", "13125550001"},
	}

	for _, in := range inputs {
		encoded := EncodeAltChannelID(in.slug, in.phone)
		slug, remote, ok := DecodeAltChannelID(encoded)
		assert.True(t, ok)
		// Re-encoding the decoded parts must yield the identical string
		assert.Equal(t, encoded, EncodeAltChannelID(slug, remote))
	}
}

func TestSanitizeSlug(t *testing.T) {
	assert.Equal(t, "wpp1", SanitizeSlug(" WPP1 "))
	assert.Equal(t, "lab_x-2", SanitizeSlug("Lab_X-2"))
	assert.Equal(t, "ab", SanitizeSlug("a!b@"))
	assert.Empty(t, SanitizeSlug("!!!"))
}

func TestMatchesChannel(t *testing.T) {
	tests := []struct {
		name      string
		channelID string
		channel   string
		matches   bool
	}{
		{"meta thread matches meta", "wamid.ABC", ChannelMeta, true},
		{"alt thread excluded from meta", "alt:wpp1:551199", ChannelMeta, false},
		{"alt thread matches alt", "alt:lab2:551199", ChannelAlt, true},
		{"meta thread excluded from alt", "wamid.ABC", ChannelAlt, false},
		{"lab slug matches alt_lab", "alt:lab2:551199", ChannelAltLab, true},
		{"wpp slug excluded from alt_lab", "alt:wpp1:551199", ChannelAltLab, false},
		{"wpp slug matches alt_wpp", "alt:wpp1:551199", ChannelAltWpp, true},
		{"unknown channel matches nothing", "alt:wpp1:551199", "sms", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, MatchesChannel(tt.channelID, tt.channel))
		})
	}
}

func TestNormalizeChannel(t *testing.T) {
	channel, ok := NormalizeChannel(" Meta ")
	assert.True(t, ok)
	assert.Equal(t, ChannelMeta, channel)

	channel, ok = NormalizeChannel("alt_wpp")
	assert.True(t, ok)
	assert.Equal(t, ChannelAltWpp, channel)

	_, ok = NormalizeChannel("telegram")
	assert.False(t, ok)

	_, ok = NormalizeChannel("")
	assert.False(t, ok)
}
