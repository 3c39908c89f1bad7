package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "5511999990000", DigitsOnly("+55 (11) 99999-0000"))
	assert.Equal(t, "", DigitsOnly("abc"))
	assert.Equal(t, "12345", DigitsOnly("12345"))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain digits", "5511999990000", "5511999990000"},
		{"formatted", " +55 11 99999-0000 ", "5511999990000"},
		{"jid suffix", "5511999990000@s.whatsapp.net", "5511999990000"},
		{"empty", "   ", ""},
		{"no digits", "group-subject", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.raw))
		})
	}
}

func TestFormatPhone(t *testing.T) {
	assert.Equal(t, "+55 (11) 99999-0000", FormatPhone("5511999990000"))
	assert.Equal(t, "+55 (11) 9999-0000", FormatPhone("551199990000"))
	assert.Equal(t, "(11) 99999-0000", FormatPhone("11999990000"))
	assert.Equal(t, "(11) 9999-0000", FormatPhone("1199990000"))
	assert.Equal(t, "123", FormatPhone("123"))
}
