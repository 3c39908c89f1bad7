package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatusTerminal(t *testing.T) {
	assert.False(t, MessagePending.Terminal())
	assert.False(t, MessageSent.Terminal())
	assert.True(t, MessageDelivered.Terminal())
	assert.True(t, MessageRead.Terminal())
	assert.True(t, MessageFailed.Terminal())
}

func TestMessageStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{"pending to sent", MessagePending, MessageSent, true},
		{"sent to delivered", MessageSent, MessageDelivered, true},
		{"sent to read", MessageSent, MessageRead, true},
		{"delivered to read", MessageDelivered, MessageRead, true},
		{"delivered to sent downgrade", MessageDelivered, MessageSent, false},
		{"read to delivered downgrade", MessageRead, MessageDelivered, false},
		{"failed to sent", MessageFailed, MessageSent, false},
		{"failed to delivered", MessageFailed, MessageDelivered, false},
		{"read replay", MessageRead, MessageRead, false},
		{"unknown status", MessageSent, MessageStatus("ghost"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMessageConstructors(t *testing.T) {
	inbound := NewInboundMessage(10, 4, "hello")
	assert.Equal(t, DirectionInbound, inbound.Direction)
	assert.Equal(t, MessageSent, inbound.Status)
	assert.NotNil(t, inbound.ContactID)
	assert.Nil(t, inbound.UserID)

	outbound := NewOutboundMessage(10, 7, "reply")
	assert.Equal(t, DirectionOutbound, outbound.Direction)
	assert.Equal(t, MessagePending, outbound.Status)
	assert.NotNil(t, outbound.UserID)
	assert.Nil(t, outbound.ContactID)

	note := NewNote(10, 7, "internal")
	assert.Equal(t, DirectionNote, note.Direction)
	assert.Equal(t, MessageSent, note.Status)
}
