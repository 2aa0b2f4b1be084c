// Copyright 2025 James Ross
package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMessage(t *testing.T) {
	m := NewMessage("payload", SendOptions{Priority: 5, MaxRetries: 2})
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "payload", m.Payload)
	assert.Equal(t, 5, m.Metadata.Priority)
	assert.Equal(t, 2, m.Metadata.MaxRetries)
}

func TestMessageExpired(t *testing.T) {
	m := NewMessage(nil, SendOptions{TTL: time.Millisecond})
	assert.False(t, m.Expired(m.Metadata.Timestamp))
	assert.True(t, m.Expired(m.Metadata.Timestamp.Add(time.Second)))
}

func TestMessageExpiredNoTTL(t *testing.T) {
	m := NewMessage(nil, SendOptions{})
	assert.False(t, m.Expired(m.Metadata.Timestamp.Add(24*time.Hour)))
}

func TestMessageDeliverable(t *testing.T) {
	m := NewMessage(nil, SendOptions{Delay: time.Minute})
	assert.False(t, m.Deliverable(m.Metadata.Timestamp))
	assert.True(t, m.Deliverable(m.Metadata.Timestamp.Add(time.Minute)))
}

func TestMessageDeliverableNoDelay(t *testing.T) {
	m := NewMessage(nil, SendOptions{})
	assert.True(t, m.Deliverable(m.Metadata.Timestamp))
}
