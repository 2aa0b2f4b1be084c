// Copyright 2025 James Ross
//
// Package queue defines the wire-level data model shared by every Provider
// and by the Job Scheduler: the Message envelope producers send and
// consumers receive, and the Job a worker ultimately executes.
//
// Message payloads are opaque (interface{}) end to end; only the metadata
// envelope is interpreted by the Queue Manager and Providers. Typed
// validation of a payload's shape belongs to the caller, not this package.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Message is the transport unit carried by a Provider between a producer
// and a consumer.
type Message struct {
	ID       string      `json:"id"`
	Payload  interface{} `json:"payload"`
	Metadata Metadata    `json:"metadata"`
}

// Metadata carries delivery and retry bookkeeping for a Message.
type Metadata struct {
	Timestamp  time.Time     `json:"timestamp"`
	Priority   int           `json:"priority"` // 0-255, higher is more urgent
	Delay      time.Duration `json:"delay,omitempty"`
	TTL        time.Duration `json:"ttl,omitempty"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`

	// ReceiptHandle is an opaque token some backends (SQS-like) hand back
	// on receive and require for the matching ack. Providers that don't
	// need it leave it empty.
	ReceiptHandle string `json:"receipt_handle,omitempty"`
}

// SendOptions configures an individual sendMessage call. Values are used
// as given: zero values stay zero, and no retry-policy defaults are filled
// in for them.
type SendOptions struct {
	Priority   int
	Delay      time.Duration
	TTL        time.Duration
	MaxRetries int
}

// NewMessage builds a Message with a fresh ID and a creation timestamp.
func NewMessage(payload interface{}, opts SendOptions) Message {
	return Message{
		ID:      uuid.NewString(),
		Payload: payload,
		Metadata: Metadata{
			Timestamp:  time.Now().UTC(),
			Priority:   opts.Priority,
			Delay:      opts.Delay,
			TTL:        opts.TTL,
			MaxRetries: opts.MaxRetries,
		},
	}
}

// Expired reports whether the message's TTL has elapsed.
func (m Message) Expired(now time.Time) bool {
	if m.Metadata.TTL <= 0 {
		return false
	}
	return now.After(m.Metadata.Timestamp.Add(m.Metadata.TTL))
}

// Deliverable reports whether the message's delay has elapsed, i.e. it may
// be handed to a consumer.
func (m Message) Deliverable(now time.Time) bool {
	if m.Metadata.Delay <= 0 {
		return true
	}
	return !now.Before(m.Metadata.Timestamp.Add(m.Metadata.Delay))
}
