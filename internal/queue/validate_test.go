// Copyright 2025 James Ross
package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessageOK(t *testing.T) {
	m := NewMessage("hello", SendOptions{Priority: 1})
	assert.NoError(t, ValidateMessage(m))
}

func TestValidateMessageRejectsMissingID(t *testing.T) {
	m := Message{Metadata: Metadata{Timestamp: time.Now()}}
	err := ValidateMessage(m)
	assert.Error(t, err)
}

func TestValidateJobOK(t *testing.T) {
	j := NewJob("t", nil, JobOptions{}, 3, time.Second)
	assert.NoError(t, ValidateJob(j))
}

func TestValidateJobRejectsBadStatus(t *testing.T) {
	j := NewJob("t", nil, JobOptions{}, 3, time.Second)
	j.Status = "bogus"
	err := ValidateJob(j)
	assert.Error(t, err)
}
