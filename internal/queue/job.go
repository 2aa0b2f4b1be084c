// Copyright 2025 James Ross
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
//
// The state machine is:
//
//	Pending -> Running -> Completed
//	Pending -> Running -> Retry -> (delay) -> Pending
//	Pending -> Running -> Failed
//	Pending/Retry -> Cancelled
//	Running -> Cancelled (explicit Processor cancel only)
//
// Completed, Failed, and Cancelled are absorbing: no further transition is
// legal once a Job reaches one of them.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetry     Status = "retry"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority is a job's enumerated urgency, mapped to an integer so it can
// ride along on Message.Metadata.Priority.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 10
	PriorityHigh   Priority = 20
	PriorityUrgent Priority = 30
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// JobError records a handler failure against a job.
type JobError struct {
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobOptions configures submitJob; zero values take the scheduler's
// configured defaults.
//
// MaxRetries is a pointer so an explicit "no retries" request (Retries(0))
// can be distinguished from leaving the field unset, which takes the
// scheduler's configured default instead.
type JobOptions struct {
	Priority     Priority
	MaxRetries   *int
	RetryDelay   time.Duration
	Timeout      time.Duration
	ScheduledFor time.Time
	Tags         []string
}

// Retries returns a pointer to n, for JobOptions.MaxRetries. Pass
// Retries(0) to submit a job with no retry budget at all; leave
// MaxRetries nil to take the scheduler's configured default instead.
func Retries(n int) *int {
	return &n
}

// Job is a stateful unit of work. Jobs of a given type always flow over the
// queue named by QueueName(type).
type Job struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`

	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	MaxRetries int           `json:"max_retries"`
	RetryCount int           `json:"retry_count"`
	RetryDelay time.Duration `json:"retry_delay"`

	Timeout      time.Duration `json:"timeout,omitempty"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	Tags         []string      `json:"tags,omitempty"`

	LastError *JobError   `json:"last_error,omitempty"`
	Result    interface{} `json:"result,omitempty"`
}

// QueueName returns the "jobs-<type>" queue every job of this type flows
// over.
func QueueName(jobType string) string {
	return "jobs-" + jobType
}

// NewJob constructs a Pending job. defaultMaxRetries/defaultRetryDelay are
// applied wherever opts leaves the corresponding field at its zero value.
func NewJob(jobType string, data interface{}, opts JobOptions, defaultMaxRetries int, defaultRetryDelay time.Duration) Job {
	now := time.Now().UTC()
	maxRetries := defaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}
	j := Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Data:       data,
		Status:     StatusPending,
		Priority:   opts.Priority,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Timeout:    opts.Timeout,
		Tags:       opts.Tags,
	}
	if !opts.ScheduledFor.IsZero() {
		sf := opts.ScheduledFor
		j.ScheduledFor = &sf
	}
	return j
}

// Clone returns a copy safe to hand to a caller outside the scheduler's
// lock: pointer fields are copied, not shared.
func (j Job) Clone() Job {
	c := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.FailedAt != nil {
		t := *j.FailedAt
		c.FailedAt = &t
	}
	if j.CancelledAt != nil {
		t := *j.CancelledAt
		c.CancelledAt = &t
	}
	if j.ScheduledFor != nil {
		t := *j.ScheduledFor
		c.ScheduledFor = &t
	}
	if j.LastError != nil {
		e := *j.LastError
		c.LastError = &e
	}
	if j.Tags != nil {
		c.Tags = append([]string(nil), j.Tags...)
	}
	return c
}

// NextRetryDelay computes the backoff for a job's next retry attempt,
// exponential when exponential is set, capped at maxRetryDelay.
func NextRetryDelay(retryCount int, base, maxRetryDelay time.Duration, exponential bool) time.Duration {
	if base <= 0 {
		return 0
	}
	if !exponential {
		return base
	}
	d := base << uint(retryCount)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
