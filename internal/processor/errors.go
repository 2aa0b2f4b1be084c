// Copyright 2025 James Ross
package processor

import "errors"

var (
	ErrNoHandler   = errors.New("no handler registered for job type")
	ErrCircuitOpen = errors.New("circuit breaker open for job type")
	ErrTimeout     = errors.New("job exceeded its timeout")
	ErrOverloaded  = errors.New("processor at max concurrent jobs")
)
