// Copyright 2025 James Ross
package scheduler

import "errors"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotPending = errors.New("job is not pending")
	ErrJobNotRunning = errors.New("job is not running")
	ErrJobRunning    = errors.New("job is running; only the processor handling it may cancel it")
	ErrJobTerminal   = errors.New("job is already in a terminal state")
	ErrInvalidJob    = errors.New("invalid job")
)
