// Copyright 2025 James Ross
package patterns

import "errors"

var (
	errPanic              = errors.New("subscriber handler panicked")
	ErrNoWorkersAvailable = errors.New("no workers available to consume message")
)
