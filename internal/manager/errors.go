// Copyright 2025 James Ross
package manager

import "errors"

var (
	ErrQueueNotFound   = errors.New("queue not found")
	ErrQueueExists     = errors.New("queue already exists")
	ErrProviderMissing = errors.New("provider name required")
)
