// Copyright 2025 James Ross
package provider

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrProviderTypeUnknown = errors.New("provider type not registered")
	ErrQueueEmpty          = errors.New("queue is empty")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrTimeout             = errors.New("operation timed out")
	ErrInvalidConfiguration = errors.New("invalid provider configuration")
	ErrOperationNotSupported = errors.New("operation not supported by this provider")
	ErrMessageNotFound     = errors.New("message not found")
)

// ProviderError wraps an error with the provider and operation that
// produced it.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider, operation string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Operation: operation, Err: err}
}

// ConfigError reports an invalid or missing configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// IsRetryable reports whether an operation that failed with err is worth
// retrying.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, ErrConnectionFailed):
		return true
	case errors.Is(err, ErrQueueEmpty):
		return false
	case errors.Is(err, ErrMessageNotFound):
		return false
	case errors.Is(err, ErrInvalidConfiguration):
		return false
	case errors.Is(err, ErrOperationNotSupported):
		return false
	default:
		var pe *ProviderError
		if errors.As(err, &pe) {
			return IsRetryable(pe.Err)
		}
		return false
	}
}

// ErrorCode returns a stable machine-readable code for err, for admin
// tooling and metrics labels.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrProviderNotFound):
		return "PROVIDER_NOT_FOUND"
	case errors.Is(err, ErrProviderTypeUnknown):
		return "PROVIDER_TYPE_UNKNOWN"
	case errors.Is(err, ErrQueueEmpty):
		return "QUEUE_EMPTY"
	case errors.Is(err, ErrConnectionFailed):
		return "CONNECTION_FAILED"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrInvalidConfiguration):
		return "INVALID_CONFIGURATION"
	case errors.Is(err, ErrOperationNotSupported):
		return "OPERATION_NOT_SUPPORTED"
	case errors.Is(err, ErrMessageNotFound):
		return "MESSAGE_NOT_FOUND"
	default:
		var pe *ProviderError
		if errors.As(err, &pe) {
			return "PROVIDER_ERROR"
		}
		var ce *ConfigError
		if errors.As(err, &ce) {
			return "CONFIG_ERROR"
		}
		return "UNKNOWN_ERROR"
	}
}
