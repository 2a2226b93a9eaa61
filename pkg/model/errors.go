package model

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the evaluation engine. The HTTP layer maps these to
// status codes.
const (
	FlagNotFoundErrorCode       = "FLAG_NOT_FOUND"
	ExperimentNotFoundErrorCode = "EXPERIMENT_NOT_FOUND"
	ConfigNotFoundErrorCode     = "CONFIG_NOT_FOUND"
	TypeMismatchErrorCode       = "TYPE_MISMATCH"
	ParseErrorCode              = "PARSE_ERROR"
	InvalidTransitionErrorCode  = "INVALID_TRANSITION"
	ValidationErrorCode         = "VALIDATION_ERROR"
	GeneralErrorCode            = "GENERAL_ERROR"
)

var (
	ErrFlagNotFound       = errors.New(FlagNotFoundErrorCode)
	ErrExperimentNotFound = errors.New(ExperimentNotFoundErrorCode)
	ErrConfigNotFound     = errors.New(ConfigNotFoundErrorCode)
	ErrTypeMismatch       = errors.New(TypeMismatchErrorCode)
	ErrInvalidTransition  = errors.New(InvalidTransitionErrorCode)
)

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlagNotFound) ||
		errors.Is(err, ErrExperimentNotFound) ||
		errors.Is(err, ErrConfigNotFound)
}

// ConfigurationError indicates malformed client setup. It is raised at
// construction time, never during evaluation.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Detail)
}

// NetworkError wraps a transient fetch failure from the definition store.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
