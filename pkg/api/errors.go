package api

import (
	"errors"
	"fmt"
)

// ConfigurationError signals a malformed sequence definition or step. It is
// raised at construction/validation time and surfaces to the author
// immediately; it is never recovered from.
type ConfigurationError struct {
	Err error
}

func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return "invalid sequence configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// EnvironmentError signals that an execution context has become unusable,
// e.g. all target machines are unreachable. It is fatal to a sequence run:
// the remainder of the sequence is aborted.
type EnvironmentError struct {
	Err error
}

func NewEnvironmentError(format string, args ...interface{}) *EnvironmentError {
	return &EnvironmentError{Err: fmt.Errorf(format, args...)}
}

func (e *EnvironmentError) Error() string {
	return "execution environment unusable: " + e.Err.Error()
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsEnvironmentError reports whether err is, or wraps, an EnvironmentError.
func IsEnvironmentError(err error) bool {
	var ee *EnvironmentError
	return errors.As(err, &ee)
}
