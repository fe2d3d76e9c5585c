package core

import "errors"

// Sentinel errors for the interrupt protocol. Callers match with errors.Is.
var (
	// ErrUnknownExecution is returned when an execution id is not tracked.
	ErrUnknownExecution = errors.New("unknown execution")
	// ErrNotInterrupted is returned when resume is called on an execution
	// whose status is not interrupted.
	ErrNotInterrupted = errors.New("execution is not interrupted")
)

// ConfigurationError marks fatal setup problems (unresolvable agent id,
// invalid team, missing model binding). It is surfaced immediately and never
// retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }
