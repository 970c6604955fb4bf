package bootstrap

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning is returned when the service identity is already registered.
	ErrAlreadyRunning = errors.New("service already running")
	// ErrServiceLaunch is returned when the service process cannot be started.
	ErrServiceLaunch = errors.New("error starting excel service")
	// ErrReadyTimeout is returned when no readiness broadcast arrives in time.
	ErrReadyTimeout = errors.New("timed out waiting for excel service")
	// ErrStepTimeout matches any *StepTimeoutError.
	ErrStepTimeout = errors.New("step timed out")
)

// ExitError reports a non-zero exit code from the add-in installer.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("installation failed. exit code: %d", e.Code)
}

// StepTimeoutError reports a step that exceeded its configured bound.
type StepTimeoutError struct {
	Step  State
	After time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Step, e.After)
}

func (e *StepTimeoutError) Is(target error) bool {
	return target == ErrStepTimeout
}
