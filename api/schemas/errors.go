// api/schemas/errors.go
package schemas

import "fmt"

// SessionInitError reports a failure to provision a browser session before
// any step ran.
type SessionInitError struct {
	SessionID string
	Err       error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("session %s failed to initialize: %v", e.SessionID, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// PlanningError reports that the model failed to produce a usable step,
// including malformed or unparseable plans.
type PlanningError struct {
	Phase string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed during %s: %v", e.Phase, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ExecutionError reports a step that was planned successfully but failed
// against the live page.
type ExecutionError struct {
	Tool       Tool
	StepNumber int
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.StepNumber, e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StepLimitExceeded reports that a run hit its step ceiling before the model
// declared the goal complete.
type StepLimitExceeded struct {
	MaxSteps int
}

func (e *StepLimitExceeded) Error() string {
	return fmt.Sprintf("run exceeded the maximum of %d steps without completing", e.MaxSteps)
}
