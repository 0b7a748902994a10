// internal/agent/models.go
package agent

import (
	"sync"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RunState is the agent loop's state machine position for one run.
type RunState string

const (
	StateStarting  RunState = "STARTING"
	StatePlanning  RunState = "PLANNING"
	StateExecuting RunState = "EXECUTING"
	StateSuspended RunState = "SUSPENDED"
	StateComplete  RunState = "COMPLETE"
	StateFailed    RunState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
// SUSPENDED is not terminal: a suspended run accepts exactly one resume.
func (s RunState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Run is one orchestration run: a goal, the session it drives, and the
// append-only step history. All mutation goes through the methods below; a
// run that has reached a terminal state silently rejects further changes.
type Run struct {
	id          string
	sessionID   string
	goal        string
	liveViewURL string
	createdAt   time.Time

	mu      sync.RWMutex
	state   RunState
	history schemas.StepHistory
	pending []schemas.ActionDescriptor
	err     error
}

func newRun(id, sessionID, goal, liveViewURL string) *Run {
	return &Run{
		id:          id,
		sessionID:   sessionID,
		goal:        goal,
		liveViewURL: liveViewURL,
		createdAt:   time.Now(),
		state:       StateStarting,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// SessionID returns the browser session this run drives.
func (r *Run) SessionID() string { return r.sessionID }

// Goal returns the user goal the run was started with.
func (r *Run) Goal() string { return r.goal }

// LiveViewURL returns the session's debug URL captured at acquisition.
func (r *Run) LiveViewURL() string { return r.liveViewURL }

// State returns the current state machine position.
func (r *Run) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Err returns the failure cause for a FAILED run, nil otherwise.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// History returns a copy of the step history.
func (r *Run) History() schemas.StepHistory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(schemas.StepHistory, len(r.history))
	copy(out, r.history)
	return out
}

// PendingChoices returns the candidate actions a SUSPENDED run is waiting
// on, nil for any other state.
func (r *Run) PendingChoices() []schemas.ActionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateSuspended {
		return nil
	}
	out := make([]schemas.ActionDescriptor, len(r.pending))
	copy(out, r.pending)
	return out
}

// setState transitions the run. Transitions out of a terminal state are
// ignored.
func (r *Run) setState(s RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
}

// fail transitions the run to FAILED with the given cause. The first failure
// wins.
func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = StateFailed
	r.err = err
}

// appendStep adds a step to the history. Appends after a terminal transition
// are dropped.
func (r *Run) appendStep(step schemas.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.history = append(r.history, step)
}

// attachResult copies the executor's payload fields onto the step with the
// given number.
func (r *Run) attachResult(stepNumber int, result schemas.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.history {
		if r.history[i].StepNumber == stepNumber {
			r.history[i].Observation = result.Observation
			r.history[i].Extraction = result.Extraction
			return
		}
	}
}

// suspend parks the run awaiting a human choice among the given actions.
func (r *Run) suspend(choices []schemas.ActionDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = StateSuspended
	r.pending = choices
}

// clearPending drops the suspension choices once a resume begins.
func (r *Run) clearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}

// Snapshot is the externally consumable view of a run.
type Snapshot struct {
	RunID          string                     `json:"runId"`
	SessionID      string                     `json:"sessionId"`
	Goal           string                     `json:"goal"`
	State          RunState                   `json:"state"`
	LiveViewURL    string                     `json:"liveViewUrl,omitempty"`
	Steps          schemas.StepHistory        `json:"steps"`
	PendingChoices []schemas.ActionDescriptor `json:"pendingChoices,omitempty"`
	Error          string                     `json:"error,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
}

// Snapshot captures the run's current externally visible state.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make(schemas.StepHistory, len(r.history))
	copy(steps, r.history)

	snap := Snapshot{
		RunID:       r.id,
		SessionID:   r.sessionID,
		Goal:        r.goal,
		State:       r.state,
		LiveViewURL: r.liveViewURL,
		Steps:       steps,
		CreatedAt:   r.createdAt,
	}
	if r.state == StateSuspended {
		snap.PendingChoices = make([]schemas.ActionDescriptor, len(r.pending))
		copy(snap.PendingChoices, r.pending)
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	return snap
}
