// internal/agent/orchestrator.go
// Package agent drives the plan-execute loop that turns a natural-language
// goal into a sequence of browser steps.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/planner"
)

// StepPlanner is the planning contract the orchestrator consumes.
// Implemented by *planner.Planner.
type StepPlanner interface {
	ChooseStartingPoint(ctx context.Context, goal string) (string, error)
	PlanNext(ctx context.Context, goal string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error)
	PlanFollowUp(ctx context.Context, originalGoal, followUp string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error)
}

// planFunc produces the next step from the run's history and page state.
type planFunc func(ctx context.Context, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error)

// Orchestrator owns the agent loop state machine. Runs are sequential per
// session and concurrent across sessions; the session registry's per-handle
// lock keeps executor calls from interleaving.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       config.AgentConfig
	registry  *session.Registry
	planner   StepPlanner
	executor  *Executor
	bus       *EventBus
	projector Projector

	mu      sync.RWMutex
	runs    map[string]*Run
	lastRun map[string]*Run // most recent run per session id
}

// New creates an Orchestrator wired to the given collaborators.
func New(logger *zap.Logger, cfg config.AgentConfig, registry *session.Registry, stepPlanner StepPlanner, bus *EventBus) *Orchestrator {
	return &Orchestrator{
		logger:   logger.Named("orchestrator"),
		cfg:      cfg,
		registry: registry,
		planner:  stepPlanner,
		executor: NewExecutor(logger, cfg),
		bus:      bus,
		runs:     make(map[string]*Run),
		lastRun:  make(map[string]*Run),
	}
}

// StartTask runs a goal against a browser session, provisioning one when
// sessionID is empty. It blocks until the run reaches COMPLETE, FAILED, or
// SUSPENDED. The returned error is non-nil only when no run could be created
// at all; a run that failed mid-flight is returned with its cause in Err.
func (o *Orchestrator) StartTask(ctx context.Context, goal, sessionID string) (*Run, error) {
	if goal == "" {
		return nil, errors.New("goal must not be empty")
	}

	handle, err := o.registry.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	run := newRun(uuid.NewString(), handle.ID(), goal, handle.LiveViewURL())
	o.register(run)

	o.logger.Info("Starting task",
		zap.String("run_id", run.ID()),
		zap.String("session_id", run.SessionID()),
		zap.String("goal", goal))
	o.emitMessage(run, o.projector.UserMessage(goal))

	if ok := o.start(ctx, run, handle); !ok {
		return run, nil
	}
	o.loop(ctx, run, handle, nil)
	return run, nil
}

// start performs the STARTING phase: choose a starting URL and execute the
// synthetic first NAVIGATE. A failure here releases the session, since the
// caller holds nothing that could reuse it.
func (o *Orchestrator) start(ctx context.Context, run *Run, handle *session.Handle) bool {
	url, err := o.planner.ChooseStartingPoint(ctx, run.Goal())
	if err != nil {
		o.failRun(run, err)
		o.releaseAfterStartFailure(ctx, run.SessionID())
		return false
	}

	step := schemas.Step{
		Text:        fmt.Sprintf("Navigate to %s", url),
		Reasoning:   "Starting point for the task.",
		Tool:        schemas.ToolNavigate,
		Instruction: url,
		StepNumber:  1,
	}
	run.appendStep(step)

	run.setState(StateExecuting)
	if _, err := o.executeStep(ctx, run, handle, &step); err != nil {
		o.failRun(run, err)
		o.releaseAfterStartFailure(ctx, run.SessionID())
		return false
	}

	o.emitMessage(run, o.projector.StepMessage(step))
	run.setState(StatePlanning)
	o.emitState(run)
	return true
}

// loop drives PLANNING/EXECUTING until a terminal transition. firstPlan,
// when non-nil, replaces the planner for the first iteration only (used by
// follow-ups). Planning and execution failures leave the session registered;
// only STARTING failures tear it down.
func (o *Orchestrator) loop(ctx context.Context, run *Run, handle *session.Handle, firstPlan planFunc) {
	plan := firstPlan
	for {
		history := run.History()
		if len(history) >= o.cfg.MaxSteps {
			o.failRun(run, &schemas.StepLimitExceeded{MaxSteps: o.cfg.MaxSteps})
			return
		}

		if plan == nil {
			plan = func(ctx context.Context, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
				return o.planner.PlanNext(ctx, run.Goal(), history, page)
			}
		}
		step, err := plan(ctx, history, o.pageState(ctx, handle))
		plan = nil
		if err != nil {
			o.failRun(run, err)
			return
		}
		// The loop owns numbering; planner-assigned numbers are advisory.
		step.StepNumber = history.NextStepNumber()

		if step.Tool == schemas.ToolComplete {
			run.appendStep(*step)
			o.emitMessage(run, o.projector.StepMessage(*step))
			o.completeRun(run)
			return
		}

		run.appendStep(*step)
		run.setState(StateExecuting)
		result, err := o.executeStep(ctx, run, handle, step)
		o.emitMessage(run, o.projector.StepMessage(*step))
		if err != nil {
			o.failRun(run, err)
			return
		}

		if result.Done {
			if step.Tool == schemas.ToolObserve && step.WaitForUserChoice {
				run.suspend(result.Observation)
				o.emitState(run)
				o.emitMessage(run, o.projector.OutcomeMessage(run))
				o.logger.Info("Run suspended awaiting user choice",
					zap.String("run_id", run.ID()),
					zap.Int("choices", len(result.Observation)))
				return
			}
			o.completeRun(run)
			return
		}

		run.setState(StatePlanning)
		o.emitState(run)
	}
}

// executeStep runs one step under the session's execution lock and attaches
// the result payload to the history entry.
func (o *Orchestrator) executeStep(ctx context.Context, run *Run, handle *session.Handle, step *schemas.Step) (schemas.StepResult, error) {
	var result schemas.StepResult
	err := handle.Exclusive(func() error {
		var execErr error
		result, execErr = o.executor.Execute(ctx, handle.Engine(), step)
		return execErr
	})
	run.attachResult(step.StepNumber, result)
	step.Observation = result.Observation
	step.Extraction = result.Extraction
	return result, err
}

// ResumeWithChosenAction resumes a SUSPENDED run by executing the chosen
// observed action as a single structured ACT. No further planning happens;
// the run always ends terminal.
func (o *Orchestrator) ResumeWithChosenAction(ctx context.Context, runID string, chosenIndex int) (*Run, error) {
	run, ok := o.GetRun(runID)
	if !ok {
		return nil, fmt.Errorf("unknown run %q", runID)
	}
	choices := run.PendingChoices()
	if run.State() != StateSuspended {
		return nil, fmt.Errorf("run %s is %s, not suspended", runID, run.State())
	}
	if chosenIndex < 0 || chosenIndex >= len(choices) {
		return nil, fmt.Errorf("chosen index %d out of range [0,%d)", chosenIndex, len(choices))
	}
	handle, ok := o.registry.Get(run.SessionID())
	if !ok {
		err := fmt.Errorf("session %s is no longer registered", run.SessionID())
		o.failRun(run, err)
		return run, nil
	}

	chosen := choices[chosenIndex]
	instruction, err := jsoniter.MarshalToString(chosen)
	if err != nil {
		o.failRun(run, fmt.Errorf("failed to encode chosen action: %w", err))
		return run, nil
	}

	run.clearPending()
	step := schemas.Step{
		Text:                fmt.Sprintf("Perform chosen action: %s", chosen.Description),
		Reasoning:           "Action selected by the user from the observed candidates.",
		Tool:                schemas.ToolAct,
		Instruction:         instruction,
		StepNumber:          run.History().NextStepNumber(),
		UseStructuredAction: true,
	}
	run.appendStep(step)
	run.setState(StateExecuting)

	_, execErr := o.executeStep(ctx, run, handle, &step)
	o.emitMessage(run, o.projector.StepMessage(step))
	if execErr != nil {
		o.failRun(run, execErr)
		return run, nil
	}

	o.completeRun(run)
	return run, nil
}

// SubmitFollowUp starts a new run on an existing session, planning from the
// previous run's transcript. Step numbering restarts at one.
func (o *Orchestrator) SubmitFollowUp(ctx context.Context, sessionID, goal string) (*Run, error) {
	if goal == "" {
		return nil, errors.New("goal must not be empty")
	}
	handle, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %q is not registered", sessionID)
	}

	var priorGoal string
	var priorHistory schemas.StepHistory
	o.mu.RLock()
	if prior := o.lastRun[sessionID]; prior != nil {
		priorGoal = prior.Goal()
		priorHistory = prior.History()
	}
	o.mu.RUnlock()

	run := newRun(uuid.NewString(), sessionID, goal, handle.LiveViewURL())
	o.register(run)

	o.logger.Info("Starting follow-up",
		zap.String("run_id", run.ID()),
		zap.String("session_id", sessionID),
		zap.String("goal", goal))
	o.emitMessage(run, o.projector.UserMessage(goal))
	run.setState(StatePlanning)

	first := func(ctx context.Context, _ schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
		return o.planner.PlanFollowUp(ctx, priorGoal, goal, priorHistory, page)
	}
	o.loop(ctx, run, handle, first)
	return run, nil
}

// Terminate releases the session, returning a best-effort final screenshot.
// Terminating an unknown or already-terminated session is a no-op. Any run
// still in flight on the session fails once its next engine call hits the
// closed browser.
func (o *Orchestrator) Terminate(ctx context.Context, sessionID string) ([]byte, error) {
	handle, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, o.registry.Release(ctx, sessionID)
	}

	var screenshot []byte
	shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	shot, err := handle.Engine().Screenshot(shotCtx)
	cancel()
	if err != nil {
		o.logger.Warn("Final screenshot capture failed",
			zap.String("session_id", sessionID), zap.Error(err))
	} else {
		screenshot = shot
	}

	if err := o.registry.Release(ctx, sessionID); err != nil {
		return screenshot, err
	}

	o.mu.RLock()
	last := o.lastRun[sessionID]
	o.mu.RUnlock()
	if last != nil && !last.State().Terminal() {
		o.failRun(last, errors.New("session terminated"))
	}
	return screenshot, nil
}

// GetRun looks up a run by id.
func (o *Orchestrator) GetRun(runID string) (*Run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.runs[runID]
	return run, ok
}

// Shutdown releases every session and closes the event bus.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.registry.Shutdown(ctx)
	if o.bus != nil {
		o.bus.Shutdown()
	}
}

func (o *Orchestrator) register(run *Run) {
	o.mu.Lock()
	o.runs[run.ID()] = run
	o.lastRun[run.SessionID()] = run
	o.mu.Unlock()
}

func (o *Orchestrator) completeRun(run *Run) {
	run.setState(StateComplete)
	o.emitState(run)
	o.emitMessage(run, o.projector.OutcomeMessage(run))
	o.logger.Info("Run complete",
		zap.String("run_id", run.ID()),
		zap.Int("steps", len(run.History())))
}

func (o *Orchestrator) failRun(run *Run, err error) {
	run.fail(err)
	o.emitState(run)
	o.emitMessage(run, o.projector.OutcomeMessage(run))
	o.logger.Error("Run failed",
		zap.String("run_id", run.ID()),
		zap.Error(err))
}

// releaseAfterStartFailure tears the session down when STARTING fails; the
// registry must not keep an entry the caller never learned about.
func (o *Orchestrator) releaseAfterStartFailure(ctx context.Context, sessionID string) {
	if err := o.registry.Release(ctx, sessionID); err != nil {
		o.logger.Warn("Failed to release session after start failure",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// pageState captures the current URL and screenshot for a planning call.
// Both are best-effort; planning proceeds text-only when capture fails.
func (o *Orchestrator) pageState(ctx context.Context, handle *session.Handle) planner.PageState {
	var page planner.PageState
	url, err := handle.Engine().CurrentURL(ctx)
	if err != nil {
		o.logger.Debug("Current URL lookup failed", zap.Error(err))
	} else {
		page.URL = url
	}
	shot, err := handle.Engine().Screenshot(ctx)
	if err != nil {
		o.logger.Debug("Screenshot capture failed", zap.Error(err))
	} else {
		page.Screenshot = shot
	}
	return page
}

func (o *Orchestrator) emitMessage(run *Run, msg schemas.Message) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(Event{
		Kind:      EventMessage,
		RunID:     run.ID(),
		SessionID: run.SessionID(),
		Message:   &msg,
	})
}

func (o *Orchestrator) emitState(run *Run) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(Event{
		Kind:      EventStateChange,
		RunID:     run.ID(),
		SessionID: run.SessionID(),
		State:     run.State(),
	})
}
