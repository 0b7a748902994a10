// internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Executor dispatches one planned step to the browser engine and shapes the
// outcome into a StepResult. It holds no per-run state; the orchestrator owns
// sequencing.
type Executor struct {
	cfg    config.AgentConfig
	logger *zap.Logger
}

// NewExecutor creates an Executor with the given step-level timeouts.
func NewExecutor(logger *zap.Logger, cfg config.AgentConfig) *Executor {
	return &Executor{
		cfg:    cfg,
		logger: logger.Named("executor"),
	}
}

// Execute performs the step against the engine. A returned error is always
// an *schemas.ExecutionError; the browser session remains usable after it.
func (e *Executor) Execute(ctx context.Context, engine browser.Engine, step *schemas.Step) (schemas.StepResult, error) {
	e.logger.Info("Executing step",
		zap.Int("step", step.StepNumber),
		zap.String("tool", string(step.Tool)),
		zap.String("instruction", step.Instruction))

	result, err := e.dispatch(ctx, engine, step)
	if err != nil {
		execErr := &schemas.ExecutionError{Tool: step.Tool, StepNumber: step.StepNumber, Err: err}
		return schemas.StepResult{Success: false, Message: execErr.Error()}, execErr
	}
	result.Success = true
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, engine browser.Engine, step *schemas.Step) (schemas.StepResult, error) {
	switch step.Tool {
	case schemas.ToolNavigate:
		return schemas.StepResult{}, engine.Navigate(ctx, step.Instruction)

	case schemas.ToolAct:
		actCtx := ctx
		if e.cfg.ActTimeout > 0 {
			var cancel context.CancelFunc
			actCtx, cancel = context.WithTimeout(ctx, e.cfg.ActTimeout)
			defer cancel()
		}
		if step.UseStructuredAction {
			var action schemas.ActionDescriptor
			if err := jsoniter.UnmarshalFromString(step.Instruction, &action); err != nil {
				return schemas.StepResult{}, fmt.Errorf("malformed structured action: %w", err)
			}
			return schemas.StepResult{}, engine.ActDescriptor(actCtx, action)
		}
		return schemas.StepResult{}, engine.Act(actCtx, step.Instruction)

	case schemas.ToolExtract:
		data, err := engine.Extract(ctx, step.Instruction)
		if err != nil {
			return schemas.StepResult{}, err
		}
		return schemas.StepResult{Extraction: data}, nil

	case schemas.ToolObserve:
		actions, err := engine.Observe(ctx, step.Instruction)
		if err != nil {
			return schemas.StepResult{}, err
		}
		// done only when a human must pick from the observation.
		return schemas.StepResult{Done: step.WaitForUserChoice, Observation: actions}, nil

	case schemas.ToolWait:
		return schemas.StepResult{}, e.wait(ctx, step.Instruction)

	case schemas.ToolNavigateBack:
		return schemas.StepResult{}, engine.GoBack(ctx)

	case schemas.ToolComplete:
		return schemas.StepResult{Done: true, Message: step.Text}, nil

	default:
		return schemas.StepResult{}, fmt.Errorf("unknown tool %q", step.Tool)
	}
}

// wait pauses for the instruction interpreted as milliseconds, clamped to
// the configured ceiling.
func (e *Executor) wait(ctx context.Context, instruction string) error {
	ms, err := strconv.Atoi(strings.TrimSpace(instruction))
	if err != nil {
		return fmt.Errorf("WAIT instruction %q is not a millisecond count: %w", instruction, err)
	}
	if ms < 0 {
		ms = 0
	}
	dur := time.Duration(ms) * time.Millisecond
	if e.cfg.WaitCeiling > 0 && dur > e.cfg.WaitCeiling {
		e.logger.Debug("Clamping WAIT to ceiling",
			zap.Duration("requested", dur), zap.Duration("ceiling", e.cfg.WaitCeiling))
		dur = e.cfg.WaitCeiling
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
