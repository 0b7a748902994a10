// internal/agent/projector.go
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Projector turns run progress into the ordered message stream the
// presentation layer renders. One message per completed step, one user
// message per submitted goal, one final message per run outcome.
type Projector struct{}

// UserMessage projects a submitted goal.
func (Projector) UserMessage(goal string) schemas.Message {
	return schemas.Message{
		ID:        uuid.NewString(),
		Role:      schemas.RoleUser,
		Text:      goal,
		Timestamp: time.Now().UTC(),
	}
}

// StepMessage projects one completed step, carrying its observation or
// extraction payload when present.
func (Projector) StepMessage(step schemas.Step) schemas.Message {
	msg := schemas.Message{
		ID:         uuid.NewString(),
		Role:       schemas.RoleAgent,
		Text:       step.Text,
		Reasoning:  step.Reasoning,
		Tool:       step.Tool,
		StepNumber: step.StepNumber,
		Timestamp:  time.Now().UTC(),
	}
	switch {
	case len(step.Extraction) > 0:
		msg.Payload = step.Extraction
	case len(step.Observation) > 0:
		if payload, err := jsoniter.Marshal(step.Observation); err == nil {
			msg.Payload = json.RawMessage(payload)
		}
	}
	return msg
}

// OutcomeMessage projects the run's terminal result.
func (Projector) OutcomeMessage(run *Run) schemas.Message {
	msg := schemas.Message{
		ID:        uuid.NewString(),
		Role:      schemas.RoleAgent,
		Final:     true,
		Timestamp: time.Now().UTC(),
	}
	switch run.State() {
	case StateComplete:
		msg.Text = completionText(run)
	case StateFailed:
		msg.Text = fmt.Sprintf("Task failed: %v", run.Err())
	case StateSuspended:
		msg.Final = false
		msg.Text = fmt.Sprintf("Waiting for you to choose one of %d actions.", len(run.PendingChoices()))
	}
	return msg
}

// completionText prefers the terminal step's own summary over a generic
// notice.
func completionText(run *Run) string {
	history := run.History()
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Tool == schemas.ToolComplete && last.Text != "" {
			return last.Text
		}
		if last.Text != "" {
			return fmt.Sprintf("Task complete: %s", last.Text)
		}
	}
	return "Task complete."
}
