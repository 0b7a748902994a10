// api/schemas/steps.go
package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tool enumerates the kinds of work a planned step may specify. The set is
// closed: the planner must pick exactly one of these for every step, and the
// executor dispatches on it.
type Tool string

const (
	ToolNavigate     Tool = "NAVIGATE"      // Load a URL (instruction is the URL).
	ToolAct          Tool = "ACT"           // Perform a page interaction (instruction is a directive or serialized ActionDescriptor).
	ToolExtract      Tool = "EXTRACT"       // Pull structured data from the page per the instruction.
	ToolObserve      Tool = "OBSERVE"       // Enumerate candidate interactions matching the instruction.
	ToolWait         Tool = "WAIT"          // Pause the step for instruction-many milliseconds.
	ToolNavigateBack Tool = "NAVIGATE_BACK" // Pop one browser history entry.
	ToolComplete     Tool = "COMPLETE"      // Terminal step, no browser side effect.
)

// legacyToolNames maps tool spellings used by earlier planner prompt versions
// onto the canonical enumeration. COMPLETE and CLOSE denote the same terminal
// state across versions.
var legacyToolNames = map[string]Tool{
	"GOTO":    ToolNavigate,
	"NAVBACK": ToolNavigateBack,
	"CLOSE":   ToolComplete,
}

// NormalizeTool maps a raw tool name from a planner response onto the closed
// enumeration, accepting legacy synonyms. An unknown name is an error; the
// caller treats it as a planning failure.
func NormalizeTool(raw string) (Tool, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if t, ok := legacyToolNames[name]; ok {
		return t, nil
	}
	t := Tool(name)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tool %q", raw)
	}
	return t, nil
}

// Valid reports whether t is a member of the closed enumeration.
func (t Tool) Valid() bool {
	switch t {
	case ToolNavigate, ToolAct, ToolExtract, ToolObserve, ToolWait, ToolNavigateBack, ToolComplete:
		return true
	}
	return false
}

// Terminal reports whether t ends the run without an executor call.
func (t Tool) Terminal() bool { return t == ToolComplete }

// ActionDescriptor is a candidate interactable action surfaced by an OBSERVE
// step. It is produced by the browser engine and opaque to the planner except
// for its description, which is what a human chooser sees.
type ActionDescriptor struct {
	Description string   `json:"description"`
	Method      string   `json:"method"`
	Selector    string   `json:"selector"`
	Arguments   []string `json:"arguments"`
}

// Step is one planner-selected unit of work. Text and Reasoning are always
// present; Instruction is interpreted according to Tool. The two flags are
// tool-scoped: UseStructuredAction is meaningful only for ACT, and
// WaitForUserChoice only for OBSERVE. Result payloads (Observation,
// Extraction) are attached after execution.
type Step struct {
	Text                string             `json:"text"`
	Reasoning           string             `json:"reasoning"`
	Tool                Tool               `json:"tool"`
	Instruction         string             `json:"instruction,omitempty"`
	StepNumber          int                `json:"stepNumber"`
	UseStructuredAction bool               `json:"useStructuredAction,omitempty"`
	WaitForUserChoice   bool               `json:"waitForUserChoice,omitempty"`
	Observation         []ActionDescriptor `json:"observation,omitempty"`
	Extraction          json.RawMessage    `json:"extraction,omitempty"`
}

// Validate enforces the tool-scoped flag contract and the payload shape the
// executor relies on.
func (s *Step) Validate() error {
	if !s.Tool.Valid() {
		return fmt.Errorf("step %d: unknown tool %q", s.StepNumber, s.Tool)
	}
	if s.UseStructuredAction && s.Tool != ToolAct {
		return fmt.Errorf("step %d: useStructuredAction is only meaningful for ACT, got %s", s.StepNumber, s.Tool)
	}
	if s.WaitForUserChoice && s.Tool != ToolObserve {
		return fmt.Errorf("step %d: waitForUserChoice is only meaningful for OBSERVE, got %s", s.StepNumber, s.Tool)
	}
	if s.Tool == ToolNavigate && s.Instruction == "" {
		return fmt.Errorf("step %d: NAVIGATE requires a URL instruction", s.StepNumber)
	}
	return nil
}

// StepHistory is the ordered, append-only sequence of steps for one
// orchestration run. It is passed in full to the planner on every planning
// call; no hidden state is assumed on the reasoning-service side.
type StepHistory []Step

// NextStepNumber returns the 1-based position the next appended step must
// carry.
func (h StepHistory) NextStepNumber() int { return len(h) + 1 }

// StepResult is what the executor reports for one step. Done signals run
// termination: true for COMPLETE, and for OBSERVE steps that must suspend for
// a human choice. Observation and Extraction mirror the tool-dependent
// payloads the engine produced.
type StepResult struct {
	Success     bool               `json:"success"`
	Done        bool               `json:"done"`
	Message     string             `json:"message,omitempty"`
	Observation []ActionDescriptor `json:"observation,omitempty"`
	Extraction  json.RawMessage    `json:"extraction,omitempty"`
}
