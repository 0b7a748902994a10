// internal/planner/planner.go
// Package planner turns a user goal and the current browser state into the
// next step for the agent loop. All decisions are delegated to the reasoning
// service; this package owns the prompting and the parsing.
package planner

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// PageState is the browser-side context attached to a planning call. The
// screenshot is optional; planning degrades to text-only when capture fails.
type PageState struct {
	URL        string
	Screenshot []byte
}

// Planner plans steps for the agent loop. It is stateless across calls; the
// full step history travels with every request.
type Planner struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

// New creates a Planner backed by the given reasoning client.
func New(logger *zap.Logger, llm schemas.LLMClient) *Planner {
	return &Planner{
		llm:    llm,
		logger: logger.Named("planner"),
	}
}

// ChooseStartingPoint asks the model for the URL a fresh run should open
// first. The returned URL is always absolute http(s).
func (p *Planner) ChooseStartingPoint(ctx context.Context, goal string) (string, error) {
	response, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: startingPointSystemPrompt,
		UserPrompt:   fmt.Sprintf("Goal: %s", goal),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return "", &schemas.PlanningError{Phase: "starting point", Err: err}
	}

	payload, err := schemas.ExtractJSONBlock(response)
	if err != nil {
		return "", &schemas.PlanningError{Phase: "starting point", Err: err}
	}
	var parsed struct {
		URL       string `json:"url"`
		Reasoning string `json:"reasoning"`
	}
	if err := jsoniter.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", &schemas.PlanningError{Phase: "starting point", Err: fmt.Errorf("malformed response: %w", err)}
	}
	if err := validateStartURL(parsed.URL); err != nil {
		return "", &schemas.PlanningError{Phase: "starting point", Err: err}
	}

	p.logger.Info("Chose starting point",
		zap.String("url", parsed.URL),
		zap.String("reasoning", parsed.Reasoning))
	return parsed.URL, nil
}

// PlanNext plans the next step of an in-progress run from the goal, the full
// history, and the current page state.
func (p *Planner) PlanNext(ctx context.Context, goal string, history schemas.StepHistory, page PageState) (*schemas.Step, error) {
	prompt := fmt.Sprintf(`Goal: %s

Steps taken so far:
%s
Current URL: %s

Plan the next step.`, goal, renderHistory(history), page.URL)

	return p.planStep(ctx, "next step", stepSystemPrompt, prompt, page.Screenshot, history.NextStepNumber())
}

// PlanFollowUp plans the first step of a follow-up request against a session
// whose previous run already finished. Step numbering restarts at one.
func (p *Planner) PlanFollowUp(ctx context.Context, originalGoal, followUp string, history schemas.StepHistory, page PageState) (*schemas.Step, error) {
	prompt := fmt.Sprintf(`Original goal: %s

Steps of the completed run:
%s
Follow-up request: %s

Current URL: %s

Plan the first step of the follow-up.`, originalGoal, renderHistory(history), followUp, page.URL)

	return p.planStep(ctx, "follow-up", followUpSystemPrompt, prompt, page.Screenshot, 1)
}

func (p *Planner) planStep(ctx context.Context, phase, system, prompt string, screenshot []byte, stepNumber int) (*schemas.Step, error) {
	response, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   prompt,
		Screenshot:   screenshot,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return nil, &schemas.PlanningError{Phase: phase, Err: err}
	}

	step, err := parseStep(response)
	if err != nil {
		return nil, &schemas.PlanningError{Phase: phase, Err: err}
	}
	step.StepNumber = stepNumber

	p.logger.Info("Planned step",
		zap.Int("step", step.StepNumber),
		zap.String("tool", string(step.Tool)),
		zap.String("text", step.Text))
	return step, nil
}

// parseStep decodes a planner response into a validated Step, accepting
// legacy tool spellings.
func parseStep(response string) (*schemas.Step, error) {
	payload, err := schemas.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Text                string `json:"text"`
		Reasoning           string `json:"reasoning"`
		Tool                string `json:"tool"`
		Instruction         string `json:"instruction"`
		UseStructuredAction bool   `json:"useStructuredAction"`
		WaitForUserChoice   bool   `json:"waitForUserChoice"`
	}
	if err := jsoniter.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("malformed step response: %w", err)
	}

	tool, err := schemas.NormalizeTool(raw.Tool)
	if err != nil {
		return nil, err
	}

	step := &schemas.Step{
		Text:                strings.TrimSpace(raw.Text),
		Reasoning:           strings.TrimSpace(raw.Reasoning),
		Tool:                tool,
		Instruction:         strings.TrimSpace(raw.Instruction),
		UseStructuredAction: raw.UseStructuredAction && tool == schemas.ToolAct,
		WaitForUserChoice:   raw.WaitForUserChoice && tool == schemas.ToolObserve,
	}
	if step.Text == "" {
		step.Text = string(tool)
	}
	if err := step.Validate(); err != nil {
		return nil, err
	}
	return step, nil
}

// renderHistory flattens the step history into the textual transcript the
// prompts carry. Result payloads are summarized, not dumped.
func renderHistory(history schemas.StepHistory) string {
	if len(history) == 0 {
		return "(none yet)\n"
	}
	var b strings.Builder
	for _, step := range history {
		fmt.Fprintf(&b, "%d. [%s] %s", step.StepNumber, step.Tool, step.Text)
		if step.Reasoning != "" {
			fmt.Fprintf(&b, " (reasoning: %s)", truncate(step.Reasoning, 200))
		}
		if step.Instruction != "" {
			fmt.Fprintf(&b, " (instruction: %s)", truncate(step.Instruction, 200))
		}
		if len(step.Observation) > 0 {
			fmt.Fprintf(&b, " -> observed %d actions", len(step.Observation))
		}
		if len(step.Extraction) > 0 {
			fmt.Fprintf(&b, " -> extracted: %s", truncate(string(step.Extraction), 400))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// validateStartURL insists on an absolute http(s) URL so the first NAVIGATE
// never fails on a scheme the browser cannot open.
func validateStartURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty starting URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid starting URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("starting URL %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("starting URL %q has no host", raw)
	}
	return nil
}
