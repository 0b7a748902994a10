package planner

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestChooseStartingPoint(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful && req.Options.ForceJSONFormat
	})).Return(`{"url": "https://news.ycombinator.com", "reasoning": "direct entry point"}`, nil)

	p := New(zaptest.NewLogger(t), llm)
	url, err := p.ChooseStartingPoint(context.Background(), "find the top story on hacker news")
	require.NoError(t, err)
	assert.Equal(t, "https://news.ycombinator.com", url)
	llm.AssertExpectations(t)
}

func TestChooseStartingPointRejectsBadURL(t *testing.T) {
	cases := map[string]string{
		"non-http scheme": `{"url": "ftp://example.com/data"}`,
		"relative":        `{"url": "/search?q=laptops"}`,
		"empty":           `{"url": ""}`,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			llm := new(mockLLM)
			llm.On("Generate", mock.Anything, mock.Anything).Return(response, nil)

			p := New(zaptest.NewLogger(t), llm)
			_, err := p.ChooseStartingPoint(context.Background(), "goal")

			var planErr *schemas.PlanningError
			require.ErrorAs(t, err, &planErr)
		})
	}
}

func TestPlanNextNumbersStepFromHistory(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"text": "Click the login link", "reasoning": "need to sign in", "tool": "ACT", "instruction": "click the login link"}`, nil)

	history := schemas.StepHistory{
		{StepNumber: 1, Tool: schemas.ToolNavigate, Text: "Open example.com", Instruction: "https://example.com"},
		{StepNumber: 2, Tool: schemas.ToolObserve, Text: "List page actions"},
	}

	p := New(zaptest.NewLogger(t), llm)
	step, err := p.PlanNext(context.Background(), "log in", history, PageState{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, step.StepNumber)
	assert.Equal(t, schemas.ToolAct, step.Tool)
}

func TestPlanNextAcceptsLegacyToolNames(t *testing.T) {
	cases := map[string]schemas.Tool{
		`{"text": "t", "tool": "GOTO", "instruction": "https://example.com"}`: schemas.ToolNavigate,
		`{"text": "t", "tool": "NAVBACK"}`:                                    schemas.ToolNavigateBack,
		`{"text": "t", "tool": "CLOSE"}`:                                      schemas.ToolComplete,
	}
	for response, want := range cases {
		llm := new(mockLLM)
		llm.On("Generate", mock.Anything, mock.Anything).Return(response, nil)

		p := New(zaptest.NewLogger(t), llm)
		step, err := p.PlanNext(context.Background(), "goal", nil, PageState{})
		require.NoError(t, err)
		assert.Equal(t, want, step.Tool)
	}
}

func TestPlanNextRejectsUnknownTool(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"text": "t", "tool": "TELEPORT"}`, nil)

	p := New(zaptest.NewLogger(t), llm)
	_, err := p.PlanNext(context.Background(), "goal", nil, PageState{})

	var planErr *schemas.PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, "next step", planErr.Phase)
}

func TestPlanNextWrapsGenerationFailure(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model unavailable"))

	p := New(zaptest.NewLogger(t), llm)
	_, err := p.PlanNext(context.Background(), "goal", nil, PageState{})

	var planErr *schemas.PlanningError
	require.ErrorAs(t, err, &planErr)
}

func TestPlanNextScopesFlagsToTool(t *testing.T) {
	// A stray waitForUserChoice on a non-OBSERVE step is dropped, not fatal.
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"text": "t", "tool": "ACT", "instruction": "click", "waitForUserChoice": true}`, nil)

	p := New(zaptest.NewLogger(t), llm)
	step, err := p.PlanNext(context.Background(), "goal", nil, PageState{})
	require.NoError(t, err)
	assert.False(t, step.WaitForUserChoice)
}

func TestPlanFollowUpRestartsNumbering(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.SystemPrompt == followUpSystemPrompt
	})).Return(`{"text": "Extract the prices", "tool": "EXTRACT", "instruction": "listed prices"}`, nil)

	history := schemas.StepHistory{
		{StepNumber: 1, Tool: schemas.ToolNavigate, Text: "Open shop", Instruction: "https://shop.example.com"},
		{StepNumber: 2, Tool: schemas.ToolComplete, Text: "Done"},
	}

	p := New(zaptest.NewLogger(t), llm)
	step, err := p.PlanFollowUp(context.Background(), "find laptops", "now get their prices", history, PageState{URL: "https://shop.example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, step.StepNumber)
	llm.AssertExpectations(t)
}

func TestParseStepHandlesFencedJSON(t *testing.T) {
	step, err := parseStep("Here is the plan:\n```json\n{\"text\": \"Wait for results\", \"tool\": \"WAIT\", \"instruction\": \"2000\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolWait, step.Tool)
	assert.Equal(t, "2000", step.Instruction)
}

func TestRenderHistorySummarizesPayloads(t *testing.T) {
	history := schemas.StepHistory{
		{StepNumber: 1, Tool: schemas.ToolObserve, Text: "Look around",
			Observation: []schemas.ActionDescriptor{{Description: "a"}, {Description: "b"}}},
		{StepNumber: 2, Tool: schemas.ToolExtract, Text: "Grab data",
			Extraction: []byte(`{"price": 42}`)},
	}
	got := renderHistory(history)
	assert.Contains(t, got, "observed 2 actions")
	assert.Contains(t, got, `extracted: {"price": 42}`)
}

func TestRenderHistoryCarriesReasoning(t *testing.T) {
	history := schemas.StepHistory{
		{StepNumber: 1, Tool: schemas.ToolNavigate, Text: "Open the store",
			Reasoning: "The goal names a specific retailer", Instruction: "https://shop.example.com"},
	}
	got := renderHistory(history)
	assert.Contains(t, got, "(reasoning: The goal names a specific retailer)")
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// The limit lands inside the second rune; the cut must back up to the
	// rune start instead of emitting a partial encoding.
	got := truncate("日本語テキスト", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日...", got)
}
