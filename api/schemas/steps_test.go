package schemas

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTool(t *testing.T) {
	cases := []struct {
		raw  string
		want Tool
	}{
		{"NAVIGATE", ToolNavigate},
		{"goto", ToolNavigate},
		{"GOTO", ToolNavigate},
		{"navback", ToolNavigateBack},
		{"NAVIGATE_BACK", ToolNavigateBack},
		{"CLOSE", ToolComplete},
		{"complete", ToolComplete},
		{" act ", ToolAct},
		{"OBSERVE", ToolObserve},
		{"WAIT", ToolWait},
		{"EXTRACT", ToolExtract},
	}
	for _, tc := range cases {
		got, err := NormalizeTool(tc.raw)
		require.NoError(t, err, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, got, "raw=%q", tc.raw)
	}
}

func TestNormalizeToolRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "FLY", "CLICK", "NAVIGATEBACK"} {
		_, err := NormalizeTool(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestToolTerminal(t *testing.T) {
	assert.True(t, ToolComplete.Terminal())
	assert.False(t, ToolObserve.Terminal())
	assert.False(t, ToolNavigate.Terminal())
}

func TestStepValidateFlagScoping(t *testing.T) {
	ok := Step{Text: "click login", Tool: ToolAct, Instruction: "click the login button", UseStructuredAction: false, StepNumber: 2}
	require.NoError(t, ok.Validate())

	structured := Step{Text: "replay", Tool: ToolAct, Instruction: `{"method":"click"}`, UseStructuredAction: true, StepNumber: 3}
	require.NoError(t, structured.Validate())

	badFlag := Step{Text: "observe", Tool: ToolObserve, Instruction: "find links", UseStructuredAction: true, StepNumber: 1}
	assert.Error(t, badFlag.Validate())

	badChoice := Step{Text: "wait", Tool: ToolWait, Instruction: "1000", WaitForUserChoice: true, StepNumber: 1}
	assert.Error(t, badChoice.Validate())

	noURL := Step{Text: "go", Tool: ToolNavigate, StepNumber: 1}
	assert.Error(t, noURL.Validate())
}

func TestStepHistoryNextStepNumber(t *testing.T) {
	var h StepHistory
	assert.Equal(t, 1, h.NextStepNumber())
	h = append(h, Step{StepNumber: 1}, Step{StepNumber: 2})
	assert.Equal(t, 3, h.NextStepNumber())
}

func TestStepRoundTripsThroughJSON(t *testing.T) {
	original := Step{
		Text:        "List the shipping options",
		Reasoning:   "The user must pick one.",
		Tool:        ToolObserve,
		Instruction: "shipping options",
		StepNumber:  4,
		Observation: []ActionDescriptor{
			{Description: "Express", Method: "click", Selector: "/html[1]/body[1]/a[2]", Arguments: []string{""}},
		},
		WaitForUserChoice: true,
	}

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Step
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("step changed across encoding (-want +got):\n%s", diff)
	}
}
