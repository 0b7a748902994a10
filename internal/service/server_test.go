package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/planner"
)

// httpFakeEngine is a minimal scriptable engine for driving the API
// end-to-end without a browser.
type httpFakeEngine struct {
	sessionID    string
	initErr      error
	observations []schemas.ActionDescriptor
}

func (f *httpFakeEngine) Init(ctx context.Context) error { return f.initErr }
func (f *httpFakeEngine) Navigate(ctx context.Context, url string) error { return nil }
func (f *httpFakeEngine) Act(ctx context.Context, instruction string) error {
	return nil
}
func (f *httpFakeEngine) ActDescriptor(ctx context.Context, action schemas.ActionDescriptor) error {
	return nil
}
func (f *httpFakeEngine) Extract(ctx context.Context, instruction string) (json.RawMessage, error) {
	return json.RawMessage(`{"summary": "ok"}`), nil
}
func (f *httpFakeEngine) Observe(ctx context.Context, instruction string) ([]schemas.ActionDescriptor, error) {
	return f.observations, nil
}
func (f *httpFakeEngine) GoBack(ctx context.Context) error { return nil }
func (f *httpFakeEngine) CurrentURL(ctx context.Context) (string, error) { return "https://example.com", nil }
func (f *httpFakeEngine) Screenshot(ctx context.Context) ([]byte, error) { return []byte{0x89, 'P', 'N', 'G'}, nil }
func (f *httpFakeEngine) LiveViewURL() string { return "http://localhost:9222/devtools/page/" + f.sessionID }
func (f *httpFakeEngine) Close(ctx context.Context) error { return nil }

// scriptedPlanner plans a NAVIGATE start and then whatever steps is loaded
// with, completing when the script runs out.
type scriptedPlanner struct {
	startURL  string
	startErr  error
	steps     []*schemas.Step
	callIndex int
}

func (p *scriptedPlanner) ChooseStartingPoint(ctx context.Context, goal string) (string, error) {
	if p.startErr != nil {
		return "", p.startErr
	}
	return p.startURL, nil
}

func (p *scriptedPlanner) PlanNext(ctx context.Context, goal string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
	if p.callIndex >= len(p.steps) {
		return &schemas.Step{Text: "Done.", Tool: schemas.ToolComplete}, nil
	}
	step := p.steps[p.callIndex]
	p.callIndex++
	return step, nil
}

func (p *scriptedPlanner) PlanFollowUp(ctx context.Context, originalGoal, followUp string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
	return p.PlanNext(ctx, followUp, nil, page)
}

func newTestServer(t *testing.T, stepPlanner agent.StepPlanner, initErr error) (*httptest.Server, *session.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	factory := func(sessionID string) browser.Engine {
		return &httpFakeEngine{
			sessionID: sessionID,
			initErr:   initErr,
			observations: []schemas.ActionDescriptor{
				{Description: "Option A", Method: "click", Selector: "/html[1]/body[1]/a[1]"},
				{Description: "Option B", Method: "click", Selector: "/html[1]/body[1]/a[2]"},
			},
		}
	}
	registry := session.NewRegistry(logger, factory)
	cfg := config.AgentConfig{MaxSteps: 50, ActTimeout: time.Minute, WaitCeiling: time.Second}
	orch := agent.New(logger, cfg, registry, stepPlanner, nil)

	srv := NewServer(logger, config.ServerConfig{Addr: ":0"}, orch)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, registry
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) agent.Snapshot {
	t.Helper()
	defer resp.Body.Close()
	var snap agent.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func TestStartTaskEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{startURL: "https://example.com"}, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "summarize example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decodeSnapshot(t, resp)
	assert.Equal(t, agent.StateComplete, snap.State)
	assert.Len(t, snap.Steps, 2)
	assert.NotEmpty(t, snap.RunID)
	assert.NotEmpty(t, snap.SessionID)
	assert.NotEmpty(t, snap.LiveViewURL)
}

func TestStartTaskRequiresGoal(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{startURL: "https://example.com"}, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartTaskSessionInitFailure(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{startURL: "https://example.com"}, errors.New("no chrome"))

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "anything"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStartTaskFailedRunIsServerError(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{
		startErr: &schemas.PlanningError{Phase: "starting point", Err: errors.New("model down")},
	}, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "anything"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	snap := decodeSnapshot(t, resp)
	assert.Equal(t, agent.StateFailed, snap.State)
	assert.Contains(t, snap.Error, "model down")
}

func TestGetRunEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{startURL: "https://example.com"}, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "goal"})
	snap := decodeSnapshot(t, resp)

	getResp, err := http.Get(ts.URL + "/api/runs/" + snap.RunID)
	require.NoError(t, err)
	got := decodeSnapshot(t, getResp)
	assert.Equal(t, snap.RunID, got.RunID)

	missing, err := http.Get(ts.URL + "/api/runs/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSuspendAndResumeOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{
		startURL: "https://example.com",
		steps: []*schemas.Step{
			{Text: "Pick an option", Tool: schemas.ToolObserve, WaitForUserChoice: true},
		},
	}, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "choose for me"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeSnapshot(t, resp)
	require.Equal(t, agent.StateSuspended, snap.State)
	require.Len(t, snap.PendingChoices, 2)

	resumeResp := postJSON(t, fmt.Sprintf("%s/api/runs/%s/resume", ts.URL, snap.RunID), resumeRequest{ChosenIndex: 1})
	require.Equal(t, http.StatusOK, resumeResp.StatusCode)
	final := decodeSnapshot(t, resumeResp)
	assert.Equal(t, agent.StateComplete, final.State)

	// Resuming again conflicts: the run is no longer suspended.
	again := postJSON(t, fmt.Sprintf("%s/api/runs/%s/resume", ts.URL, snap.RunID), resumeRequest{ChosenIndex: 0})
	defer again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestFollowUpEndpoint(t *testing.T) {
	p := &scriptedPlanner{startURL: "https://example.com"}
	ts, _ := newTestServer(t, p, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "first task"})
	snap := decodeSnapshot(t, resp)
	require.Equal(t, agent.StateComplete, snap.State)

	followResp := postJSON(t, ts.URL+"/api/sessions/"+snap.SessionID+"/followup", followUpRequest{Goal: "and then?"})
	require.Equal(t, http.StatusOK, followResp.StatusCode)
	follow := decodeSnapshot(t, followResp)
	assert.Equal(t, agent.StateComplete, follow.State)
	assert.NotEqual(t, snap.RunID, follow.RunID)

	missing := postJSON(t, ts.URL+"/api/sessions/unknown/followup", followUpRequest{Goal: "and then?"})
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestTerminateEndpoint(t *testing.T) {
	ts, registry := newTestServer(t, &scriptedPlanner{startURL: "https://example.com"}, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", startTaskRequest{Goal: "goal"})
	snap := decodeSnapshot(t, resp)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+snap.SessionID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	var tr terminateResponse
	require.NoError(t, json.NewDecoder(delResp.Body).Decode(&tr))
	assert.NotEmpty(t, tr.Screenshot)
	assert.Equal(t, 0, registry.Len())

	// Second terminate has no session to screenshot.
	again, err := http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	defer again.Body.Close()
	assert.Equal(t, http.StatusNoContent, again.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedPlanner{startURL: "https://example.com"}, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
