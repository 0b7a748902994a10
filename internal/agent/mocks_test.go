package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/planner"
)

// mockPlanner implements StepPlanner.
type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) ChooseStartingPoint(ctx context.Context, goal string) (string, error) {
	args := m.Called(ctx, goal)
	return args.String(0), args.Error(1)
}

func (m *mockPlanner) PlanNext(ctx context.Context, goal string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
	args := m.Called(ctx, goal, history, page)
	if step := args.Get(0); step != nil {
		return step.(*schemas.Step), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlanner) PlanFollowUp(ctx context.Context, originalGoal, followUp string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
	args := m.Called(ctx, originalGoal, followUp, history, page)
	if step := args.Get(0); step != nil {
		return step.(*schemas.Step), args.Error(1)
	}
	return nil, args.Error(1)
}

// funcPlanner is a StepPlanner built from function fields, for tests whose
// plans depend on per-run state.
type funcPlanner struct {
	chooseFn func(ctx context.Context, goal string) (string, error)
	nextFn   func(ctx context.Context, goal string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error)
	followFn func(ctx context.Context, originalGoal, followUp string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error)
}

func (f *funcPlanner) ChooseStartingPoint(ctx context.Context, goal string) (string, error) {
	return f.chooseFn(ctx, goal)
}

func (f *funcPlanner) PlanNext(ctx context.Context, goal string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
	return f.nextFn(ctx, goal, history, page)
}

func (f *funcPlanner) PlanFollowUp(ctx context.Context, originalGoal, followUp string, history schemas.StepHistory, page planner.PageState) (*schemas.Step, error) {
	return f.followFn(ctx, originalGoal, followUp, history, page)
}

// callWindow records when one engine call began and ended, for asserting
// that calls against a shared session never overlap.
type callWindow struct {
	sessionID string
	method    string
	start     time.Time
	end       time.Time
}

// stubEngine is an instrumented in-memory engine. Behavior is scripted per
// method; every call is recorded with its time window.
type stubEngine struct {
	sessionID string

	mu      sync.Mutex
	windows []callWindow

	initErr      error
	navigateErr  error
	actErr       error
	extractData  json.RawMessage
	extractErr   error
	observations []schemas.ActionDescriptor
	observeErr   error
	actions      []schemas.ActionDescriptor // descriptors passed to ActDescriptor
	callDelay    time.Duration

	closed bool
}

func (s *stubEngine) record(method string) func() {
	start := time.Now()
	if s.callDelay > 0 {
		time.Sleep(s.callDelay)
	}
	return func() {
		s.mu.Lock()
		s.windows = append(s.windows, callWindow{
			sessionID: s.sessionID,
			method:    method,
			start:     start,
			end:       time.Now(),
		})
		s.mu.Unlock()
	}
}

func (s *stubEngine) callWindows() []callWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]callWindow, len(s.windows))
	copy(out, s.windows)
	return out
}

func (s *stubEngine) actDescriptors() []schemas.ActionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.ActionDescriptor, len(s.actions))
	copy(out, s.actions)
	return out
}

func (s *stubEngine) Init(ctx context.Context) error { return s.initErr }

func (s *stubEngine) Navigate(ctx context.Context, url string) error {
	defer s.record("navigate")()
	return s.navigateErr
}

func (s *stubEngine) Act(ctx context.Context, instruction string) error {
	defer s.record("act")()
	return s.actErr
}

func (s *stubEngine) ActDescriptor(ctx context.Context, action schemas.ActionDescriptor) error {
	defer s.record("act_descriptor")()
	s.mu.Lock()
	s.actions = append(s.actions, action)
	s.mu.Unlock()
	return s.actErr
}

func (s *stubEngine) Extract(ctx context.Context, instruction string) (json.RawMessage, error) {
	defer s.record("extract")()
	return s.extractData, s.extractErr
}

func (s *stubEngine) Observe(ctx context.Context, instruction string) ([]schemas.ActionDescriptor, error) {
	defer s.record("observe")()
	return s.observations, s.observeErr
}

func (s *stubEngine) GoBack(ctx context.Context) error {
	defer s.record("go_back")()
	return nil
}

func (s *stubEngine) CurrentURL(ctx context.Context) (string, error) {
	return "https://example.com/current", nil
}

func (s *stubEngine) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *stubEngine) LiveViewURL() string {
	return "http://localhost:9222/devtools/page/" + s.sessionID
}

func (s *stubEngine) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubEngine) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stubFactory hands out stubEngines and remembers them by session id.
type stubFactory struct {
	mu      sync.Mutex
	engines map[string]*stubEngine
	// template is copied into each new engine to script its behavior.
	template stubEngine
}

func newStubFactory() *stubFactory {
	return &stubFactory{engines: make(map[string]*stubEngine)}
}

func (f *stubFactory) factory(sessionID string) browser.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &stubEngine{
		sessionID:    sessionID,
		initErr:      f.template.initErr,
		navigateErr:  f.template.navigateErr,
		actErr:       f.template.actErr,
		extractData:  f.template.extractData,
		extractErr:   f.template.extractErr,
		observations: f.template.observations,
		observeErr:   f.template.observeErr,
		callDelay:    f.template.callDelay,
	}
	f.engines[sessionID] = e
	return e
}

func (f *stubFactory) engine(sessionID string) *stubEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[sessionID]
}
