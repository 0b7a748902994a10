// internal/browser/engine.go
package browser

import (
	"context"
	"encoding/json"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Engine is the browser-automation contract the orchestration core consumes.
// Any operation may fail with an engine-specific error; the core treats every
// such error uniformly as an execution failure for the step in flight. A
// failed operation must leave the engine usable for subsequent calls.
type Engine interface {
	// Init starts the underlying browser context. Called exactly once per
	// engine, before any other method.
	Init(ctx context.Context) error
	// Navigate loads the URL, returning once the navigation has committed
	// (not once the page has fully loaded).
	Navigate(ctx context.Context, url string) error
	// Act resolves a natural-language directive to a page interaction and
	// performs it.
	Act(ctx context.Context, instruction string) error
	// ActDescriptor replays a previously observed action.
	ActDescriptor(ctx context.Context, action schemas.ActionDescriptor) error
	// Extract pulls structured data from the current page per the
	// instruction. The payload shape is engine-determined and opaque to the
	// orchestrator.
	Extract(ctx context.Context, instruction string) (json.RawMessage, error)
	// Observe enumerates currently available actions matching the
	// instruction.
	Observe(ctx context.Context, instruction string) ([]schemas.ActionDescriptor, error)
	// GoBack pops one entry of browser history.
	GoBack(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// LiveViewURL returns a human-viewable debug URL for the in-progress
	// browser, or "" when none is available.
	LiveViewURL() string
	Close(ctx context.Context) error
}

// Factory constructs an uninitialized Engine for a session id. The session
// registry owns calling Init and Close.
type Factory func(sessionID string) Engine
