// internal/browser/session/registry.go
// Package session tracks live browser sessions and serializes access to them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
)

// Handle is a registered browser session. It owns the engine and the
// execution lock that keeps concurrent runs on the same session from
// interleaving their page interactions.
type Handle struct {
	id          string
	engine      browser.Engine
	liveViewURL string
	createdAt   time.Time

	execMu sync.Mutex
}

// ID returns the session identifier.
func (h *Handle) ID() string { return h.id }

// Engine returns the underlying browser engine.
func (h *Handle) Engine() browser.Engine { return h.engine }

// LiveViewURL returns the devtools inspection URL for the session's tab, or
// an empty string when live view is unavailable.
func (h *Handle) LiveViewURL() string { return h.liveViewURL }

// CreatedAt returns when the session was provisioned.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Exclusive runs fn while holding the session's execution lock. Two runs
// sharing a session observe each other's page mutations only at step
// boundaries, never mid-action.
func (h *Handle) Exclusive(fn func() error) error {
	h.execMu.Lock()
	defer h.execMu.Unlock()
	return fn()
}

// Registry provisions browser sessions on demand and guarantees at most one
// live engine per session id.
type Registry struct {
	logger  *zap.Logger
	factory browser.Factory

	mu       sync.RWMutex
	sessions map[string]*Handle

	group singleflight.Group
}

// NewRegistry creates an empty registry backed by the given engine factory.
func NewRegistry(logger *zap.Logger, factory browser.Factory) *Registry {
	return &Registry{
		logger:   logger.Named("session_registry"),
		factory:  factory,
		sessions: make(map[string]*Handle),
	}
}

// Acquire returns the handle for the given session id, provisioning a new
// browser if none exists. An empty id requests a fresh session. Concurrent
// acquisitions of the same id share a single provisioning attempt.
func (r *Registry) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	r.mu.RLock()
	handle, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return handle, nil
	}

	result, err, _ := r.group.Do(sessionID, func() (any, error) {
		// Another caller may have finished provisioning between the read
		// above and the singleflight admission.
		r.mu.RLock()
		existing, ok := r.sessions[sessionID]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}
		return r.provision(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Handle), nil
}

func (r *Registry) provision(ctx context.Context, sessionID string) (*Handle, error) {
	r.logger.Info("Provisioning new browser session", zap.String("session_id", sessionID))

	engine := r.factory(sessionID)
	if err := engine.Init(ctx); err != nil {
		return nil, &schemas.SessionInitError{SessionID: sessionID, Err: err}
	}

	handle := &Handle{
		id:          sessionID,
		engine:      engine,
		liveViewURL: engine.LiveViewURL(),
		createdAt:   time.Now(),
	}

	r.mu.Lock()
	r.sessions[sessionID] = handle
	r.mu.Unlock()
	return handle, nil
}

// Get returns a registered handle without provisioning.
func (r *Registry) Get(sessionID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.sessions[sessionID]
	return handle, ok
}

// Release closes the session's browser and removes it from the registry.
// Releasing an unknown or already-released session is a no-op.
func (r *Registry) Release(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	handle, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("Release of unregistered session ignored", zap.String("session_id", sessionID))
		return nil
	}

	r.logger.Info("Releasing browser session", zap.String("session_id", sessionID))
	if err := handle.engine.Close(ctx); err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	return nil
}

// Shutdown releases every registered session. Used on service teardown.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.sessions = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		if err := h.engine.Close(ctx); err != nil {
			r.logger.Warn("Failed to close session during shutdown",
				zap.String("session_id", h.id), zap.Error(err))
		}
	}
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
