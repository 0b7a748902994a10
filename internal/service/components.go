// internal/service/components.go
package service

import (
	"context"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/planner"
)

// Components holds the wired application graph behind the API surface. It
// centralizes lifecycle management so every entry point (server, one-shot
// CLI run) tears the stack down the same way.
type Components struct {
	Config       *config.Config
	LLM          schemas.LLMClient
	Registry     *session.Registry
	Planner      *planner.Planner
	Bus          *agent.EventBus
	Orchestrator *agent.Orchestrator
}

// BuildComponents assembles the reasoning client, browser factory, session
// registry, planner, and orchestrator from configuration.
func BuildComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := observability.GetLogger()

	llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	factory := browser.NewFactory(cfg.Browser, llm, logger)
	registry := session.NewRegistry(logger, factory)
	stepPlanner := planner.New(logger, llm)
	bus := agent.NewEventBus(logger, 256)
	orchestrator := agent.New(logger, cfg.Agent, registry, stepPlanner, bus)

	return &Components{
		Config:       cfg,
		LLM:          llm,
		Registry:     registry,
		Planner:      stepPlanner,
		Bus:          bus,
		Orchestrator: orchestrator,
	}, nil
}

// Shutdown releases every browser session and closes the event bus.
func (c *Components) Shutdown(ctx context.Context) {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")
	c.Orchestrator.Shutdown(ctx)
	logger.Info("All components shut down.")
}
