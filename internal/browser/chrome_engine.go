// internal/browser/chrome_engine.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// ChromeEngine drives a dedicated headless Chrome tab via chromedp. The
// natural-language operations (Act, Extract, Observe) are grounded through a
// reasoning-service client: the engine enumerates the page's interactable
// elements and lets the model map the instruction onto them.
type ChromeEngine struct {
	sessionID string
	cfg       config.BrowserConfig
	grounder  schemas.LLMClient
	logger    *zap.Logger

	// mu guards the lifecycle fields below. Close may race an in-flight
	// step when a session is terminated mid-run.
	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	liveViewURL string
}

var _ Engine = (*ChromeEngine)(nil)

// NewChromeEngine constructs an uninitialized engine bound to a session id.
func NewChromeEngine(sessionID string, cfg config.BrowserConfig, grounder schemas.LLMClient, logger *zap.Logger) *ChromeEngine {
	return &ChromeEngine{
		sessionID: sessionID,
		cfg:       cfg,
		grounder:  grounder,
		logger:    logger.Named("chrome_engine").With(zap.String("session_id", sessionID)),
	}
}

// NewFactory returns a Factory producing ChromeEngines that share the given
// configuration and grounding client.
func NewFactory(cfg config.BrowserConfig, grounder schemas.LLMClient, logger *zap.Logger) Factory {
	return func(sessionID string) Engine {
		return NewChromeEngine(sessionID, cfg, grounder, logger)
	}
}

// Init launches the browser and opens the session's tab.
func (e *ChromeEngine) Init(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(e.cfg.WindowWidth, e.cfg.WindowHeight),
	)
	if e.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(e.cfg.UserAgent))
	}

	// The tab must outlive the Init call, so it hangs off Background rather
	// than the caller's context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser process and attaches the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	e.mu.Lock()
	e.allocCancel = allocCancel
	e.tabCtx = tabCtx
	e.tabCancel = tabCancel
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		e.liveViewURL = fmt.Sprintf("%s/devtools/page/%s",
			strings.TrimRight(e.cfg.DevtoolsURL, "/"), c.Target.TargetID)
	}
	e.mu.Unlock()

	e.logger.Info("Browser session initialized.", zap.Bool("headless", e.cfg.Headless))
	return nil
}

// run executes chromedp actions against the session tab, honoring both the
// caller's context and the tab lifecycle.
func (e *ChromeEngine) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	e.mu.Lock()
	tabCtx := e.tabCtx
	e.mu.Unlock()
	if tabCtx == nil {
		return fmt.Errorf("engine not initialized")
	}
	runCtx := tabCtx
	var cancels []context.CancelFunc
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		cancels = append(cancels, cancel)
	}
	// Propagate the caller's cancellation into the tab-scoped context.
	if ctx != nil && ctx.Done() != nil {
		var cancel context.CancelFunc
		runCtx, cancel = mergeCancel(runCtx, ctx)
		cancels = append(cancels, cancel)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()
	return chromedp.Run(runCtx, actions...)
}

// mergeCancel returns a child of primary that is additionally canceled when
// secondary is done.
func mergeCancel(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}

// Navigate loads the URL and returns once the navigation commits; it does not
// wait for the load event, matching how an operator-style agent proceeds as
// soon as the document starts rendering.
func (e *ChromeEngine) Navigate(ctx context.Context, url string) error {
	e.logger.Info("Navigating", zap.String("url", url))
	err := e.run(ctx, e.cfg.NavigationTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("navigation failed: %s", errText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to navigate to %q: %w", url, err)
	}
	// Give the document a beat to start painting before the next decision.
	_ = e.run(ctx, 0, chromedp.Sleep(500*time.Millisecond))
	return nil
}

// GoBack pops one browser history entry.
func (e *ChromeEngine) GoBack(ctx context.Context) error {
	if err := e.run(ctx, e.cfg.NavigationTimeout, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return nil
}

// CurrentURL returns the tab's current location.
func (e *ChromeEngine) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := e.run(ctx, 10*time.Second, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// Screenshot captures the viewport as PNG bytes.
func (e *ChromeEngine) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := e.run(ctx, 15*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// LiveViewURL returns the DevTools page URL for this tab.
func (e *ChromeEngine) LiveViewURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveViewURL
}

// Close tears down the tab and the browser process. Safe to call more than
// once and while a step is executing; canceling the tab context unblocks any
// in-flight run.
func (e *ChromeEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	tabCtx := e.tabCtx
	tabCancel := e.tabCancel
	allocCancel := e.allocCancel
	e.tabCtx = nil
	e.tabCancel = nil
	e.allocCancel = nil
	e.mu.Unlock()

	if tabCtx == nil {
		return nil
	}
	e.logger.Info("Closing browser session.")
	// Graceful tab close first, then hard-cancel the allocator.
	if err := chromedp.Cancel(tabCtx); err != nil {
		e.logger.Debug("Graceful browser close failed.", zap.Error(err))
	}
	tabCancel()
	if allocCancel != nil {
		allocCancel()
	}
	return nil
}
