// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

const shutdownGracePeriod = 10 * time.Second

// Manager owns the Chrome process and opens one tab per session. It
// implements schemas.BrowserFactory. The browser is launched lazily on the
// first session.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	initOnce      sync.Once
	initErr       error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

var _ schemas.BrowserFactory = (*Manager)(nil)

// NewManager creates a manager. Nothing is launched until NewBrowser.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}
}

// ExecOptions turns the browser configuration into allocator options.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
		// The browser outlives any single request, so it hangs off Background.
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), ExecOptions(m.cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(m.logger.Sugar().Debugf))
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		m.allocCancel, m.browserCtx, m.browserCancel = allocCancel, browserCtx, browserCancel
	})
	return m.initErr
}

// NewBrowser opens a fresh tab for sessionID.
func (m *Manager) NewBrowser(ctx context.Context, sessionID string) (schemas.Browser, error) {
	if err := m.initialize(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	m.wg.Add(1)
	session := newSession(tabCtx, tabCancel, sessionID, m.cfg, m.logger, func() {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.wg.Done()
	})

	tasks := chromedp.Tasks{}
	if w, h := m.cfg.Viewport["width"], m.cfg.Viewport["height"]; w > 0 && h > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(w), int64(h)))
	}
	if len(m.cfg.Headers) > 0 {
		headers := make(network.Headers, len(m.cfg.Headers))
		for k, v := range m.cfg.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	if err := session.run(ctx, "open tab", tasks); err != nil {
		_ = session.Close(context.Background())
		return nil, fmt.Errorf("failed to initialize tab: %w", err)
	}

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()
	m.logger.Debug("Tab opened.", zap.String("session_id", sessionID))
	return session, nil
}

// Close closes every open tab and shuts the browser down.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()
	for _, s := range open {
		_ = s.Close(ctx)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timed out waiting for tabs to close.")
	}

	if m.browserCancel != nil {
		m.browserCancel()
		m.allocCancel()
	}
	m.logger.Info("Browser shut down.")
	return nil
}
