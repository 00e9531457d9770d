// File: internal/orchestrator/orchestrator.go
// Description: The step orchestrator. It owns the per-session browsers and
// drives each step through parse, resolve, execute or validate, and record.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/contextstore"
	"github.com/xkilldash9x/stepdriver/internal/executor"
	"github.com/xkilldash9x/stepdriver/internal/observability"
	"github.com/xkilldash9x/stepdriver/internal/parser"
	"github.com/xkilldash9x/stepdriver/internal/resolver"
	"github.com/xkilldash9x/stepdriver/internal/retry"
	"github.com/xkilldash9x/stepdriver/internal/validator"
)

const (
	defaultStepTimeout    = 30 * time.Second
	defaultReaperInterval = time.Minute
	closeTimeout          = 5 * time.Second
)

var _ schemas.StepRunner = (*Orchestrator)(nil)

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	store        *contextstore.Store
	suggester    schemas.IntentSuggester
	metrics      *observability.Metrics
	executorOpts []executor.Option
	now          func() time.Time
}

// WithStore shares an existing context store instead of creating one.
func WithStore(s *contextstore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSuggester installs the fallback intent suggester. It is only consulted
// when parser.suggester_enabled is set.
func WithSuggester(s schemas.IntentSuggester) Option {
	return func(o *options) { o.suggester = s }
}

// WithMetrics records step outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithExecutorOptions passes options through to the action executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, opts...) }
}

// WithClock replaces time.Now for step timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Orchestrator implements schemas.StepRunner. Steps of one session run
// strictly one at a time; steps of different sessions run concurrently.
type Orchestrator struct {
	cfg       config.Interface
	logger    *zap.Logger
	factory   schemas.BrowserFactory
	store     *contextstore.Store
	parser    *parser.Parser
	resolver  *resolver.Resolver
	executor  *executor.Executor
	validator *validator.Validator
	metrics   *observability.Metrics
	now       func() time.Time

	mu       sync.Mutex
	browsers map[string]schemas.Browser

	// stateLock guards the idle reaper.
	stateLock    sync.Mutex
	reaperCancel context.CancelFunc
	wg           sync.WaitGroup
}

// New wires the pipeline stages from configuration.
func New(cfg config.Interface, logger *zap.Logger, factory schemas.BrowserFactory, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("browser factory cannot be nil")
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = contextstore.New(logger)
	}

	var parserOpts []parser.Option
	if cfg.Parser().SuggesterEnabled && o.suggester != nil {
		parserOpts = append(parserOpts, parser.WithSuggester(o.suggester))
	}
	res := resolver.New(cfg.Resolver(), logger)

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "orchestrator")),
		factory:   factory,
		store:     o.store,
		parser:    parser.New(cfg.Parser(), logger, parserOpts...),
		resolver:  res,
		executor:  executor.New(retry.NewPolicy(cfg.Retry()), res, o.store, logger, o.executorOpts...),
		validator: validator.New(cfg.Validator(), o.store, logger, cfg.Pipeline().ValidationTimeout),
		metrics:   o.metrics,
		now:       o.now,
		browsers:  make(map[string]schemas.Browser),
	}, nil
}

// Store exposes the context store, for exports and inspection.
func (o *Orchestrator) Store() *contextstore.Store { return o.store }

// StartSession opens a browser and an empty context under a fresh id.
func (o *Orchestrator) StartSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	b, err := o.factory.NewBrowser(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to open a browser for session %s: %w", id, err)
	}

	o.mu.Lock()
	o.browsers[id] = b
	o.mu.Unlock()
	o.store.Get(id)
	o.metrics.SessionStarted()

	observability.ForSession(o.logger, id).Info("Session started.")
	return id, nil
}

// EndSession waits for any running step, then closes the browser and
// discards the context.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	release, err := o.store.Acquire(ctx, sessionID, true)
	if err != nil {
		if b := o.dropBrowser(sessionID); b != nil && errors.Is(err, schemas.ErrSessionNotFound) {
			// The context expired but its browser is still open.
			return b.Close(ctx)
		}
		return err
	}
	defer release()
	return o.teardown(ctx, sessionID, "ended")
}

// Close ends every open session and stops the reaper.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.Stop()
	var errs []error
	for _, id := range o.store.Sessions() {
		if err := o.EndSession(ctx, id); err != nil && !errors.Is(err, schemas.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) teardown(ctx context.Context, id, reason string) error {
	o.store.Delete(id)
	b := o.dropBrowser(id)
	o.metrics.SessionEnded()
	observability.ForSession(o.logger, id).Info("Session closed.", zap.String("reason", reason))
	if b == nil {
		return nil
	}
	if err := b.Close(ctx); err != nil && !errors.Is(err, schemas.ErrBrowserClosed) {
		return fmt.Errorf("failed to close browser of session %s: %w", id, err)
	}
	return nil
}

func (o *Orchestrator) browser(id string) schemas.Browser {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.browsers[id]
}

func (o *Orchestrator) dropBrowser(id string) schemas.Browser {
	o.mu.Lock()
	defer o.mu.Unlock()
	b := o.browsers[id]
	delete(o.browsers, id)
	return b
}

// Start launches the idle-session reaper. Calling Start twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	ttl := o.cfg.Pipeline().SessionIdleTimeout
	if ttl <= 0 {
		o.logger.Info("Session idle timeout disabled, reaper not started.")
		return
	}

	o.stateLock.Lock()
	defer o.stateLock.Unlock()
	if o.reaperCancel != nil {
		o.logger.Warn("Reaper already running.")
		return
	}
	interval := o.cfg.Pipeline().ReaperInterval
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	o.reaperCancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Reap(ctx, ttl)
			}
		}
	}()
}

// Stop halts the reaper and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.stateLock.Lock()
	cancel := o.reaperCancel
	o.reaperCancel = nil
	o.stateLock.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

// Reap ends sessions idle for longer than ttl and returns their ids.
func (o *Orchestrator) Reap(ctx context.Context, ttl time.Duration) []string {
	expired := o.store.ExpireIdle(ttl)
	for _, id := range expired {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		if err := o.teardown(closeCtx, id, "idle"); err != nil {
			o.logger.Warn("Failed to close an idle session.", zap.String("session_id", id), zap.Error(err))
		}
		cancel()
	}
	return expired
}
