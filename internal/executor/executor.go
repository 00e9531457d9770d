// Package executor performs the browser side of a step. Each intent kind is
// served by one handler; every handler runs under the shared retry policy, and
// a locator that went stale mid-action is re-resolved once against a fresh
// snapshot before the next attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/contextstore"
	"github.com/xkilldash9x/stepdriver/internal/resolver"
	"github.com/xkilldash9x/stepdriver/internal/retry"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultTimeout      = 30 * time.Second

	// CurrentPageAlias is bound to the destination of every navigation.
	CurrentPageAlias = "current page"
	// FocusAlias names the element the previous action touched.
	FocusAlias = "it"
)

// TargetResolver is the part of the resolver the executor needs for
// re-resolution and for waiting on elements that are not there yet.
type TargetResolver interface {
	Resolve(intent schemas.Intent, snap *schemas.PageSnapshot, sctx contextstore.SessionContext) (resolver.Resolution, error)
}

// Call is the state a handler works on. Handlers may replace Locator, for
// instance when a wait finds the element it was waiting for.
type Call struct {
	SessionID string
	Intent    schemas.Intent
	Locator   *schemas.CandidateLocator
	Browser   schemas.Browser
}

// Handler performs one kind of action.
type Handler func(ctx context.Context, call *Call) (schemas.ActionOutput, error)

// Outcome describes a successful execution.
type Outcome struct {
	Locator    *schemas.CandidateLocator
	Output     schemas.ActionOutput
	Retries    int
	Reresolved bool
	Notes      []string
}

// Option configures an Executor.
type Option func(*Executor)

// WithPollInterval sets how often waits re-check the page.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithDefaultTimeout bounds executions whose context carries no deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithHandler registers or replaces the handler for a kind.
func WithHandler(kind schemas.IntentKind, h Handler) Option {
	return func(e *Executor) { e.handlers[kind] = h }
}

// Executor dispatches intents to their handlers.
type Executor struct {
	logger         *zap.Logger
	policy         retry.Policy
	resolver       TargetResolver
	store          *contextstore.Store
	handlers       map[schemas.IntentKind]Handler
	pollInterval   time.Duration
	defaultTimeout time.Duration
}

// New creates an executor with the built-in handlers registered.
func New(policy retry.Policy, res TargetResolver, store *contextstore.Store, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		logger:         logger.Named("executor"),
		policy:         policy,
		resolver:       res,
		store:          store,
		handlers:       make(map[schemas.IntentKind]Handler),
		pollInterval:   defaultPollInterval,
		defaultTimeout: defaultTimeout,
	}
	e.registerHandlers()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handles reports whether a handler is registered for kind.
func (e *Executor) Handles(kind schemas.IntentKind) bool {
	_, ok := e.handlers[kind]
	return ok
}

// Execute runs the handler for req.Intent. Transient failures are retried
// under the policy, a stale locator is re-resolved once, and a deadline ends
// execution with ErrActionTimeout. On success the session context learns
// about the element acted upon.
func (e *Executor) Execute(ctx context.Context, req Call) (Outcome, error) {
	kind := req.Intent.Kind
	handler, ok := e.handlers[kind]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no handler for %q", schemas.ErrUnsupportedAction, kind)
	}
	if req.Browser == nil {
		return Outcome{}, fmt.Errorf("execute %s: %w", kind, schemas.ErrBrowserClosed)
	}
	if kind.RequiresTarget() && req.Locator == nil {
		return Outcome{}, fmt.Errorf("%w: %s needs a target element", schemas.ErrNoMatch, kind)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.defaultTimeout)
		defer cancel()
	}

	logger := e.logger.With(zap.String("session_id", req.SessionID), zap.String("kind", string(kind)))
	call := req
	var (
		output     schemas.ActionOutput
		reresolved bool
		notes      []string
	)

	attempts, err := e.policy.Do(ctx, func(attempt int) error {
		out, err := handler(ctx, &call)
		if err == nil {
			output = out
			return nil
		}
		err = actionError(ctx, kind, err)
		if errors.Is(err, schemas.ErrStaleLocator) && call.Locator != nil && !reresolved {
			reresolved = true
			fresh, rerr := e.reresolve(ctx, call)
			if rerr != nil {
				logger.Debug("Re-resolution after a stale locator failed.", zap.Error(rerr))
				return actionError(ctx, kind, rerr)
			}
			notes = append(notes, fmt.Sprintf("locator %s went stale; re-resolved to %s", call.Locator.Selector, fresh.Selector))
			call.Locator = fresh
		}
		return err
	}, func(err error, attempt int, wait time.Duration) {
		logger.Debug("Retrying action.", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err != nil {
		err = actionError(ctx, kind, err)
		logger.Debug("Action failed.", zap.Int("attempts", attempts), zap.Error(err))
		return Outcome{Retries: retries, Locator: call.Locator, Reresolved: reresolved, Notes: notes}, err
	}

	outcome := Outcome{
		Locator:    call.Locator,
		Output:     output,
		Retries:    retries,
		Reresolved: reresolved,
		Notes:      notes,
	}
	e.remember(call, outcome)
	return outcome, nil
}

// actionError maps deadlines onto ErrActionTimeout so they are never retried.
func actionError(ctx context.Context, kind schemas.IntentKind, err error) error {
	if err == nil || errors.Is(err, schemas.ErrActionTimeout) {
		return err
	}
	if schemas.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", schemas.ErrActionTimeout, kind, err)
	}
	return err
}

// reresolve takes a fresh snapshot and resolves the step's target again.
func (e *Executor) reresolve(ctx context.Context, call Call) (*schemas.CandidateLocator, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver to re-resolve with", schemas.ErrStaleLocator)
	}
	snap, err := call.Browser.SnapshotPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-snapshot the page: %w", err)
	}
	res, err := e.resolver.Resolve(call.Intent, snap, e.sessionContext(call.SessionID))
	if err != nil {
		return nil, err
	}
	best, ok := res.Best()
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrNoMatch, call.Intent.Target.String())
	}
	if res.Ambiguous {
		// Prefer the candidate that still carries the old label.
		for _, c := range res.Contenders() {
			if c.Description == call.Locator.Description {
				best = c
				break
			}
		}
	}
	return &best, nil
}

func (e *Executor) sessionContext(id string) contextstore.SessionContext {
	if e.store == nil {
		return contextstore.SessionContext{}
	}
	sctx, _ := e.store.Lookup(id)
	return sctx
}

// remember records the side effects of a successful action in the session.
func (e *Executor) remember(call Call, out Outcome) {
	if e.store == nil || !e.store.Exists(call.SessionID) {
		return
	}
	id := call.SessionID
	logger := e.logger.With(zap.String("session_id", id))
	record := func(what string, err error) {
		if err != nil {
			logger.Warn("Could not update the session context.", zap.String("update", what), zap.Error(err))
		}
	}

	intent := call.Intent
	switch intent.Kind {
	case schemas.KindNavigate:
		dest := out.Output.URL
		if dest == "" {
			dest = intent.Parameters.Value(schemas.ParamURL)
		}
		record("current page", e.store.BindAlias(id, CurrentPageAlias, schemas.CandidateLocator{
			Strategy:    schemas.StrategyAlias,
			Score:       1,
			Description: dest,
		}))
	case schemas.KindCapture:
		record("capture", e.store.Capture(id, captureName(intent), out.Output.Text))
	}

	if out.Locator == nil || out.Locator.Selector == "" {
		return
	}
	loc := *out.Locator
	record("focus", e.store.SetFocus(id, &loc))
	record("alias it", e.store.BindAlias(id, FocusAlias, loc))

	t := intent.Target
	if t.Role == "" && t.Ordinal == schemas.OrdinalNone && t.Region == "" && t.Phrase != "" &&
		contextstore.NormalizePhrase(t.Phrase) != FocusAlias {
		record("alias "+t.Phrase, e.store.BindAlias(id, t.Phrase, loc))
	}
}
