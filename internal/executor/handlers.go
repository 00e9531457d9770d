package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

// registerHandlers wires every built-in kind. Adding a verb means adding a
// kind to the schema and one entry here.
func (e *Executor) registerHandlers() {
	e.handlers[schemas.KindNavigate] = e.handleNavigate
	e.handlers[schemas.KindClick] = e.perform
	e.handlers[schemas.KindHover] = e.perform
	e.handlers[schemas.KindCheck] = e.perform
	e.handlers[schemas.KindUncheck] = e.perform
	e.handlers[schemas.KindType] = e.handleType
	e.handlers[schemas.KindSelect] = e.handleSelect
	e.handlers[schemas.KindPress] = e.handlePress
	e.handlers[schemas.KindScroll] = e.handleScroll
	e.handlers[schemas.KindWait] = e.handleWait
	e.handlers[schemas.KindScreenshot] = e.perform
	e.handlers[schemas.KindCapture] = e.handleCapture
}

// perform hands the intent to the browser unchanged.
func (e *Executor) perform(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	return c.Browser.Perform(ctx, c.Intent.Kind, c.Locator, c.Intent.Parameters)
}

func (e *Executor) handleNavigate(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	target := strings.TrimSpace(c.Intent.Parameters.Value(schemas.ParamURL))
	if target == "" {
		return schemas.ActionOutput{}, fmt.Errorf("%w: navigate needs a URL", schemas.ErrInvalidParameters)
	}
	u, err := url.Parse(target)
	if err != nil {
		return schemas.ActionOutput{}, fmt.Errorf("%w: %q is not a URL: %v", schemas.ErrInvalidParameters, target, err)
	}
	if !u.IsAbs() {
		// Relative paths are taken against the page currently shown.
		if snap, err := c.Browser.SnapshotPage(ctx); err == nil {
			if base, err := url.Parse(snap.URL); err == nil && base.IsAbs() && base.Host != "" {
				target = base.ResolveReference(u).String()
			}
		}
	}
	out, err := c.Browser.Perform(ctx, schemas.KindNavigate, nil, c.Intent.Parameters.With(schemas.ParamURL, target))
	if err != nil {
		return out, err
	}
	if out.URL == "" {
		out.URL = target
	}
	return out, nil
}

func (e *Executor) handleType(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	if _, ok := c.Intent.Parameters.Get(schemas.ParamText); !ok {
		return schemas.ActionOutput{}, fmt.Errorf("%w: type needs text", schemas.ErrInvalidParameters)
	}
	return e.perform(ctx, c)
}

func (e *Executor) handleSelect(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	if strings.TrimSpace(c.Intent.Parameters.Value(schemas.ParamValue)) == "" {
		return schemas.ActionOutput{}, fmt.Errorf("%w: select needs an option", schemas.ErrInvalidParameters)
	}
	return e.perform(ctx, c)
}

func (e *Executor) handlePress(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	if strings.TrimSpace(c.Intent.Parameters.Value(schemas.ParamKey)) == "" {
		return schemas.ActionOutput{}, fmt.Errorf("%w: press needs a key", schemas.ErrInvalidParameters)
	}
	return e.perform(ctx, c)
}

func (e *Executor) handleScroll(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	params := c.Intent.Parameters
	if c.Locator == nil && params.Value(schemas.ParamDirection) == "" {
		params = params.With(schemas.ParamDirection, "down")
	}
	return c.Browser.Perform(ctx, schemas.KindScroll, c.Locator, params)
}

func (e *Executor) handleCapture(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	if captureName(c.Intent) == "" {
		return schemas.ActionOutput{}, fmt.Errorf("%w: capture needs a variable name", schemas.ErrInvalidParameters)
	}
	return e.perform(ctx, c)
}

func captureName(intent schemas.Intent) string {
	return strings.TrimSpace(intent.Parameters.Value(schemas.ParamName))
}

func (e *Executor) handleWait(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	params := c.Intent.Parameters
	cond := schemas.WaitKind(params.Value(schemas.ParamCondition))
	if cond == "" {
		cond = schemas.WaitTime
		if c.Locator != nil || c.Intent.HasTarget() {
			cond = schemas.WaitAppear
		}
	}

	switch cond {
	case schemas.WaitTime:
		secs, err := strconv.ParseFloat(params.Value(schemas.ParamSeconds), 64)
		if err != nil || secs < 0 {
			return schemas.ActionOutput{}, fmt.Errorf("%w: wait needs a duration, got %q", schemas.ErrInvalidParameters, params.Value(schemas.ParamSeconds))
		}
		d := time.Duration(secs * float64(time.Second))
		return schemas.ActionOutput{}, c.Browser.WaitFor(ctx, schemas.WaitCondition{Kind: schemas.WaitTime, Duration: d}, 0)
	case schemas.WaitLoad:
		return schemas.ActionOutput{}, c.Browser.WaitFor(ctx, schemas.WaitCondition{Kind: schemas.WaitLoad}, remaining(ctx))
	case schemas.WaitDisappear:
		if c.Locator == nil {
			// Nothing on the page matched the target, so it is already gone.
			return schemas.ActionOutput{}, nil
		}
		return schemas.ActionOutput{}, c.Browser.WaitFor(ctx, schemas.WaitCondition{Kind: schemas.WaitDisappear, Locator: c.Locator}, remaining(ctx))
	case schemas.WaitAppear:
		return e.waitAppear(ctx, c)
	}
	return schemas.ActionOutput{}, fmt.Errorf("%w: wait condition %q", schemas.ErrInvalidParameters, cond)
}

// waitAppear polls fresh snapshots until the target resolves to a visible
// element. The target may not exist at all when the step starts.
func (e *Executor) waitAppear(ctx context.Context, c *Call) (schemas.ActionOutput, error) {
	if c.Locator == nil && !c.Intent.HasTarget() {
		return schemas.ActionOutput{}, fmt.Errorf("%w: wait for what?", schemas.ErrInvalidParameters)
	}
	if c.Locator != nil && e.resolver == nil {
		return schemas.ActionOutput{}, c.Browser.WaitFor(ctx, schemas.WaitCondition{Kind: schemas.WaitAppear, Locator: c.Locator}, remaining(ctx))
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		snap, err := c.Browser.SnapshotPage(ctx)
		if err != nil {
			return schemas.ActionOutput{}, err
		}
		if loc, ok := e.visibleMatch(c, snap); ok {
			c.Locator = loc
			return schemas.ActionOutput{URL: snap.URL}, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return schemas.ActionOutput{}, fmt.Errorf("wait for %q to appear: %w", c.Intent.Target.String(), ctx.Err())
		}
	}
}

func (e *Executor) visibleMatch(c *Call, snap *schemas.PageSnapshot) (*schemas.CandidateLocator, bool) {
	if c.Locator != nil {
		if el, ok := snap.ElementBySelector(c.Locator.Selector); ok && el.Visible {
			loc := *c.Locator
			return &loc, true
		}
	}
	if e.resolver == nil || !c.Intent.HasTarget() {
		return nil, false
	}
	res, err := e.resolver.Resolve(c.Intent, snap, e.sessionContext(c.SessionID))
	if err != nil {
		if !errors.Is(err, schemas.ErrNoMatch) {
			e.logger.Debug("Resolution failed while waiting.", zap.Error(err))
		}
		return nil, false
	}
	for _, cand := range res.Candidates {
		if el, ok := snap.ElementByRef(cand.ElementRef); ok && el.Visible {
			loc := cand
			return &loc, true
		}
	}
	return nil, false
}

// remaining is the time left before ctx's deadline, or zero for none.
func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return 0
}
