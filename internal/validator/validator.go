// Package validator checks assertions against the page. Validation only
// reads: it takes fresh snapshots and captures, never performs actions, and
// running the same check twice on an unchanged page gives the same verdict.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/contextstore"
	"github.com/xkilldash9x/stepdriver/internal/textmatch"
)

const defaultTimeout = 10 * time.Second

// Request carries one assertion and the page to check it on. Locator is nil
// when the assertion is page-level or when nothing matched the target.
type Request struct {
	SessionID string
	Intent    schemas.Intent
	Locator   *schemas.CandidateLocator
	Browser   schemas.Browser
}

// Validator evaluates assertion intents.
type Validator struct {
	cfg     config.ValidatorConfig
	store   *contextstore.Store
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a validator. Visual baselines are kept in store.
func New(cfg config.ValidatorConfig, store *contextstore.Store, logger *zap.Logger, timeout time.Duration) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Validator{cfg: cfg, store: store, logger: logger.Named("validator"), timeout: timeout}
}

// Validate checks req.Intent. A failed check is a failing verdict; Err is
// only set when the check could not be carried out.
func (v *Validator) Validate(ctx context.Context, req Request) schemas.Verdict {
	if !req.Intent.Kind.IsAssertion() {
		return schemas.Verdict{Outcome: schemas.VerdictFail, Err: fmt.Errorf("%w: %s is not an assertion", schemas.ErrUnsupportedAction, req.Intent.Kind)}
	}
	if req.Browser == nil {
		return schemas.Verdict{Outcome: schemas.VerdictFail, Err: schemas.ErrBrowserClosed}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	verdict := v.check(ctx, req)
	if verdict.Err != nil && (schemas.IsTimeout(verdict.Err) || errors.Is(ctx.Err(), context.DeadlineExceeded)) &&
		!errors.Is(verdict.Err, schemas.ErrValidationTimeout) {
		verdict.Err = fmt.Errorf("%w: %s: %v", schemas.ErrValidationTimeout, req.Intent.Kind, verdict.Err)
	}
	if verdict.Err != nil {
		verdict.Outcome = schemas.VerdictFail
	}
	v.logger.Debug("Assertion evaluated.",
		zap.String("session_id", req.SessionID),
		zap.String("kind", string(req.Intent.Kind)),
		zap.String("outcome", string(verdict.Outcome)),
		zap.Error(verdict.Err))
	return verdict
}

func (v *Validator) check(ctx context.Context, req Request) schemas.Verdict {
	if req.Intent.Kind == schemas.KindAssertVisual {
		return v.visual(ctx, req)
	}

	snap, err := req.Browser.SnapshotPage(ctx)
	if err != nil {
		return schemas.Verdict{Err: fmt.Errorf("failed to snapshot the page: %w", err)}
	}
	el, found := element(snap, req.Locator)
	params := req.Intent.Parameters

	switch req.Intent.Kind {
	case schemas.KindAssertTitle:
		return v.compare(params, snap.Title)
	case schemas.KindAssertURL:
		return v.compare(params, snap.URL)
	case schemas.KindAssertText:
		if req.Locator == nil {
			if req.Intent.HasTarget() {
				return fail(params.Value(schemas.ParamExpected), "", "no element matches "+req.Intent.Target.String())
			}
			return v.compare(params, snap.Text)
		}
		if !found {
			return fail(params.Value(schemas.ParamExpected), "", "element is no longer on the page")
		}
		return v.compare(params, textOf(el))
	case schemas.KindAssertVisible:
		switch {
		case req.Locator == nil:
			return fail("visible", "absent", "no element matches "+req.Intent.Target.String())
		case !found:
			return fail("visible", "absent", "element is no longer on the page")
		case !el.Visible:
			return fail("visible", "hidden", "")
		}
		return pass("visible", "visible", "")
	case schemas.KindAssertHidden:
		switch {
		case req.Locator == nil, !found:
			return pass("hidden", "absent", "")
		case el.Visible:
			return fail("hidden", "visible", describe(el))
		}
		return pass("hidden", "hidden", "")
	case schemas.KindAssertState:
		want := params.Value(schemas.ParamState)
		if req.Locator == nil || !found {
			return fail(want, "absent", "no element matches "+req.Intent.Target.String())
		}
		return stateVerdict(want, el)
	}
	return schemas.Verdict{Err: fmt.Errorf("%w: %s", schemas.ErrUnsupportedAction, req.Intent.Kind)}
}

// compare applies the text expectation in params to actual.
func (v *Validator) compare(params schemas.Parameters, actual string) schemas.Verdict {
	expected := params.Value(schemas.ParamExpected)
	exact := v.cfg.ExactTextByDefault
	if raw, ok := params.Get(schemas.ParamExact); ok {
		exact = strings.EqualFold(raw, "true")
	}
	mode := params.Value(schemas.ParamMatch)
	if mode == "" {
		mode = schemas.MatchContains
	}

	var ok bool
	switch mode {
	case schemas.MatchEquals:
		ok = textmatch.Equal(actual, expected, exact)
	default:
		ok = textmatch.Contains(actual, expected, exact)
	}
	shown := abbreviate(textmatch.Normalize(actual, true))
	if ok {
		return pass(expected, shown, mode)
	}
	return fail(expected, shown, mode)
}

func stateVerdict(want string, el schemas.Element) schemas.Verdict {
	var ok bool
	var actual string
	switch want {
	case "enabled":
		ok, actual = el.Enabled, flag(el.Enabled, "enabled", "disabled")
	case "disabled":
		ok, actual = !el.Enabled, flag(el.Enabled, "enabled", "disabled")
	case "checked":
		ok, actual = el.Checked, flag(el.Checked, "checked", "unchecked")
	case "unchecked":
		ok, actual = !el.Checked, flag(el.Checked, "checked", "unchecked")
	case "selected":
		ok, actual = el.Selected || el.Checked, flag(el.Selected || el.Checked, "selected", "not selected")
	case "editable":
		ok, actual = el.Editable, flag(el.Editable, "editable", "read-only")
	case "empty":
		value := strings.TrimSpace(el.Value)
		if !el.Editable && el.Tag != "select" {
			value = strings.TrimSpace(el.Text)
		}
		ok, actual = value == "", abbreviate(value)
		if ok {
			actual = "empty"
		}
	default:
		return schemas.Verdict{Err: fmt.Errorf("%w: unknown element state %q", schemas.ErrInvalidParameters, want)}
	}
	if ok {
		return pass(want, actual, "")
	}
	return fail(want, actual, describe(el))
}

// element finds the located element in a fresh snapshot.
func element(snap *schemas.PageSnapshot, loc *schemas.CandidateLocator) (schemas.Element, bool) {
	if loc == nil {
		return schemas.Element{}, false
	}
	if el, ok := snap.ElementBySelector(loc.Selector); ok {
		return el, true
	}
	return snap.ElementByRef(loc.ElementRef)
}

// textOf is what a reader sees in an element: the value of a field, the
// text of anything else.
func textOf(el schemas.Element) string {
	if (el.Editable || el.Tag == "select") && el.Value != "" {
		return el.Value
	}
	if el.Text != "" {
		return el.Text
	}
	return el.Name
}

func describe(el schemas.Element) string {
	label := el.Name
	if label == "" {
		label = el.Text
	}
	return fmt.Sprintf("%s %q", el.Tag, abbreviate(label))
}

func abbreviate(s string) string {
	if r := []rune(s); len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return s
}

func flag(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func pass(expected, actual, note string) schemas.Verdict {
	return schemas.Verdict{Outcome: schemas.VerdictPass, Expected: expected, Actual: actual, Note: note}
}

func fail(expected, actual, note string) schemas.Verdict {
	return schemas.Verdict{Outcome: schemas.VerdictFail, Expected: expected, Actual: actual, Note: note}
}
