// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/browser/snapshot"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

// Session is one Chrome tab driven over the DevTools protocol. It implements
// schemas.Browser.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.Browser = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, id string, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) *Session {
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("session_id", id)),
		cfg:     cfg,
		onClose: onClose,
	}
}

// ID returns the session identifier the tab was opened for.
func (s *Session) ID() string { return s.id }

// run executes actions on the tab, bounded by both the tab lifetime and ctx.
func (s *Session) run(ctx context.Context, action string, actions ...chromedp.Action) error {
	if s.closed() {
		return schemas.ErrBrowserClosed
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	return classify(runCtx, action, chromedp.Run(runCtx, actions...))
}

// SnapshotPage tags and reads every reportable element of the current page.
func (s *Session) SnapshotPage(ctx context.Context) (*schemas.PageSnapshot, error) {
	var raw string
	if err := s.run(ctx, "snapshot", chromedp.Evaluate(fmt.Sprintf(observeScript, snapshot.RefAttr), &raw)); err != nil {
		return nil, err
	}
	return decodeSnapshot(raw, time.Now())
}

// Perform executes one action.
func (s *Session) Perform(ctx context.Context, kind schemas.IntentKind, loc *schemas.CandidateLocator, params schemas.Parameters) (schemas.ActionOutput, error) {
	var (
		err  error
		shot []byte
	)
	switch kind {
	case schemas.KindNavigate:
		err = s.navigate(ctx, params.Value(schemas.ParamURL))
	case schemas.KindClick:
		err = s.click(ctx, loc)
	case schemas.KindType:
		err = s.typeText(ctx, loc, params.Value(schemas.ParamText))
	case schemas.KindSelect:
		err = s.selectOption(ctx, loc, params.Value(schemas.ParamValue))
	case schemas.KindHover:
		err = s.hover(ctx, loc)
	case schemas.KindCheck, schemas.KindUncheck:
		err = s.setChecked(ctx, loc, kind == schemas.KindCheck)
	case schemas.KindPress:
		err = s.press(ctx, loc, params.Value(schemas.ParamKey))
	case schemas.KindScroll:
		err = s.scroll(ctx, loc, params.Value(schemas.ParamDirection))
	case schemas.KindScreenshot, schemas.KindCapture:
		shot, err = s.CaptureRegion(ctx, loc)
	default:
		err = fmt.Errorf("%w: %s", schemas.ErrUnsupportedAction, kind)
	}
	if err != nil {
		return schemas.ActionOutput{}, err
	}
	return s.output(ctx, loc, shot), nil
}

func (s *Session) output(ctx context.Context, loc *schemas.CandidateLocator, shot []byte) schemas.ActionOutput {
	out := schemas.ActionOutput{Screenshot: shot}
	if err := s.run(ctx, "location", chromedp.Location(&out.URL)); err != nil {
		s.logger.Debug("Could not read the page location after the action.", zap.Error(err))
	}
	if loc != nil {
		if p, err := s.probe(ctx, loc); err == nil && p.Exists {
			out.Text = p.Text
		}
	}
	return out
}

// CaptureRegion screenshots the element or the viewport.
func (s *Session) CaptureRegion(ctx context.Context, loc *schemas.CandidateLocator) ([]byte, error) {
	var buf []byte
	if loc == nil {
		err := s.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf))
		return buf, err
	}
	if _, err := s.ready(ctx, loc, false); err != nil {
		return nil, err
	}
	err := s.run(ctx, "element screenshot", chromedp.Screenshot(loc.Selector, &buf, chromedp.ByQuery))
	return buf, err
}

// WaitFor blocks until cond holds or timeout passes.
func (s *Session) WaitFor(ctx context.Context, cond schemas.WaitCondition, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	switch cond.Kind {
	case schemas.WaitTime:
		return s.run(ctx, "wait", chromedp.Sleep(cond.Duration))
	case schemas.WaitLoad:
		return s.run(ctx, "wait for load", chromedp.WaitReady("body", chromedp.ByQuery))
	case schemas.WaitAppear, schemas.WaitDisappear:
		if cond.Locator == nil {
			return fmt.Errorf("%w: %s wait needs a target", schemas.ErrInvalidParameters, cond.Kind)
		}
	default:
		return fmt.Errorf("%w: wait kind %q", schemas.ErrUnsupportedAction, cond.Kind)
	}

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := s.probe(ctx, cond.Locator)
		if err != nil && !schemas.IsTransient(err) {
			return err
		}
		shown := err == nil && p.Exists && p.Visible
		if shown == (cond.Kind == schemas.WaitAppear) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", cond.Kind, ctx.Err())
		}
	}
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser tab.")
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// -- Actions --

func (s *Session) navigate(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: navigate needs a URL", schemas.ErrInvalidParameters)
	}
	s.logger.Debug("Navigating to URL", zap.String("url", url))
	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := s.run(navCtx, "navigate", chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}
	return s.settle(ctx)
}

// settle gives the page its configured quiet period after an action.
func (s *Session) settle(ctx context.Context) error {
	if s.cfg.PostLoadWait <= 0 {
		return nil
	}
	return s.run(ctx, "settle", chromedp.Sleep(s.cfg.PostLoadWait))
}

func (s *Session) probe(ctx context.Context, loc *schemas.CandidateLocator) (probe, error) {
	var raw string
	if err := s.run(ctx, "probe", chromedp.Evaluate(fmt.Sprintf(probeScript, loc.Selector), &raw)); err != nil {
		return probe{}, err
	}
	return decodeProbe(raw)
}

// ready checks that loc still addresses a live element able to take an
// action. strict additionally requires it to be enabled.
func (s *Session) ready(ctx context.Context, loc *schemas.CandidateLocator, strict bool) (probe, error) {
	if loc == nil || loc.Selector == "" {
		return probe{}, fmt.Errorf("%w: action needs a target element", schemas.ErrInvalidParameters)
	}
	p, err := s.probe(ctx, loc)
	if err != nil {
		return probe{}, err
	}
	switch {
	case !p.Exists:
		if ref, ok := snapshot.RefFromSelector(loc.Selector); ok {
			return p, fmt.Errorf("%w: ref %s", schemas.ErrStaleLocator, ref)
		}
		return p, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, loc.Selector)
	case !p.Visible:
		return p, fmt.Errorf("%w: %s is hidden", schemas.ErrElementNotInteractable, loc.Selector)
	case strict && !p.Enabled:
		return p, fmt.Errorf("%w: %s is disabled", schemas.ErrElementNotInteractable, loc.Selector)
	}
	return p, nil
}

func (s *Session) click(ctx context.Context, loc *schemas.CandidateLocator) error {
	if _, err := s.ready(ctx, loc, true); err != nil {
		return err
	}
	err := s.run(ctx, "click",
		chromedp.ScrollIntoView(loc.Selector, chromedp.ByQuery),
		chromedp.Click(loc.Selector, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	return s.settle(ctx)
}

func (s *Session) typeText(ctx context.Context, loc *schemas.CandidateLocator, text string) error {
	p, err := s.ready(ctx, loc, true)
	if err != nil {
		return err
	}
	if p.Tag != "input" && p.Tag != "textarea" && p.Tag != "" {
		var editable bool
		if err := s.run(ctx, "probe editable", chromedp.Evaluate(fmt.Sprintf("document.querySelector(%q).isContentEditable", loc.Selector), &editable)); err != nil {
			return err
		}
		if !editable {
			return fmt.Errorf("%w: %s element does not accept text", schemas.ErrElementNotInteractable, p.Tag)
		}
	}
	s.logger.Debug("Typing into element", zap.String("selector", loc.Selector), zap.Int("text_length", len(text)))
	actions := []chromedp.Action{chromedp.Clear(loc.Selector, chromedp.ByQuery)}
	if text != "" {
		actions = append(actions, chromedp.SendKeys(loc.Selector, text, chromedp.ByQuery))
	}
	return s.run(ctx, "type", actions...)
}

func (s *Session) selectOption(ctx context.Context, loc *schemas.CandidateLocator, value string) error {
	if _, err := s.ready(ctx, loc, true); err != nil {
		return err
	}
	var result string
	if err := s.run(ctx, "select", chromedp.Evaluate(fmt.Sprintf(selectScript, loc.Selector, value), &result)); err != nil {
		return err
	}
	switch result {
	case "ok":
		return s.settle(ctx)
	case "no-option":
		return fmt.Errorf("%w: no option %q", schemas.ErrElementNotFound, value)
	default:
		return fmt.Errorf("%w: element is not a dropdown", schemas.ErrElementNotInteractable)
	}
}

func (s *Session) hover(ctx context.Context, loc *schemas.CandidateLocator) error {
	if _, err := s.ready(ctx, loc, false); err != nil {
		return err
	}
	var nodes []*cdp.Node
	return s.run(ctx, "hover",
		chromedp.ScrollIntoView(loc.Selector, chromedp.ByQuery),
		chromedp.Nodes(loc.Selector, &nodes, chromedp.ByQuery),
		chromedp.ActionFunc(func(c context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("%w: %s", schemas.ErrStaleLocator, loc.Selector)
			}
			box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(c)
			if err != nil {
				return err
			}
			if len(box.Content) < 8 {
				return fmt.Errorf("%w: element has no box", schemas.ErrElementNotInteractable)
			}
			x := (box.Content[0] + box.Content[4]) / 2
			y := (box.Content[1] + box.Content[5]) / 2
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(c)
		}),
	)
}

func (s *Session) setChecked(ctx context.Context, loc *schemas.CandidateLocator, want bool) error {
	p, err := s.ready(ctx, loc, true)
	if err != nil {
		return err
	}
	if p.Type == "radio" && !want {
		return fmt.Errorf("%w: a radio button cannot be unchecked directly", schemas.ErrInvalidParameters)
	}
	if p.Checked == want {
		return nil
	}
	return s.click(ctx, loc)
}

var keyNames = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"up":         kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"down":       kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"left":       kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"right":      kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

func (s *Session) press(ctx context.Context, loc *schemas.CandidateLocator, key string) error {
	name := strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(key))
	seq, ok := keyNames[name]
	if !ok {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("%w: unknown key %q", schemas.ErrInvalidParameters, key)
		}
		seq = key
	}
	if loc == nil {
		return s.run(ctx, "press", chromedp.KeyEvent(seq))
	}
	if _, err := s.ready(ctx, loc, true); err != nil {
		return err
	}
	if err := s.run(ctx, "press", chromedp.SendKeys(loc.Selector, seq, chromedp.ByQuery)); err != nil {
		return err
	}
	return s.settle(ctx)
}

func (s *Session) scroll(ctx context.Context, loc *schemas.CandidateLocator, direction string) error {
	if loc != nil {
		if _, err := s.ready(ctx, loc, false); err != nil {
			return err
		}
		return s.run(ctx, "scroll", chromedp.ScrollIntoView(loc.Selector, chromedp.ByQuery))
	}
	direction = strings.ToLower(direction)
	switch direction {
	case "up", "down", "top", "bottom", "":
	default:
		return fmt.Errorf("%w: scroll direction %q", schemas.ErrInvalidParameters, direction)
	}
	var ok bool
	return s.run(ctx, "scroll", chromedp.Evaluate(fmt.Sprintf(scrollScript, direction), &ok))
}
