// Package dompage is a browser that needs no browser: pages are fetched over
// HTTP, parsed into a DOM and driven in memory. Links navigate, forms submit,
// inputs take values and checkboxes toggle. Scripts never run, so it suits
// server-rendered sites and deterministic tests.
package dompage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/browser/snapshot"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

const blankPage = "<html><head></head><body></body></html>"

// ActionHook runs before every Perform call. Returning an error aborts the
// action with that error.
type ActionHook func(ctx context.Context, kind schemas.IntentKind, p *Page) error

// Option configures a Page.
type Option func(*Page)

// WithHTTPClient replaces the default client, which keeps its own cookie jar.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

// WithActionHook installs a hook run before each action.
func WithActionHook(h ActionHook) Option {
	return func(p *Page) { p.hook = h }
}

// Page is one in-memory browser tab. It implements schemas.Browser.
type Page struct {
	id      string
	logger  *zap.Logger
	cfg     config.BrowserConfig
	client  *http.Client
	builder *snapshot.Builder
	hook    ActionHook

	mu      sync.RWMutex
	url     *url.URL
	doc     *goquery.Document
	hovered string
	focused string
	scrollY int
	closed  bool
}

var _ schemas.Browser = (*Page)(nil)

// New returns a page showing about:blank.
func New(id string, cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Page {
	p := &Page{
		id:      id,
		logger:  logger.Named("dompage").With(zap.String("session_id", id)),
		cfg:     cfg,
		builder: snapshot.NewBuilder(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		jar, _ := cookiejar.New(nil)
		p.client = &http.Client{
			Jar:       jar,
			Transport: newTransport(cfg.IgnoreTLSErrors),
			// Redirects are followed by hand so the final URL is tracked.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	blank, _ := url.Parse("about:blank")
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(blankPage))
	p.url, p.doc = blank, doc
	return p
}

// Load replaces the current document with src as if it had been served from
// pageURL.
func (p *Page) Load(pageURL, src string) error {
	u, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("failed to parse HTML for %q: %w", pageURL, err)
	}
	p.setDocument(u, doc)
	return nil
}

// Mutate applies fn to the live document, standing in for script-driven
// changes a real page would make.
func (p *Page) Mutate(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.doc)
}

// Remount drops every ref from the document, which is what a page that
// re-renders its markup does to previously located elements.
func (p *Page) Remount() {
	p.Mutate(func(doc *goquery.Document) {
		doc.Find("[" + snapshot.RefAttr + "]").RemoveAttr(snapshot.RefAttr)
	})
}

// CurrentURL returns the URL of the loaded document.
func (p *Page) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url.String()
}

// SnapshotPage captures the current document.
func (p *Page) SnapshotPage(ctx context.Context) (*schemas.PageSnapshot, error) {
	if err := p.live(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builder.Build(p.doc, p.url.String()), nil
}

// Perform executes one action against the element loc addresses.
func (p *Page) Perform(ctx context.Context, kind schemas.IntentKind, loc *schemas.CandidateLocator, params schemas.Parameters) (schemas.ActionOutput, error) {
	if err := p.live(ctx); err != nil {
		return schemas.ActionOutput{}, err
	}
	if p.hook != nil {
		if err := p.hook(ctx, kind, p); err != nil {
			return schemas.ActionOutput{}, err
		}
	}

	var err error
	switch kind {
	case schemas.KindNavigate:
		err = p.Navigate(ctx, params.Value(schemas.ParamURL))
	case schemas.KindClick:
		err = p.withElement(loc, true, func(s *goquery.Selection) error { return p.click(ctx, s) })
	case schemas.KindType:
		err = p.withElement(loc, true, func(s *goquery.Selection) error { return p.typeText(s, params.Value(schemas.ParamText)) })
	case schemas.KindSelect:
		err = p.withElement(loc, true, func(s *goquery.Selection) error { return p.selectOption(s, params.Value(schemas.ParamValue)) })
	case schemas.KindHover:
		err = p.withElement(loc, false, func(s *goquery.Selection) error {
			p.mu.Lock()
			p.hovered = s.AttrOr(snapshot.RefAttr, "")
			p.mu.Unlock()
			return nil
		})
	case schemas.KindCheck, schemas.KindUncheck:
		err = p.withElement(loc, true, func(s *goquery.Selection) error { return p.setChecked(s, kind == schemas.KindCheck) })
	case schemas.KindPress:
		err = p.press(ctx, loc, params.Value(schemas.ParamKey))
	case schemas.KindScroll:
		err = p.scroll(loc, params.Value(schemas.ParamDirection))
	case schemas.KindScreenshot, schemas.KindCapture:
		var shot []byte
		shot, err = p.CaptureRegion(ctx, loc)
		if err == nil {
			return schemas.ActionOutput{URL: p.CurrentURL(), Screenshot: shot, Text: p.textOf(loc)}, nil
		}
	default:
		err = fmt.Errorf("%w: %s", schemas.ErrUnsupportedAction, kind)
	}
	if err != nil {
		return schemas.ActionOutput{}, err
	}
	return schemas.ActionOutput{URL: p.CurrentURL(), Text: p.textOf(loc)}, nil
}

// CaptureRegion renders the element loc addresses, or the whole page.
func (p *Page) CaptureRegion(ctx context.Context, loc *schemas.CandidateLocator) ([]byte, error) {
	if err := p.live(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if loc == nil {
		return render(p.doc.Find("title").Text() + "\n" + snapshot.VisibleText(p.doc.Find("body").Nodes[0]))
	}
	s, err := p.lookup(loc)
	if err != nil {
		return nil, err
	}
	el := snapshot.Describe(p.doc, s)
	return render(fmt.Sprintf("%s|%s|%s|%s|%t|%t", el.Tag, el.Name, el.Text, el.Value, el.Checked, el.Visible))
}

// WaitFor polls the document until cond holds or timeout passes.
func (p *Page) WaitFor(ctx context.Context, cond schemas.WaitCondition, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if cond.Kind == schemas.WaitTime {
		timer := time.NewTimer(cond.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait %s: %w", cond.Duration, ctx.Err())
		}
	}

	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := p.holds(cond)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", cond.Kind, ctx.Err())
		}
	}
}

func (p *Page) holds(cond schemas.WaitCondition) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, schemas.ErrBrowserClosed
	}
	switch cond.Kind {
	case schemas.WaitLoad:
		return p.doc != nil, nil
	case schemas.WaitAppear, schemas.WaitDisappear:
		if cond.Locator == nil {
			return false, fmt.Errorf("%w: %s wait needs a target", schemas.ErrInvalidParameters, cond.Kind)
		}
		shown := false
		if s := p.doc.Find(cond.Locator.Selector); s.Length() > 0 {
			shown = snapshot.Describe(p.doc, s.First()).Visible
		}
		return shown == (cond.Kind == schemas.WaitAppear), nil
	}
	return false, fmt.Errorf("%w: wait kind %q", schemas.ErrUnsupportedAction, cond.Kind)
}

// Close releases the page. Further calls fail with ErrBrowserClosed.
func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.client.CloseIdleConnections()
		p.logger.Debug("Page closed.")
	}
	return nil
}

// -- Navigation --

// Navigate loads target, resolved against the current URL.
func (p *Page) Navigate(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: navigate needs a URL", schemas.ErrInvalidParameters)
	}
	resolved, err := p.resolveURL(target)
	if err != nil {
		return fmt.Errorf("failed to resolve URL %q: %w", target, err)
	}
	if resolved.String() == "about:blank" {
		return p.Load("about:blank", blankPage)
	}

	navCtx := ctx
	if p.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, p.cfg.NavigationTimeout)
		defer cancel()
	}

	p.logger.Debug("Navigating", zap.String("url", resolved.String()))
	req, err := http.NewRequestWithContext(navCtx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %q: %w", resolved, err)
	}
	return p.execute(navCtx, req)
}

func (p *Page) execute(ctx context.Context, req *http.Request) error {
	const maxRedirects = 10
	p.prepareHeaders(req)

	for i := 0; i < maxRedirects; i++ {
		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("navigation to %s: %w", req.URL, ctx.Err())
			}
			return fmt.Errorf("request to %s failed: %w", req.URL, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "" {
			next, err := p.redirect(ctx, resp, req)
			resp.Body.Close()
			if err != nil {
				return err
			}
			req = next
			continue
		}
		return p.consume(resp)
	}
	return fmt.Errorf("maximum number of redirects (%d) exceeded", maxRedirects)
}

func (p *Page) redirect(ctx context.Context, resp *http.Response, prev *http.Request) (*http.Request, error) {
	next, err := prev.URL.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, fmt.Errorf("bad redirect location: %w", err)
	}
	method := prev.Method
	var req *http.Request
	switch resp.StatusCode {
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		var body io.Reader
		if prev.GetBody != nil {
			rc, err := prev.GetBody()
			if err != nil {
				return nil, err
			}
			body = rc
		}
		req, err = http.NewRequestWithContext(ctx, method, next.String(), body)
		if err == nil {
			req.Header.Set("Content-Type", prev.Header.Get("Content-Type"))
		}
	default:
		if method != http.MethodHead {
			method = http.MethodGet
		}
		req, err = http.NewRequestWithContext(ctx, method, next.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	p.prepareHeaders(req)
	req.Header.Set("Referer", prev.URL.String())
	return req, nil
}

func (p *Page) consume(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		p.logger.Warn("Page responded with an error status",
			zap.Int("status", resp.StatusCode), zap.String("url", resp.Request.URL.String()))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "html") && !strings.Contains(contentType, "text/plain") {
		p.logger.Debug("Response is not HTML, showing an empty document.", zap.String("content_type", contentType))
		doc, _ := goquery.NewDocumentFromReader(strings.NewReader(blankPage))
		p.setDocument(resp.Request.URL, doc)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse HTML from %s: %w", resp.Request.URL, err)
	}
	p.setDocument(resp.Request.URL, doc)
	return nil
}

func (p *Page) setDocument(u *url.URL, doc *goquery.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url, p.doc = u, doc
	p.hovered, p.focused, p.scrollY = "", "", 0
	p.logger.Debug("Document loaded", zap.String("url", u.String()),
		zap.String("title", strings.TrimSpace(doc.Find("title").First().Text())))
}

func (p *Page) resolveURL(target string) (*url.URL, error) {
	p.mu.RLock()
	current := p.url
	p.mu.RUnlock()

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	if current == nil || current.Scheme == "about" {
		return nil, fmt.Errorf("%w: relative URL %q without a page to resolve against", schemas.ErrInvalidParameters, target)
	}
	return current.ResolveReference(parsed), nil
}

func (p *Page) prepareHeaders(req *http.Request) {
	ua := p.cfg.UserAgent
	if ua == "" {
		ua = "stepdriver/1.0 (dompage)"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	if cur := p.CurrentURL(); strings.HasPrefix(cur, "http") && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", cur)
	}
}

// -- Element actions --

func (p *Page) live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return schemas.ErrBrowserClosed
	}
	return nil
}

// lookup finds the single element loc addresses. Callers hold mu.
func (p *Page) lookup(loc *schemas.CandidateLocator) (*goquery.Selection, error) {
	if loc == nil || loc.Selector == "" {
		return nil, fmt.Errorf("%w: action needs a target element", schemas.ErrInvalidParameters)
	}
	found := p.doc.Find(loc.Selector)
	if found.Length() == 0 {
		if ref, ok := snapshot.RefFromSelector(loc.Selector); ok {
			return nil, fmt.Errorf("%w: ref %s", schemas.ErrStaleLocator, ref)
		}
		return nil, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, loc.Selector)
	}
	return found.First(), nil
}

// withElement runs fn on the element loc addresses. When strict is set the
// element must be visible and enabled.
func (p *Page) withElement(loc *schemas.CandidateLocator, strict bool, fn func(*goquery.Selection) error) error {
	p.mu.RLock()
	s, err := p.lookup(loc)
	var el schemas.Element
	if err == nil {
		el = snapshot.Describe(p.doc, s)
	}
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	if !el.Visible {
		return fmt.Errorf("%w: %s is hidden", schemas.ErrElementNotInteractable, loc.Selector)
	}
	if strict && !el.Enabled {
		return fmt.Errorf("%w: %s is disabled", schemas.ErrElementNotInteractable, loc.Selector)
	}
	return fn(s)
}

func (p *Page) click(ctx context.Context, s *goquery.Selection) error {
	tag := goquery.NodeName(s)
	inputType := strings.ToLower(s.AttrOr("type", ""))
	p.mu.Lock()
	p.focused = s.AttrOr(snapshot.RefAttr, "")
	p.mu.Unlock()

	if a := s.Closest("a[href]"); a.Length() > 0 {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return p.Navigate(ctx, href)
		}
		return nil
	}

	isSubmit := (tag == "button" && (inputType == "submit" || inputType == "")) ||
		(tag == "input" && (inputType == "submit" || inputType == "image"))
	if isSubmit {
		if form := s.Closest("form"); form.Length() > 0 {
			return p.submit(ctx, form, s)
		}
		return nil
	}

	if tag == "input" && (inputType == "checkbox" || inputType == "radio") {
		_, checked := s.Attr("checked")
		return p.setChecked(s, inputType == "radio" || !checked)
	}

	if tag == "label" {
		target := s.Find("input").First()
		if id := s.AttrOr("for", ""); id != "" {
			p.mu.RLock()
			target = p.doc.Find(fmt.Sprintf("[id=%q]", id)).First()
			p.mu.RUnlock()
		}
		if target.Length() > 0 {
			return p.click(ctx, target)
		}
	}

	if role := s.AttrOr("role", ""); role == "checkbox" || role == "switch" {
		return p.setChecked(s, s.AttrOr("aria-checked", "false") != "true")
	}
	p.logger.Debug("Click had no consequence without scripting", zap.String("tag", tag))
	return nil
}

func (p *Page) typeText(s *goquery.Selection, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := snapshot.Describe(p.doc, s)
	if !el.Editable {
		return fmt.Errorf("%w: %s element does not accept text", schemas.ErrElementNotInteractable, el.Tag)
	}
	switch goquery.NodeName(s) {
	case "input":
		s.SetAttr("value", text)
	default:
		s.SetText(text)
	}
	p.focused = el.Ref
	return nil
}

func (p *Page) selectOption(s *goquery.Selection, want string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if goquery.NodeName(s) != "select" {
		return fmt.Errorf("%w: element is a %s, not a dropdown", schemas.ErrElementNotInteractable, goquery.NodeName(s))
	}
	var match *goquery.Selection
	s.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		text := strings.Join(strings.Fields(opt.Text()), " ")
		if v, ok := opt.Attr("value"); (ok && v == want) || strings.EqualFold(text, strings.TrimSpace(want)) {
			match = opt
			return false
		}
		return true
	})
	if match == nil {
		return fmt.Errorf("%w: no option %q", schemas.ErrElementNotFound, want)
	}
	s.Find("option").RemoveAttr("selected")
	match.SetAttr("selected", "selected")
	return nil
}

func (p *Page) setChecked(s *goquery.Selection, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tag := goquery.NodeName(s)
	inputType := strings.ToLower(s.AttrOr("type", ""))
	switch {
	case tag == "input" && inputType == "radio":
		if !on {
			return fmt.Errorf("%w: a radio button cannot be unchecked directly", schemas.ErrInvalidParameters)
		}
		scope := s.Closest("form")
		if scope.Length() == 0 {
			scope = p.doc.Selection
		}
		if name := s.AttrOr("name", ""); name != "" {
			scope.Find(fmt.Sprintf("input[type=radio][name=%q]", name)).RemoveAttr("checked")
		}
		s.SetAttr("checked", "checked")
	case tag == "input" && inputType == "checkbox":
		if on {
			s.SetAttr("checked", "checked")
		} else {
			s.RemoveAttr("checked")
		}
	case s.AttrOr("role", "") == "checkbox" || s.AttrOr("role", "") == "switch":
		s.SetAttr("aria-checked", fmt.Sprintf("%t", on))
	default:
		return fmt.Errorf("%w: %s is not checkable", schemas.ErrElementNotInteractable, tag)
	}
	return nil
}

func (p *Page) press(ctx context.Context, loc *schemas.CandidateLocator, key string) error {
	if key == "" {
		return fmt.Errorf("%w: press needs a key", schemas.ErrInvalidParameters)
	}
	if loc == nil {
		p.mu.RLock()
		focused := p.focused
		p.mu.RUnlock()
		if focused == "" {
			return nil
		}
		loc = &schemas.CandidateLocator{Selector: snapshot.RefSelector(focused)}
	}
	return p.withElement(loc, true, func(s *goquery.Selection) error {
		if strings.EqualFold(key, "enter") || strings.EqualFold(key, "return") {
			tag := goquery.NodeName(s)
			if tag == "input" {
				if form := s.Closest("form"); form.Length() > 0 {
					return p.submit(ctx, form, nil)
				}
			}
			if tag == "button" || tag == "a" {
				return p.click(ctx, s)
			}
		}
		return nil
	})
}

func (p *Page) scroll(loc *schemas.CandidateLocator, direction string) error {
	if loc != nil {
		return p.withElement(loc, false, func(*goquery.Selection) error { return nil })
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch strings.ToLower(direction) {
	case "down":
		p.scrollY += 600
	case "up":
		p.scrollY -= 600
		if p.scrollY < 0 {
			p.scrollY = 0
		}
	case "top":
		p.scrollY = 0
	case "bottom", "":
		p.scrollY = 1 << 20
	default:
		return fmt.Errorf("%w: scroll direction %q", schemas.ErrInvalidParameters, direction)
	}
	return nil
}

// submit serializes form the way a browser would and loads the response.
func (p *Page) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	p.mu.RLock()
	action := form.AttrOr("action", "")
	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	if method != http.MethodPost {
		method = http.MethodGet
	}
	values := url.Values{}
	form.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
		name := in.AttrOr("name", "")
		if name == "" {
			return
		}
		if _, disabled := in.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(in) {
		case "input":
			switch strings.ToLower(in.AttrOr("type", "text")) {
			case "checkbox", "radio":
				if _, checked := in.Attr("checked"); checked {
					values.Add(name, in.AttrOr("value", "on"))
				}
			case "submit", "button", "image", "reset", "file":
			default:
				values.Add(name, in.AttrOr("value", ""))
			}
		case "textarea":
			values.Add(name, in.Text())
		case "select":
			opt := in.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = in.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
		}
	})
	if submitter != nil {
		if name := submitter.AttrOr("name", ""); name != "" {
			values.Add(name, submitter.AttrOr("value", ""))
		}
	}
	p.mu.RUnlock()

	if action == "" {
		action = p.CurrentURL()
	}
	target, err := p.resolveURL(action)
	if err != nil {
		return fmt.Errorf("failed to resolve form action %q: %w", action, err)
	}

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		withQuery := *target
		withQuery.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, method, withQuery.String(), nil)
	}
	if err != nil {
		return err
	}
	p.logger.Debug("Submitting form", zap.String("method", method), zap.String("url", target.String()))
	return p.execute(ctx, req)
}

func (p *Page) textOf(loc *schemas.CandidateLocator) string {
	if loc == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.doc.Find(loc.Selector)
	if s.Length() == 0 {
		return ""
	}
	el := snapshot.Describe(p.doc, s.First())
	if el.Editable || el.Tag == "select" {
		return el.Value
	}
	if el.Text != "" {
		return el.Text
	}
	return el.Name
}

// Factory creates one Page per session.
type Factory struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	opts   []Option
}

// NewFactory returns a factory sharing cfg and opts across pages.
func NewFactory(cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Factory {
	return &Factory{cfg: cfg, logger: logger, opts: opts}
}

// NewBrowser implements schemas.BrowserFactory.
func (f *Factory) NewBrowser(ctx context.Context, sessionID string) (schemas.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return New(sessionID, f.cfg, f.logger, f.opts...), nil
}
