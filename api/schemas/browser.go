package schemas

import (
	"context"
	"fmt"
	"time"
)

// -- Page Snapshot Schemas --

// Element is one node of a page snapshot, flattened with the properties the
// resolver scores against. Ref is the identity of the element inside the page
// and stays stable for as long as the underlying DOM node exists.
type Element struct {
	Ref        string            `json:"ref"`
	Index      int               `json:"index"` // Document order.
	Tag        string            `json:"tag"`
	Role       string            `json:"role,omitempty"`
	Name       string            `json:"name,omitempty"` // Accessible name.
	Text       string            `json:"text,omitempty"` // Normalized visible text.
	Value      string            `json:"value,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Selector   string            `json:"selector"`         // Selector addressing exactly this element.
	Path       string            `json:"path,omitempty"`   // Structural tag path from <body>.
	Region     string            `json:"region,omitempty"` // Nearest landmark, e.g. "header", "login form".

	Visible      bool `json:"visible"`
	Enabled      bool `json:"enabled"`
	Interactable bool `json:"interactable"`
	Editable     bool `json:"editable,omitempty"`
	Checked      bool `json:"checked,omitempty"`
	Selected     bool `json:"selected,omitempty"`
	Decorative   bool `json:"decorative,omitempty"`
}

// Attr returns an attribute value or the empty string.
func (e Element) Attr(name string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[name]
}

// PageSnapshot is an immutable capture of the page taken at one instant.
type PageSnapshot struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"` // Normalized visible text of the whole page.
	Elements   []Element `json:"elements"`
	CapturedAt time.Time `json:"captured_at"`
}

// ElementByRef finds an element by identity.
func (s *PageSnapshot) ElementByRef(ref string) (Element, bool) {
	if s == nil {
		return Element{}, false
	}
	for _, el := range s.Elements {
		if el.Ref == ref {
			return el, true
		}
	}
	return Element{}, false
}

// ElementBySelector finds the element a locator selector addresses.
func (s *PageSnapshot) ElementBySelector(selector string) (Element, bool) {
	if s == nil {
		return Element{}, false
	}
	for _, el := range s.Elements {
		if el.Selector == selector {
			return el, true
		}
	}
	return Element{}, false
}

// -- Locator Schemas --

// LocatorStrategy names how a candidate was found.
type LocatorStrategy string

const (
	StrategyRole       LocatorStrategy = "role"       // Accessible role plus name.
	StrategyText       LocatorStrategy = "text"       // Visible text.
	StrategyTestID     LocatorStrategy = "test-id"    // data-testid and friends.
	StrategyLabel      LocatorStrategy = "label"      // placeholder, aria-label, title, alt, name.
	StrategyStructural LocatorStrategy = "structural" // Tag and input-type heuristics.
	StrategyAlias      LocatorStrategy = "alias"      // Phrase bound earlier in the session.
)

// CandidateLocator is one proposed way of finding the target element.
type CandidateLocator struct {
	Strategy    LocatorStrategy `json:"strategy"`
	Selector    string          `json:"selector"`
	Score       float64         `json:"score"`
	ElementRef  string          `json:"element_ref"`
	Description string          `json:"description,omitempty"`
}

// String is used in evidence and log lines.
func (c CandidateLocator) String() string {
	return fmt.Sprintf("%s[%s] %q (%.2f)", c.Strategy, c.Selector, c.Description, c.Score)
}

// -- Browser Capability --

// WaitKind is the condition a WaitFor call blocks on.
type WaitKind string

const (
	WaitTime      WaitKind = "time"
	WaitAppear    WaitKind = "appear"
	WaitDisappear WaitKind = "disappear"
	WaitLoad      WaitKind = "load"
)

// WaitCondition describes what WaitFor waits for.
type WaitCondition struct {
	Kind     WaitKind
	Locator  *CandidateLocator
	Duration time.Duration // Only for WaitTime.
}

// ActionOutput carries what an action observed, for evidence and captures.
type ActionOutput struct {
	URL        string `json:"url,omitempty"`
	Text       string `json:"text,omitempty"`
	Screenshot []byte `json:"-"`
}

// Browser is the capability interface the pipeline drives. Implementations
// own the page; the pipeline never touches driver internals.
//
// Perform must return ErrStaleLocator (wrapped) when the locator's element is
// no longer attached, ErrElementNotInteractable when it exists but cannot take the
// action, and ErrUnsupportedAction for kinds it does not handle.
type Browser interface {
	SnapshotPage(ctx context.Context) (*PageSnapshot, error)
	Perform(ctx context.Context, kind IntentKind, loc *CandidateLocator, params Parameters) (ActionOutput, error)
	// CaptureRegion returns a PNG of the element, or of the viewport when loc is nil.
	CaptureRegion(ctx context.Context, loc *CandidateLocator) ([]byte, error)
	WaitFor(ctx context.Context, cond WaitCondition, timeout time.Duration) error
	Close(ctx context.Context) error
}

// BrowserFactory creates one Browser per session.
type BrowserFactory interface {
	NewBrowser(ctx context.Context, sessionID string) (Browser, error)
}
