package schemas

import (
	"fmt"
	"strings"
)

// IntentKind is the closed set of actions and assertions a step can express.
type IntentKind string

const (
	KindNavigate      IntentKind = "navigate"       // Load a URL into the page.
	KindClick         IntentKind = "click"          // Activate an element.
	KindType          IntentKind = "type"           // Replace the value of an editable element.
	KindSelect        IntentKind = "select"         // Choose an option in a dropdown.
	KindHover         IntentKind = "hover"          // Move the pointer over an element.
	KindPress         IntentKind = "press"          // Dispatch a key press, optionally on an element.
	KindCheck         IntentKind = "check"          // Ensure a checkbox or radio is checked.
	KindUncheck       IntentKind = "uncheck"        // Ensure a checkbox is unchecked.
	KindScroll        IntentKind = "scroll"         // Scroll the page or an element into view.
	KindWait          IntentKind = "wait"           // Wait for time, an element, or page load.
	KindCapture       IntentKind = "capture"        // Store element text into a variable.
	KindScreenshot    IntentKind = "screenshot"     // Capture the page or an element as evidence.
	KindAssertVisible IntentKind = "assert_visible" // Element is present and visible.
	KindAssertHidden  IntentKind = "assert_hidden"  // Element is absent or hidden.
	KindAssertText    IntentKind = "assert_text"    // Page or element text matches an expectation.
	KindAssertState   IntentKind = "assert_state"   // Element is enabled, disabled, checked, ...
	KindAssertTitle   IntentKind = "assert_title"   // Document title matches an expectation.
	KindAssertURL     IntentKind = "assert_url"     // Current URL matches an expectation.
	KindAssertVisual  IntentKind = "assert_visual"  // Region looks like its stored baseline.
	KindCheckpoint    IntentKind = "checkpoint"     // Snapshot the session context.
	KindReset         IntentKind = "reset"          // Roll the session context back to the last checkpoint.
)

// AllKinds lists every kind in a stable order. Parsers and suggesters use it
// as the vocabulary offered to fuzzy matching.
var AllKinds = []IntentKind{
	KindNavigate, KindClick, KindType, KindSelect, KindHover, KindPress,
	KindCheck, KindUncheck, KindScroll, KindWait, KindCapture, KindScreenshot,
	KindAssertVisible, KindAssertHidden, KindAssertText, KindAssertState,
	KindAssertTitle, KindAssertURL, KindAssertVisual, KindCheckpoint, KindReset,
}

// IsAssertion reports whether the kind is a read-only validation.
func (k IntentKind) IsAssertion() bool {
	return strings.HasPrefix(string(k), "assert_")
}

// IsContextOnly reports whether the kind only touches session state and never the browser.
func (k IntentKind) IsContextOnly() bool {
	return k == KindCheckpoint || k == KindReset
}

// RequiresTarget reports whether a step of this kind is meaningless without an element.
func (k IntentKind) RequiresTarget() bool {
	switch k {
	case KindClick, KindType, KindSelect, KindHover, KindCheck, KindUncheck,
		KindCapture, KindAssertVisible, KindAssertHidden, KindAssertState:
		return true
	}
	return false
}

// Valid reports whether k is a member of the closed vocabulary.
func (k IntentKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IntentSource records which parsing tier produced an intent.
type IntentSource string

const (
	SourcePattern   IntentSource = "pattern"   // Deterministic vocabulary match.
	SourceFuzzy     IntentSource = "fuzzy"     // Local keyword similarity.
	SourceSuggester IntentSource = "suggester" // External suggestion, confirmed locally.
	SourceContext   IntentSource = "context"   // Recognized session-state command.
)

// Ordinal values with special meaning.
const (
	OrdinalNone = 0
	OrdinalLast = -1
)

// TargetDescription is the natural-language reference to an element, split
// into the noun phrase and the qualifiers that narrow it down.
type TargetDescription struct {
	Phrase  string `json:"phrase"`            // e.g. "login", "email"
	Role    string `json:"role,omitempty"`    // Role noun mapped to an ARIA role, e.g. "button".
	Ordinal int    `json:"ordinal,omitempty"` // 1-based; OrdinalLast for "the last".
	Region  string `json:"region,omitempty"`  // e.g. "header", "login form".
}

// IsZero reports whether the target carries no reference at all.
func (t TargetDescription) IsZero() bool {
	return t.Phrase == "" && t.Role == "" && t.Region == "" && t.Ordinal == OrdinalNone
}

// String renders the target back into a readable phrase.
func (t TargetDescription) String() string {
	var parts []string
	switch {
	case t.Ordinal == OrdinalLast:
		parts = append(parts, "last")
	case t.Ordinal > 0:
		parts = append(parts, fmt.Sprintf("#%d", t.Ordinal))
	}
	if t.Phrase != "" {
		parts = append(parts, t.Phrase)
	}
	if t.Role != "" {
		parts = append(parts, t.Role)
	}
	if t.Region != "" {
		parts = append(parts, "in "+t.Region)
	}
	return strings.Join(parts, " ")
}

// Intent is the normalized action or assertion derived from one step.
// Values are treated as immutable once the parser returns them; use Clone
// before deriving a modified copy.
type Intent struct {
	Kind         IntentKind        `json:"kind"`
	Target       TargetDescription `json:"target"`
	Parameters   Parameters        `json:"parameters,omitempty"`
	RawText      string            `json:"raw_text"`
	Confidence   float64           `json:"confidence"`
	Source       IntentSource      `json:"source"`
	Ambiguous    bool              `json:"ambiguous,omitempty"`
	Alternatives []IntentKind      `json:"alternatives,omitempty"`
}

// Clone returns a deep copy so callers never alias the parameter slice.
func (i Intent) Clone() Intent {
	out := i
	if i.Parameters != nil {
		out.Parameters = append(Parameters(nil), i.Parameters...)
	}
	if i.Alternatives != nil {
		out.Alternatives = append([]IntentKind(nil), i.Alternatives...)
	}
	return out
}

// HasTarget reports whether the intent refers to an element.
func (i Intent) HasTarget() bool {
	return !i.Target.IsZero()
}
