// Package snapshot turns an HTML document into the structured page snapshot
// the resolver works on. Every element it reports is tagged with a stable ref
// attribute so later actions can find the exact node again, and a ref that no
// longer resolves is how staleness is detected.
package snapshot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

// RefAttr is the attribute holding an element's ref.
const RefAttr = "data-sd-ref"

// maxText caps the per-element text kept in a snapshot.
const maxText = 300

// RefSelector returns the CSS selector addressing a ref.
func RefSelector(ref string) string {
	return fmt.Sprintf("[%s=%q]", RefAttr, ref)
}

// RefFromSelector extracts the ref from a selector built by RefSelector.
func RefFromSelector(sel string) (string, bool) {
	prefix := "[" + RefAttr + "=\""
	if !strings.HasPrefix(sel, prefix) || !strings.HasSuffix(sel, "\"]") {
		return "", false
	}
	return sel[len(prefix) : len(sel)-2], true
}

// Builder assigns refs and builds snapshots. Refs are never reused for the
// lifetime of a Builder, so a ref from an earlier document never matches a
// node in a later one.
type Builder struct {
	mu  sync.Mutex
	seq int
	now func() time.Time
}

// NewBuilder returns a Builder with its own ref sequence.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// candidates selects every element worth reporting. Text containers are
// filtered further by hasOwnText.
const candidates = "a, button, input, select, textarea, label, img, " +
	"h1, h2, h3, h4, h5, h6, p, li, td, th, span, div, strong, em, b, small, " +
	"header, footer, nav, main, aside, form, section, dialog, summary, details, " +
	"[role], [data-testid], [data-test-id], [contenteditable]"

// Build annotates doc with refs in document order and returns its snapshot.
// Elements that already carry a ref keep it.
func (b *Builder) Build(doc *goquery.Document, pageURL string) *schemas.PageSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &schemas.PageSnapshot{
		URL:        pageURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		CapturedAt: b.now(),
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return snap
	}
	snap.Text = VisibleText(body.Nodes[0])

	body.Find(candidates).Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		if !reportable(s) {
			return
		}
		ref, ok := s.Attr(RefAttr)
		if !ok {
			b.seq++
			ref = fmt.Sprintf("e%d", b.seq)
			s.SetAttr(RefAttr, ref)
		}
		el := describe(doc, s, n)
		el.Ref = ref
		el.Index = len(snap.Elements)
		el.Selector = RefSelector(ref)
		snap.Elements = append(snap.Elements, el)
	})
	return snap
}

// reportable drops generic containers that carry no text of their own.
func reportable(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "span", "div", "strong", "em", "b", "small", "td", "th", "li", "p", "section", "details":
		if _, ok := s.Attr("role"); ok {
			return true
		}
		if testID(s) != "" {
			return true
		}
		if _, ok := s.Attr("contenteditable"); ok {
			return true
		}
		if goquery.NodeName(s) == "section" {
			_, labelled := s.Attr("aria-label")
			return labelled
		}
		return hasOwnText(s.Nodes[0])
	}
	return true
}

func hasOwnText(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return true
		}
	}
	return false
}

// Describe reports how a single node of doc would appear in a snapshot.
func Describe(doc *goquery.Document, s *goquery.Selection) schemas.Element {
	el := describe(doc, s, s.Nodes[0])
	if ref, ok := s.Attr(RefAttr); ok {
		el.Ref = ref
		el.Selector = RefSelector(ref)
	}
	return el
}

func describe(doc *goquery.Document, s *goquery.Selection, n *html.Node) schemas.Element {
	tag := goquery.NodeName(s)
	el := schemas.Element{
		Tag:        tag,
		Role:       Role(s),
		Attributes: attributes(n),
		Path:       path(n),
		Region:     region(n),
		Text:       truncate(VisibleText(n)),
	}
	el.Name = accessibleName(doc, s, el.Role)
	el.Value = value(s)
	el.Visible = visible(n)
	el.Enabled = enabled(s)
	el.Interactable = el.Visible && el.Enabled && interactive(s, el.Role)
	el.Editable = el.Enabled && editable(s, el.Role)
	el.Checked = boolAttr(s, "checked") || attrIs(s, "aria-checked", "true")
	el.Selected = boolAttr(s, "selected") || attrIs(s, "aria-selected", "true")
	el.Decorative = decorative(s)
	return el
}

// Role returns the explicit ARIA role or the implicit role of the element.
func Role(s *goquery.Selection) string {
	if role, ok := s.Attr("role"); ok && strings.TrimSpace(role) != "" {
		return strings.ToLower(strings.Fields(role)[0])
	}
	switch tag := goquery.NodeName(s); tag {
	case "a":
		if _, ok := s.Attr("href"); ok {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "input":
		switch inputType(s) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week":
			return ""
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		return "combobox"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "img":
		return "img"
	case "header":
		return "banner"
	case "footer":
		return "contentinfo"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "aside":
		return "complementary"
	case "form":
		return "form"
	case "dialog":
		return "dialog"
	case "li":
		return "listitem"
	}
	if _, ok := s.Attr("contenteditable"); ok {
		return "textbox"
	}
	return ""
}

func inputType(s *goquery.Selection) string {
	t, _ := s.Attr("type")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "text"
	}
	return t
}

func testID(s *goquery.Selection) string {
	for _, attr := range []string{"data-testid", "data-test-id", "data-test", "data-qa"} {
		if v, ok := s.Attr(attr); ok && v != "" {
			return v
		}
	}
	return ""
}

// TestID returns the first test-id style attribute of an element.
func TestID(el schemas.Element) string {
	for _, attr := range []string{"data-testid", "data-test-id", "data-test", "data-qa"} {
		if v := el.Attr(attr); v != "" {
			return v
		}
	}
	return ""
}

func accessibleName(doc *goquery.Document, s *goquery.Selection, role string) string {
	if v, ok := s.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return clean(v)
	}
	if ids, ok := s.Attr("aria-labelledby"); ok {
		var parts []string
		for _, id := range strings.Fields(ids) {
			if t := clean(doc.Find("#" + cssEscape(id)).Text()); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}

	tag := goquery.NodeName(s)
	switch tag {
	case "input", "select", "textarea":
		switch inputType(s) {
		case "submit", "button", "reset":
			if v, ok := s.Attr("value"); ok && v != "" {
				return clean(v)
			}
			if inputType(s) == "submit" {
				return "Submit"
			}
		case "image":
			if v, ok := s.Attr("alt"); ok {
				return clean(v)
			}
		}
		if label := labelFor(doc, s); label != "" {
			return label
		}
		if v, ok := s.Attr("placeholder"); ok && v != "" {
			return clean(v)
		}
	case "img":
		if v, ok := s.Attr("alt"); ok {
			return clean(v)
		}
	case "form", "section", "header", "footer", "nav", "aside", "main", "dialog":
		// Landmarks are named by their label, never by their whole content.
		if v, ok := s.Attr("title"); ok {
			return clean(v)
		}
		return ""
	}

	if role == "button" || role == "link" || role == "heading" || role == "checkbox" ||
		role == "radio" || role == "tab" || role == "menuitem" || role == "option" || tag == "label" {
		text := clean(VisibleText(s.Nodes[0]))
		if text == "" {
			if alt, ok := s.Find("img[alt]").First().Attr("alt"); ok {
				text = clean(alt)
			}
		}
		if text != "" {
			return truncate(text)
		}
	}
	if v, ok := s.Attr("title"); ok && v != "" {
		return clean(v)
	}
	return ""
}

func labelFor(doc *goquery.Document, s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		if label := doc.Find(fmt.Sprintf("label[for=%q]", id)); label.Length() > 0 {
			return clean(label.First().Text())
		}
	}
	if wrap := s.Closest("label"); wrap.Length() > 0 {
		// Use the label's text without the control's own content.
		var parts []string
		for c := wrap.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
			if c == s.Nodes[0] {
				continue
			}
			if c.Type == html.TextNode {
				parts = append(parts, c.Data)
			} else if c.Type == html.ElementNode && c.Data != "select" && c.Data != "textarea" {
				parts = append(parts, VisibleText(c))
			}
		}
		return clean(strings.Join(parts, " "))
	}
	return ""
}

func value(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "input":
		v, _ := s.Attr("value")
		return v
	case "textarea":
		return s.Text()
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		return clean(opt.Text())
	}
	return ""
}

func interactive(s *goquery.Selection, role string) bool {
	switch goquery.NodeName(s) {
	case "a", "button", "input", "select", "textarea", "summary", "label":
		return inputType(s) != "hidden"
	}
	switch role {
	case "button", "link", "checkbox", "radio", "tab", "menuitem", "option", "switch", "textbox", "combobox", "slider":
		return true
	}
	if _, ok := s.Attr("onclick"); ok {
		return true
	}
	if v, ok := s.Attr("tabindex"); ok && v != "-1" {
		return true
	}
	return false
}

func editable(s *goquery.Selection, role string) bool {
	if boolAttr(s, "readonly") || attrIs(s, "aria-readonly", "true") {
		return false
	}
	if v, ok := s.Attr("contenteditable"); ok && v != "false" {
		return true
	}
	switch goquery.NodeName(s) {
	case "textarea":
		return true
	case "input":
		return role == "textbox"
	}
	return false
}

func enabled(s *goquery.Selection) bool {
	if boolAttr(s, "disabled") || attrIs(s, "aria-disabled", "true") {
		return false
	}
	return s.Closest("fieldset[disabled]").Length() == 0
}

func decorative(s *goquery.Selection) bool {
	if attrIs(s, "aria-hidden", "true") {
		return true
	}
	if role, _ := s.Attr("role"); role == "presentation" || role == "none" {
		return true
	}
	if goquery.NodeName(s) == "img" {
		alt, ok := s.Attr("alt")
		return ok && strings.TrimSpace(alt) == ""
	}
	return false
}

// visible walks the ancestors looking for anything that hides the element.
// Without a layout engine only markup and inline styles are considered.
func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if hiddenNode(cur) {
			return false
		}
	}
	return true
}

func hiddenNode(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "template", "noscript", "head":
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "type":
			if n.Data == "input" && strings.EqualFold(a.Val, "hidden") {
				return true
			}
		case "style":
			style := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// VisibleText concatenates the text under n that a reader would see. Hidden
// descendants are skipped; n itself is always read.
func VisibleText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		switch cur.Type {
		case html.TextNode:
			sb.WriteString(cur.Data)
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			if cur != n && hiddenNode(cur) {
				return
			}
			if cur.Data == "br" {
				sb.WriteByte(' ')
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return clean(sb.String())
}

var landmarkWords = map[string]string{
	"form":    "form",
	"header":  "header",
	"footer":  "footer",
	"nav":     "navigation",
	"aside":   "sidebar",
	"main":    "main",
	"dialog":  "dialog",
	"section": "section",
}

// region names the landmarks containing n, outermost first, joined by " > ".
func region(n *html.Node) string {
	var chain []string
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if name := landmarkName(cur); name != "" {
			chain = append([]string{name}, chain...)
		}
	}
	return strings.Join(chain, " > ")
}

func landmarkName(n *html.Node) string {
	word, ok := landmarkWords[n.Data]
	role := attr(n, "role")
	if !ok {
		switch role {
		case "dialog", "alertdialog":
			word = "dialog"
		case "navigation":
			word = "navigation"
		case "banner":
			word = "header"
		case "contentinfo":
			word = "footer"
		case "form", "region":
			word = role
		default:
			return ""
		}
	}
	label := attr(n, "aria-label")
	if label == "" {
		label = attr(n, "id")
	}
	if label == "" {
		label = attr(n, "name")
	}
	if label == "" {
		if n.Data == "section" {
			return ""
		}
		return word
	}
	label = strings.ToLower(strings.NewReplacer("-", " ", "_", " ").Replace(label))
	label = clean(label)
	if strings.Contains(label, word) {
		return label
	}
	return label + " " + word
}

func path(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		part := cur.Data
		if id := attr(cur, "id"); id != "" {
			part += "#" + id
			parts = append([]string{part}, parts...)
			break
		}
		pos, same := 1, 0
		for sib := cur.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode && sib.Data == cur.Data {
				same++
				if sib == cur {
					pos = same
				}
			}
		}
		if same > 1 {
			part = fmt.Sprintf("%s:nth-of-type(%d)", part, pos)
		}
		parts = append([]string{part}, parts...)
		if cur.Parent == nil || cur.Parent.Type != html.ElementNode {
			break
		}
	}
	return strings.Join(parts, " > ")
}

func attributes(n *html.Node) map[string]string {
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		if a.Key == RefAttr || a.Key == "style" {
			continue
		}
		out[a.Key] = a.Val
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func boolAttr(s *goquery.Selection, key string) bool {
	_, ok := s.Attr(key)
	return ok
}

func attrIs(s *goquery.Selection, key, want string) bool {
	v, ok := s.Attr(key)
	return ok && strings.EqualFold(strings.TrimSpace(v), want)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string) string {
	if len(s) <= maxText {
		return s
	}
	cut := maxText
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}

// cssEscape escapes the characters that would break an id selector.
func cssEscape(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
