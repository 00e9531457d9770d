// Package resolver maps an intent's target description onto concrete
// elements of a page snapshot. It proposes scored candidate locators and
// reports ambiguity; choosing between tied candidates is left to the caller.
package resolver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/browser/snapshot"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/contextstore"
	"github.com/xkilldash9x/stepdriver/internal/textmatch"
)

// Salience multipliers. An element the step cannot act on still matches, but
// loses to one it can.
const (
	hiddenFactor         = 0.6
	notInteractiveFactor = 0.85
	decorativeFactor     = 0.7
	roleMismatchFactor   = 0.5
	regionMatchFloor     = 0.75
)

// ErrNoSnapshot is returned when Resolve is called without a page.
var ErrNoSnapshot = errors.New("resolver needs a page snapshot")

// Resolution is the ranked outcome of one Resolve call.
type Resolution struct {
	// Candidates are best first; ties keep document order.
	Candidates []schemas.CandidateLocator
	// Ambiguous is set when two or more candidates are within the tie margin
	// of the best and no ordinal was given to choose between them.
	Ambiguous bool
	// Tied is the number of leading candidates within the tie margin.
	Tied int
}

// Best returns the top candidate.
func (r Resolution) Best() (schemas.CandidateLocator, bool) {
	if len(r.Candidates) == 0 {
		return schemas.CandidateLocator{}, false
	}
	return r.Candidates[0], true
}

// Contenders returns the candidates that tied for the top spot.
func (r Resolution) Contenders() []schemas.CandidateLocator {
	n := r.Tied
	if n < 1 {
		n = 1
	}
	if n > len(r.Candidates) {
		n = len(r.Candidates)
	}
	return r.Candidates[:n]
}

// Resolver is stateless between calls and safe for concurrent use.
type Resolver struct {
	cfg    config.ResolverConfig
	logger *zap.Logger
}

// New creates a resolver.
func New(cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, logger: logger.Named("resolver")}
}

// TieMargin is the score gap under which two candidates count as tied.
func (r *Resolver) TieMargin() float64 {
	if r.cfg.TieMargin > 0 {
		return r.cfg.TieMargin
	}
	return config.DefaultTieMargin
}

type scored struct {
	el       schemas.Element
	score    float64
	strategy schemas.LocatorStrategy
}

// Resolve finds the elements of snap that intent's target describes.
// Session aliases, including the focused element "it", are consulted first.
func (r *Resolver) Resolve(intent schemas.Intent, snap *schemas.PageSnapshot, sctx contextstore.SessionContext) (Resolution, error) {
	if snap == nil {
		return Resolution{}, ErrNoSnapshot
	}
	target := intent.Target
	if target.IsZero() {
		return Resolution{}, fmt.Errorf("%w: step names no element", schemas.ErrNoMatch)
	}

	if target.Role == "" && target.Ordinal == schemas.OrdinalNone {
		if alias, ok := aliasFor(target.Phrase, sctx); ok && alias.Selector != "" {
			if loc, found := r.aliasCandidate(alias, snap); found {
				return Resolution{Candidates: []schemas.CandidateLocator{loc}, Tied: 1}, nil
			}
			if alias.Description != "" {
				// The aliased element is gone; look for it again by its label.
				r.logger.Debug("Alias target no longer on page, resolving by label.",
					zap.String("alias", target.Phrase), zap.String("label", alias.Description))
				target.Phrase = alias.Description
			}
		}
	}
	if contextstore.NormalizePhrase(target.Phrase) == "it" {
		return Resolution{}, fmt.Errorf("%w: no element has been acted on yet to call %q", schemas.ErrNoMatch, "it")
	}

	remembered := make(map[string]bool)
	for _, loc := range sctx.Aliases {
		remembered[loc.ElementRef] = true
	}
	if sctx.Focus != nil {
		remembered[sctx.Focus.ElementRef] = true
	}

	var matches []scored
	for _, el := range snap.Elements {
		if target.Region != "" && !inRegion(el, target.Region) {
			continue
		}
		score, strategy := r.score(target, el)
		if score == 0 {
			continue
		}
		score *= salience(intent.Kind, el)
		if remembered[el.Ref] {
			score += r.cfg.HintBoost
		}
		score = math.Min(round(score), 1)
		if score < r.cfg.MinScore {
			continue
		}
		matches = append(matches, scored{el: el, score: score, strategy: strategy})
	}
	if len(matches) == 0 {
		return Resolution{}, fmt.Errorf("%w: %q", schemas.ErrNoMatch, target.String())
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].el.Index < matches[j].el.Index
	})

	margin := r.TieMargin()
	tied := 1
	for tied < len(matches) && matches[0].score-matches[tied].score < margin {
		tied++
	}

	if target.Ordinal != schemas.OrdinalNone {
		return r.pickOrdinal(target, matches, tied)
	}

	res := Resolution{Tied: tied, Ambiguous: tied > 1}
	limit := r.cfg.MaxCandidates
	if limit < tied {
		limit = tied
	}
	for i, m := range matches {
		if i >= limit {
			break
		}
		res.Candidates = append(res.Candidates, locator(m))
	}
	if res.Ambiguous {
		r.logger.Debug("Target is ambiguous.", zap.String("target", target.String()), zap.Int("tied", tied))
	}
	return res, nil
}

// pickOrdinal selects the N-th of the equally good matches in document order.
func (r *Resolver) pickOrdinal(target schemas.TargetDescription, matches []scored, tied int) (Resolution, error) {
	group := append([]scored(nil), matches[:tied]...)
	sort.SliceStable(group, func(i, j int) bool { return group[i].el.Index < group[j].el.Index })

	idx := target.Ordinal - 1
	if target.Ordinal == schemas.OrdinalLast {
		idx = len(group) - 1
	}
	if idx < 0 || idx >= len(group) {
		return Resolution{}, fmt.Errorf("%w: asked for match %d of %q but found %d", schemas.ErrNoMatch, target.Ordinal, target.String(), len(group))
	}
	res := Resolution{Tied: 1, Candidates: []schemas.CandidateLocator{locator(group[idx])}}
	for i, m := range group {
		if i != idx {
			res.Candidates = append(res.Candidates, locator(m))
		}
	}
	return res, nil
}

func (r *Resolver) aliasCandidate(loc schemas.CandidateLocator, snap *schemas.PageSnapshot) (schemas.CandidateLocator, bool) {
	el, found := snap.ElementBySelector(loc.Selector)
	if !found && loc.ElementRef != "" {
		el, found = snap.ElementByRef(loc.ElementRef)
	}
	if !found {
		return schemas.CandidateLocator{}, false
	}
	weight := r.cfg.AliasWeight
	if weight == 0 {
		weight = 1
	}
	return schemas.CandidateLocator{
		Strategy:    schemas.StrategyAlias,
		Selector:    el.Selector,
		Score:       round(weight),
		ElementRef:  el.Ref,
		Description: loc.Description,
	}, true
}

func aliasFor(phrase string, sctx contextstore.SessionContext) (schemas.CandidateLocator, bool) {
	key := contextstore.NormalizePhrase(phrase)
	if key == "" {
		return schemas.CandidateLocator{}, false
	}
	if key == "it" && sctx.Focus != nil {
		return *sctx.Focus, true
	}
	loc, ok := sctx.Aliases[key]
	return loc, ok
}

// score returns the best strategy score for el, before salience.
func (r *Resolver) score(target schemas.TargetDescription, el schemas.Element) (float64, schemas.LocatorStrategy) {
	phrase := target.Phrase
	best, strategy := 0.0, schemas.LocatorStrategy("")
	consider := func(s float64, weight float64, st schemas.LocatorStrategy) {
		if s*weight > best {
			best, strategy = s*weight, st
		}
	}

	roleMatches := target.Role != "" && roleCompatible(target.Role, el.Role)
	switch {
	case roleMatches && phrase == "":
		consider(1, r.cfg.RoleWeight, schemas.StrategyRole)
	case roleMatches:
		consider(textmatch.PhraseScore(phrase, el.Name), r.cfg.RoleWeight, schemas.StrategyRole)
	case target.Role == "" && el.Role != "" && phrase != "":
		consider(textmatch.PhraseScore(phrase, el.Name), r.cfg.RoleWeight, schemas.StrategyRole)
	}

	if phrase != "" {
		if id := snapshot.TestID(el); id != "" {
			consider(textmatch.PhraseScore(phrase, humanize(id)), r.cfg.TestIDWeight, schemas.StrategyTestID)
		}
		for _, attr := range []string{"placeholder", "aria-label", "title", "alt"} {
			if v := el.Attr(attr); v != "" {
				consider(textmatch.PhraseScore(phrase, v), r.cfg.LabelWeight, schemas.StrategyLabel)
			}
		}
		for _, attr := range []string{"name", "id"} {
			if v := el.Attr(attr); v != "" {
				consider(textmatch.PhraseScore(phrase, humanize(v)), r.cfg.LabelWeight, schemas.StrategyLabel)
			}
		}
		if el.Role == "" && el.Name != "" {
			consider(textmatch.PhraseScore(phrase, el.Name), r.cfg.LabelWeight, schemas.StrategyLabel)
		}
		if el.Text != "" {
			consider(textmatch.PhraseScore(phrase, el.Text), r.cfg.TextWeight, schemas.StrategyText)
		}
		consider(structural(phrase, el), r.cfg.StructuralWeight, schemas.StrategyStructural)
	}

	if target.Role != "" && !roleMatches {
		best *= roleMismatchFactor
	}
	return best, strategy
}

// structural scores tag and input-type heuristics: "the password field" is an
// input of type password even when nothing on the page says "password".
func structural(phrase string, el schemas.Element) float64 {
	p := textmatch.Normalize(phrase, false)
	inputType := strings.ToLower(el.Attr("type"))
	switch {
	case el.Tag == "input" && inputType != "" && inputType == inputTypeFor(p):
		return 0.9
	case p == "submit" && (inputType == "submit" || (el.Tag == "button" && inputType == "")):
		return 0.9
	case p == el.Tag, p == tagWords[el.Tag]:
		return 0.8
	}
	return 0
}

var inputTypeAliases = map[string]string{
	"phone": "tel", "telephone": "tel", "mobile": "tel",
	"e-mail": "email", "email address": "email", "mail": "email",
	"website": "url", "link": "url",
	"amount": "number", "quantity": "number",
	"birthday": "date", "birth date": "date",
}

func inputTypeFor(p string) string {
	if t, ok := inputTypeAliases[p]; ok {
		return t
	}
	return p
}

var tagWords = map[string]string{
	"img": "image", "table": "table", "form": "form", "nav": "navigation",
	"textarea": "text area", "p": "paragraph", "ul": "list", "ol": "list",
}

var roleFamilies = map[string][]string{
	"textbox":  {"searchbox", "spinbutton"},
	"button":   {"switch"},
	"combobox": {"listbox"},
	"dialog":   {"alertdialog"},
	"img":      {"figure"},
}

func roleCompatible(want, have string) bool {
	if want == have {
		return true
	}
	for _, r := range roleFamilies[want] {
		if r == have {
			return true
		}
	}
	return false
}

func salience(kind schemas.IntentKind, el schemas.Element) float64 {
	f := 1.0
	lookingForGone := kind == schemas.KindAssertHidden || kind == schemas.KindWait
	if !el.Visible && !lookingForGone {
		f *= hiddenFactor
	}
	if !kind.IsAssertion() && kind != schemas.KindCapture && kind != schemas.KindWait && !el.Interactable {
		f *= notInteractiveFactor
	}
	if el.Decorative {
		f *= decorativeFactor
	}
	return f
}

// inRegion reports whether one of the landmarks containing el matches region.
func inRegion(el schemas.Element, region string) bool {
	if el.Region == "" {
		return false
	}
	if textmatch.Contains(el.Region, region, false) {
		return true
	}
	for _, segment := range strings.Split(el.Region, " > ") {
		if textmatch.PhraseScore(region, segment) >= regionMatchFloor {
			return true
		}
	}
	return false
}

// humanize turns identifiers like "login-submit" or "first_name" into words.
func humanize(id string) string {
	return strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(id)
}

func locator(m scored) schemas.CandidateLocator {
	return schemas.CandidateLocator{
		Strategy:    m.strategy,
		Selector:    m.el.Selector,
		Score:       m.score,
		ElementRef:  m.el.Ref,
		Description: Describe(m.el),
	}
}

// Describe renders a short human label for an element, used in evidence and
// as the fallback phrase when an alias goes stale.
func Describe(el schemas.Element) string {
	label := el.Name
	if label == "" {
		label = el.Text
	}
	if label == "" {
		label = el.Attr("placeholder")
	}
	if r := []rune(label); len(r) > 60 {
		label = string(r[:60])
	}
	return label
}

func round(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
