// Package parser turns one free-text BDD step into a structured Intent.
//
// Parsing runs in two tiers. The pattern vocabulary is tried first and, when
// it matches, yields a deterministic intent with confidence 1. Otherwise the
// step is scored against per-kind keyword lists and, if configured, an
// external suggester; those readings carry a confidence below 1 and are
// flagged ambiguous when the best two are too close to call.
package parser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/textmatch"
)

const (
	// fuzzyScale keeps every fuzzy reading strictly below a pattern match.
	fuzzyScale = 0.9
	// suggesterCeiling caps the confidence granted to external suggestions.
	suggesterCeiling = 0.95
	// keywordWindow is how many leading words are compared against verbs.
	keywordWindow = 3
	// positionPenalty discounts keywords that are not the first word.
	positionPenalty = 0.95
)

// keywords is the verb and cue vocabulary of the fuzzy tier. A word may cue
// several kinds; that is exactly what makes a reading ambiguous.
var keywords = map[schemas.IntentKind][]string{
	schemas.KindNavigate:      {"navigate", "go", "open", "visit", "browse", "load"},
	schemas.KindClick:         {"click", "press", "tap", "hit", "push", "select", "activate", "follow"},
	schemas.KindType:          {"type", "enter", "input", "fill", "write", "put"},
	schemas.KindSelect:        {"select", "choose", "pick"},
	schemas.KindHover:         {"hover", "mouse"},
	schemas.KindPress:         {"press", "hit"},
	schemas.KindCheck:         {"check", "tick", "mark"},
	schemas.KindUncheck:       {"uncheck", "untick", "deselect"},
	schemas.KindScroll:        {"scroll"},
	schemas.KindWait:          {"wait", "pause", "sleep"},
	schemas.KindCapture:       {"remember", "capture", "store", "record"},
	schemas.KindScreenshot:    {"screenshot"},
	schemas.KindAssertVisible: {"visible", "displayed", "see"},
	schemas.KindAssertHidden:  {"hidden", "invisible", "gone"},
	schemas.KindAssertText:    {"contain", "contains", "show", "shows", "read", "say"},
	schemas.KindAssertState:   {"enabled", "disabled", "checked", "unchecked"},
	schemas.KindAssertTitle:   {"title"},
	schemas.KindAssertURL:     {"url"},
	schemas.KindCheckpoint:    {"checkpoint"},
	schemas.KindReset:         {"reset", "rollback"},
}

var (
	gherkinRe     = regexp.MustCompile(`(?i)^(?:given|when|then|and|but|\*)\s+`)
	assertLeadRe  = regexp.MustCompile(`(?i)^(?:check|verify|ensure|assert|confirm|make sure)\s+(?:that\s+)`)
	interpolateRe = regexp.MustCompile(`\$\{\s*([\w.-]+)\s*\}|\{\{\s*([\w.-]+)\s*\}\}`)
)

// Parser is safe for concurrent use; it holds no per-step state.
type Parser struct {
	cfg       config.ParserConfig
	suggester schemas.IntentSuggester
	logger    *zap.Logger
}

// Option customizes a Parser.
type Option func(*Parser)

// WithSuggester enables the external suggestion tier.
func WithSuggester(s schemas.IntentSuggester) Option {
	return func(p *Parser) { p.suggester = s }
}

// New creates a parser.
func New(cfg config.ParserConfig, logger *zap.Logger, opts ...Option) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Parser{cfg: cfg, logger: logger.Named("parser")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts raw into an Intent. It fails with ErrUnparsableStep when no
// reading clears the configured minimum confidence. Ambiguous readings are
// returned, not errors: the Intent carries Ambiguous and Alternatives.
func (p *Parser) Parse(ctx context.Context, raw string, hints schemas.ParseHints) (schemas.Intent, error) {
	text := Clean(raw)
	if text == "" {
		return schemas.Intent{}, fmt.Errorf("%w: empty step", schemas.ErrUnparsableStep)
	}

	if intent, ok := matchVocabulary(text, hints); ok {
		intent.Confidence = 1
		if intent.Source == "" {
			intent.Source = schemas.SourcePattern
		}
		return p.finish(intent, raw, hints), nil
	}

	readings := fuzzyReadings(text, hints)
	readings = p.mergeSuggestions(ctx, text, hints, readings)
	if len(readings) == 0 || readings[0].Confidence < p.cfg.MinConfidence {
		best := 0.0
		if len(readings) > 0 {
			best = readings[0].Confidence
		}
		p.logger.Debug("No reading cleared the confidence floor.",
			zap.String("step", raw), zap.Float64("best", best))
		return schemas.Intent{}, fmt.Errorf("%w: %q", schemas.ErrUnparsableStep, raw)
	}

	intent := readings[0]
	var alternatives []schemas.IntentKind
	for _, r := range readings[1:] {
		if readings[0].Confidence-r.Confidence < p.tieMargin() && r.Confidence >= p.cfg.MinConfidence {
			alternatives = append(alternatives, r.Kind)
		}
	}
	if len(alternatives) > 0 {
		intent.Ambiguous = true
		intent.Alternatives = append([]schemas.IntentKind{intent.Kind}, alternatives...)
		p.logger.Debug("Step reading is ambiguous.", zap.String("step", raw), zap.Any("alternatives", intent.Alternatives))
	}
	return p.finish(intent, raw, hints), nil
}

func (p *Parser) tieMargin() float64 {
	if p.cfg.TieMargin > 0 {
		return p.cfg.TieMargin
	}
	return config.DefaultTieMargin
}

func (p *Parser) finish(intent schemas.Intent, raw string, hints schemas.ParseHints) schemas.Intent {
	intent.RawText = raw
	if len(intent.Parameters) > 0 {
		params := make(schemas.Parameters, len(intent.Parameters))
		for i, kv := range intent.Parameters {
			params[i] = schemas.Param{Key: kv.Key, Value: Interpolate(kv.Value, hints.Variables)}
		}
		intent.Parameters = params
	}
	if intent.Kind == schemas.KindNavigate {
		intent.Parameters = intent.Parameters.With(schemas.ParamURL, NormalizeURL(intent.Parameters.Value(schemas.ParamURL)))
	}
	intent.Target.Phrase = Interpolate(intent.Target.Phrase, hints.Variables)
	return intent.Clone()
}

// Clean strips the Gherkin keyword, an assertion lead-in such as "verify
// that", trailing punctuation and redundant whitespace.
func Clean(raw string) string {
	text := strings.Join(strings.Fields(raw), " ")
	for {
		trimmed := gherkinRe.ReplaceAllString(text, "")
		if trimmed == text {
			break
		}
		text = trimmed
	}
	text = assertLeadRe.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.TrimRight(text, ".!?;:, "))
}

// Interpolate replaces ${name} and {{name}} with session variables. Unknown
// names are left untouched so the failure is visible in the evidence.
func Interpolate(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.ContainsAny(s, "${") {
		return s
	}
	return interpolateRe.ReplaceAllStringFunc(s, func(token string) string {
		m := interpolateRe.FindStringSubmatch(token)
		name := m[1] + m[2]
		if v, ok := vars[name]; ok {
			return v
		}
		return token
	})
}

func matchVocabulary(text string, hints schemas.ParseHints) (schemas.Intent, bool) {
	for _, r := range vocabulary {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if intent, ok := r.build(m, hints); ok {
			return intent, true
		}
	}
	return schemas.Intent{}, false
}

// fuzzyReadings scores the step against every kind's keywords and returns
// one reading per kind, best first, ties in vocabulary order.
func fuzzyReadings(text string, hints schemas.ParseHints) []schemas.Intent {
	words := strings.Fields(text)
	window := keywordWindow
	if len(words) < window {
		window = len(words)
	}
	cues := make([]cue, 0, window+2)
	for i := 0; i < window; i++ {
		cues = append(cues, cue{index: i, word: strings.ToLower(words[i]), weight: math.Pow(positionPenalty, float64(i))})
	}
	// In "x should be visible" the cue follows "should".
	for i, w := range words {
		if strings.EqualFold(w, "should") {
			for j := i + 1; j < len(words) && j <= i+3; j++ {
				cues = append(cues, cue{index: j, word: strings.ToLower(words[j]), weight: positionPenalty})
			}
			break
		}
	}

	var readings []schemas.Intent
	for _, kind := range schemas.AllKinds {
		best, bestCue, bestKeyword := 0.0, cue{}, ""
		for _, c := range cues {
			for _, kw := range keywords[kind] {
				score := textmatch.Similarity(c.word, kw) * c.weight
				if score > best {
					best, bestCue, bestKeyword = score, c, kw
				}
			}
		}
		if best == 0 {
			continue
		}
		readings = append(readings, reading(kind, best, words, bestCue, bestKeyword, hints))
	}
	sortReadings(readings)
	return readings
}

type cue struct {
	index  int
	word   string
	weight float64
}

// reading builds the intent for one fuzzily matched kind. The misspelled cue
// is replaced with its keyword and the pattern vocabulary is retried so the
// target and parameters come out the same way as for a clean step.
func reading(kind schemas.IntentKind, score float64, words []string, c cue, keyword string, hints schemas.ParseHints) schemas.Intent {
	rewritten := append([]string(nil), words...)
	rewritten[c.index] = keyword
	intent, ok := matchVocabulary(strings.Join(rewritten, " "), hints)
	if !ok || intent.Kind != kind {
		matched := intent
		intent = schemas.Intent{Kind: kind}
		if ok {
			intent.Target = carryTarget(matched, kind)
		}
		if intent.Target.IsZero() && c.index == 0 && len(words) > 1 && !kind.IsContextOnly() && kind != schemas.KindNavigate {
			intent.Target = parseTarget(strings.Join(words[1:], " "), hints)
		}
	}
	intent.Confidence = round(score * fuzzyScale)
	intent.Source = schemas.SourceFuzzy
	return intent
}

// carryTarget keeps the target a differently classified pattern match found,
// when kind can use one. Parameters never carry over between kinds.
func carryTarget(matched schemas.Intent, kind schemas.IntentKind) schemas.TargetDescription {
	if kind.IsContextOnly() || kind == schemas.KindNavigate {
		return schemas.TargetDescription{}
	}
	return matched.Target
}

// mergeSuggestions asks the suggester, if any, and folds its readings in.
// Every failure degrades to the local readings.
func (p *Parser) mergeSuggestions(ctx context.Context, text string, hints schemas.ParseHints, readings []schemas.Intent) []schemas.Intent {
	if p.suggester == nil || !p.cfg.SuggesterEnabled {
		return readings
	}
	sctx := ctx
	if p.cfg.SuggesterTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, p.cfg.SuggesterTimeout)
		defer cancel()
	}
	suggestions, err := p.suggester.SuggestIntent(sctx, text, schemas.AllKinds)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, schemas.ErrSuggesterUnavailable) {
			level = zap.DebugLevel
		}
		p.logger.Check(level, "Suggester gave no reading; continuing with local readings.").Write(zap.Error(err))
		return readings
	}

	byKind := make(map[schemas.IntentKind]int, len(readings))
	for i, r := range readings {
		byKind[r.Kind] = i
	}
	for _, s := range suggestions {
		if !s.Kind.Valid() {
			p.logger.Debug("Dropping suggestion outside the vocabulary.", zap.String("kind", string(s.Kind)))
			continue
		}
		conf := round(math.Min(math.Max(s.Confidence, 0), suggesterCeiling))
		suggested := schemas.Intent{
			Kind:       s.Kind,
			Target:     parseTarget(s.Target, hints),
			Parameters: append(schemas.Parameters(nil), s.Parameters...),
			Confidence: conf,
			Source:     schemas.SourceSuggester,
		}
		if i, ok := byKind[s.Kind]; ok {
			if conf > readings[i].Confidence {
				readings[i] = suggested
			}
			continue
		}
		byKind[s.Kind] = len(readings)
		readings = append(readings, suggested)
	}
	sortReadings(readings)
	return readings
}

func sortReadings(readings []schemas.Intent) {
	order := make(map[schemas.IntentKind]int, len(schemas.AllKinds))
	for i, k := range schemas.AllKinds {
		order[k] = i
	}
	sort.SliceStable(readings, func(i, j int) bool {
		if readings[i].Confidence != readings[j].Confidence {
			return readings[i].Confidence > readings[j].Confidence
		}
		return order[readings[i].Kind] < order[readings[j].Kind]
	})
}

func round(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
