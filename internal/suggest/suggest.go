// Package suggest proposes intents for steps the pattern vocabulary cannot
// classify by asking a language model. Its output is advisory; the parser
// re-validates every suggestion before using it.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/llmutil"
)

const (
	defaultRateLimit = 1.0
	defaultBurst     = 1
	maxSuggestions   = 3
)

// Suggester implements schemas.IntentSuggester on top of an LLM client.
type Suggester struct {
	client  schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.IntentSuggester = (*Suggester)(nil)

// New creates a Suggester. The limiter bounds model calls across every
// session sharing this instance.
func New(client schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) (*Suggester, error) {
	if client == nil {
		return nil, errors.New("LLM client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &Suggester{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		logger:  logger.Named("suggester"),
	}, nil
}

// suggestion mirrors the JSON the model is asked to produce. Parameters are
// an object on the wire and become ordered Parameters locally.
type suggestion struct {
	Kind       string            `json:"kind"`
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters"`
	Confidence float64           `json:"confidence"`
}

type response struct {
	Suggestions []suggestion `json:"suggestions"`
}

// SuggestIntent asks the model for readings of rawText restricted to
// vocabulary. Every failure is reported as ErrSuggesterUnavailable.
func (s *Suggester) SuggestIntent(ctx context.Context, rawText string, vocabulary []schemas.IntentKind) ([]schemas.Suggestion, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", schemas.ErrSuggesterUnavailable, err)
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt(vocabulary),
		UserPrompt:   fmt.Sprintf("Step: %s", rawText),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1},
	}
	raw, err := s.client.Generate(ctx, req)
	if err != nil {
		s.logger.Debug("Suggestion request failed.", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", schemas.ErrSuggesterUnavailable, err)
	}

	parsed, err := llmutil.ParseJSONResponse[response](raw)
	if err != nil {
		s.logger.Warn("Suggester returned malformed output.", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", schemas.ErrSuggesterUnavailable, err)
	}

	out := normalize(parsed.Suggestions, vocabulary)
	s.logger.Debug("Suggestions received.",
		zap.String("step", rawText),
		zap.Int("raw", len(parsed.Suggestions)),
		zap.Int("kept", len(out)))
	return out, nil
}

// normalize drops kinds outside the vocabulary, clamps confidence to [0,1]
// and orders the result best first.
func normalize(in []suggestion, vocabulary []schemas.IntentKind) []schemas.Suggestion {
	allowed := make(map[schemas.IntentKind]bool, len(vocabulary))
	for _, k := range vocabulary {
		allowed[k] = true
	}

	out := make([]schemas.Suggestion, 0, len(in))
	for _, s := range in {
		kind := schemas.IntentKind(strings.ToLower(strings.TrimSpace(s.Kind)))
		if !allowed[kind] {
			continue
		}
		out = append(out, schemas.Suggestion{
			Kind:       kind,
			Target:     strings.TrimSpace(s.Target),
			Parameters: toParameters(s.Parameters),
			Confidence: clamp(s.Confidence),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func toParameters(m map[string]string) schemas.Parameters {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	params := make(schemas.Parameters, 0, len(keys))
	for _, k := range keys {
		params = append(params, schemas.Param{Key: k, Value: m[k]})
	}
	return params
}

func clamp(c float64) float64 {
	switch {
	case c != c || c < 0: // NaN
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func systemPrompt(vocabulary []schemas.IntentKind) string {
	kinds := make([]string, len(vocabulary))
	for i, k := range vocabulary {
		kinds[i] = string(k)
	}
	return `You translate one line of a Gherkin-style test step into a browser intent.
Respond with a single JSON object and nothing else:
{"suggestions": [{"kind": "<kind>", "target": "<element description or empty>", "parameters": {"<key>": "<value>"}, "confidence": <0..1>}]}

Allowed kinds: ` + strings.Join(kinds, ", ") + `
Parameter keys: url, text, value, key, seconds, condition, expected, match, state, name, direction.
The target describes the element in the words of the step, e.g. "the Submit button".
Return at most three suggestions, best first. Return an empty list if the step is not a browser action.`
}
