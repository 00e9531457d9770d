package schemas

import (
	"context"
	"time"
)

// -- Pipeline Interfaces --

// StepRunner is the inbound surface of the pipeline. Every step-level failure
// is reported inside the returned StepResult; only session lifecycle calls
// return errors.
type StepRunner interface {
	// StartSession creates a fresh context and browser, returning the session id.
	StartSession(ctx context.Context) (string, error)
	// RunStep parses, resolves, executes and validates one step.
	RunStep(ctx context.Context, sessionID, stepText string, timeout time.Duration) StepResult
	// EndSession releases the session's browser and discards its context.
	EndSession(ctx context.Context, sessionID string) error
}

// ParseHints is the read-only view of session state the parser may consult.
type ParseHints struct {
	Variables map[string]string // Values for ${name} interpolation.
	Aliases   []string          // Phrases bound earlier in the session, e.g. "it".
}

// -- Intent Suggestion --

// Suggestion is one ranked reading of a step proposed by an external source.
type Suggestion struct {
	Kind       IntentKind `json:"kind"`
	Target     string     `json:"target,omitempty"`
	Parameters Parameters `json:"parameters,omitempty"`
	Confidence float64    `json:"confidence"`
}

// IntentSuggester proposes readings for steps the pattern vocabulary cannot
// classify. It is optional and fallible: callers must treat any error,
// including ErrSuggesterUnavailable, as "no suggestion".
//
//go:generate mockery --name IntentSuggester --output ../../internal/mocks --outpkg mocks
type IntentSuggester interface {
	SuggestIntent(ctx context.Context, rawText string, vocabulary []IntentKind) ([]Suggestion, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls sampling and output format of a generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the language model provider.
//
//go:generate mockery --name LLMClient --output ../../internal/mocks --outpkg mocks
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases provider resources.
	Close() error
}
