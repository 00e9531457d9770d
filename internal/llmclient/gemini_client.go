// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

const (
	defaultAPITimeout     = 30 * time.Second
	defaultMaxElapsedTime = 2 * time.Minute
	defaultMaxInterval    = 30 * time.Second
)

// GoogleClient implements schemas.LLMClient on the Gemini API.
type GoogleClient struct {
	client *genai.Client
	logger *zap.Logger
	config config.LLMModelConfig

	// Retry envelope for transient API failures.
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// NewGoogleClient initializes the client. cfg.Endpoint overrides the API base
// URL, which is how tests point it at a local server.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GoogleClient{
		client:          client,
		logger:          logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		config:          cfg,
		initialInterval: backoff.DefaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		maxElapsedTime:  defaultMaxElapsedTime,
	}, nil
}

// Generate sends the prompts to Gemini and returns the first candidate's
// text. Rate limiting and server errors are retried with exponential backoff.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := genai.Text(req.UserPrompt)
	genCfg := c.generationConfig(req)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = c.maxElapsedTime

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genCfg)
		if err != nil {
			return c.classify(ctx, err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("gemini API returned no candidates"))
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			switch candidate.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content (reason: %s)", candidate.FinishReason)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount))
		}
		c.logger.Debug("LLM generation complete.", fields...)
		text = resp.Text()
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("LLM request failed, retrying.", zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

// Close releases client resources. The genai client holds none that need
// explicit release.
func (c *GoogleClient) Close() error { return nil }

func (c *GoogleClient) generationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	topP := float32(req.Options.TopP)
	if topP == 0 {
		topP = c.config.TopP
	}
	topK := req.Options.TopK
	if topK == 0 {
		topK = c.config.TopK
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(temperature),
		SafetySettings: c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP > 0 {
		cfg.TopP = genai.Ptr(topP)
	}
	if topK > 0 {
		cfg.TopK = genai.Ptr(float32(topK))
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func (c *GoogleClient) safetySettings() []*genai.SafetySetting {
	settings := make([]*genai.SafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}

// classify decides whether an API failure is worth another attempt.
func (c *GoogleClient) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("gemini API error %d: %w", apiErr.Code, err)
		}
		c.logger.Error("Gemini API rejected the request.", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
		return backoff.Permanent(fmt.Errorf("gemini API error %d: %w", apiErr.Code, err))
	}
	// Transport failures are transient.
	return fmt.Errorf("gemini request failed: %w", err)
}
