// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

// NewClient builds the tier router from the agent configuration. Both tiers
// may name the same model, in which case one client serves both.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clients := make(map[string]schemas.LLMClient, 2)
	build := func(name string) (schemas.LLMClient, error) {
		if c, ok := clients[name]; ok {
			return c, nil
		}
		modelCfg, ok := cfg.LLM.Models[name]
		if !ok {
			return nil, fmt.Errorf("model %q is not configured under agent.llm.models", name)
		}
		var (
			c   schemas.LLMClient
			err error
		)
		switch modelCfg.Provider {
		case config.ProviderGemini, "":
			c, err = NewGoogleClient(ctx, modelCfg, logger)
		default:
			return nil, fmt.Errorf("unsupported LLM provider %q for model %q; supported: [%s]", modelCfg.Provider, name, config.ProviderGemini)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create client for model %q: %w", name, err)
		}
		clients[name] = c
		return c, nil
	}

	fast, err := build(cfg.LLM.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerful, err := build(cfg.LLM.DefaultPowerfulModel)
	if err != nil {
		return nil, err
	}
	return NewLLMRouter(logger, fast, powerful)
}
