package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/mocks"
)

func TestNewLLMRouter_RequiresBothTiers(t *testing.T) {
	_, err := NewLLMRouter(nil, new(mocks.MockLLMClient), nil)
	assert.Error(t, err)
	_, err = NewLLMRouter(nil, nil, new(mocks.MockLLMClient))
	assert.Error(t, err)
}

func TestLLMRouter_RoutesByTier(t *testing.T) {
	fast, powerful := new(mocks.MockLLMClient), new(mocks.MockLLMClient)
	logger, _ := setupTestLogger(t)
	router, err := NewLLMRouter(logger, fast, powerful)
	require.NoError(t, err)

	fast.On("Generate", mock.Anything, mock.MatchedBy(func(r schemas.GenerationRequest) bool { return r.Tier != schemas.TierPowerful })).Return("fast", nil)
	powerful.On("Generate", mock.Anything, mock.MatchedBy(func(r schemas.GenerationRequest) bool { return r.Tier == schemas.TierPowerful })).Return("powerful", nil)

	out, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful", out)

	out, err = router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fast", out, "untiered requests go to the fast model")

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: "galaxy-brain"})
	assert.ErrorContains(t, err, "no LLM client configured")
}

func TestLLMRouter_CloseClosesEachClientOnce(t *testing.T) {
	shared := new(mocks.MockLLMClient)
	shared.On("Close").Return(nil).Once()
	router, err := NewLLMRouter(nil, shared, shared)
	require.NoError(t, err)
	assert.NoError(t, router.Close())
	shared.AssertExpectations(t)

	fast, powerful := new(mocks.MockLLMClient), new(mocks.MockLLMClient)
	fast.On("Close").Return(nil)
	powerful.On("Close").Return(errors.New("boom"))
	router, err = NewLLMRouter(nil, fast, powerful)
	require.NoError(t, err)
	assert.ErrorContains(t, router.Close(), "boom")
}

func TestNewClient(t *testing.T) {
	logger, _ := setupTestLogger(t)
	fastCfg := getValidLLMConfig()
	fastCfg.Model = "gemini-flash"
	proCfg := getValidLLMConfig()
	proCfg.Model = "gemini-pro"

	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "fast",
		DefaultPowerfulModel: "pro",
		Models:               map[string]config.LLMModelConfig{"fast": fastCfg, "pro": proCfg},
	}}
	client, err := NewClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	router, ok := client.(*LLMRouter)
	require.True(t, ok)
	assert.NotSame(t, router.clients[schemas.TierFast], router.clients[schemas.TierPowerful])

	cfg.LLM.DefaultPowerfulModel = "fast"
	client, err = NewClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	router = client.(*LLMRouter)
	assert.Same(t, router.clients[schemas.TierFast], router.clients[schemas.TierPowerful])

	cfg.LLM.DefaultPowerfulModel = "missing"
	_, err = NewClient(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, `"missing" is not configured`)

	bad := getValidLLMConfig()
	bad.Provider = "openai"
	cfg.LLM.Models["odd"] = bad
	cfg.LLM.DefaultPowerfulModel = "odd"
	_, err = NewClient(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "unsupported LLM provider")
}
