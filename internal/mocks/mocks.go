// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Pipeline() config.PipelineConfig {
	args := m.Called()
	return args.Get(0).(config.PipelineConfig)
}

func (m *MockConfig) Parser() config.ParserConfig {
	args := m.Called()
	return args.Get(0).(config.ParserConfig)
}

func (m *MockConfig) Resolver() config.ResolverConfig {
	args := m.Called()
	return args.Get(0).(config.ResolverConfig)
}

func (m *MockConfig) Retry() config.RetryConfig {
	args := m.Called()
	return args.Get(0).(config.RetryConfig)
}

func (m *MockConfig) Validator() config.ValidatorConfig {
	args := m.Called()
	return args.Get(0).(config.ValidatorConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserDriver(d string) {
	m.Called(d)
}

func (m *MockConfig) SetBrowserConcurrency(n int) {
	m.Called(n)
}

func (m *MockConfig) SetPipelineAmbiguityPolicy(p string) {
	m.Called(p)
}

func (m *MockConfig) SetPipelineStepTimeout(d time.Duration) {
	m.Called(d)
}

func (m *MockConfig) SetParserSuggesterEnabled(b bool) {
	m.Called(b)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Intent Suggester Mock --

// MockIntentSuggester mocks the schemas.IntentSuggester interface.
type MockIntentSuggester struct {
	mock.Mock
}

func (m *MockIntentSuggester) SuggestIntent(ctx context.Context, rawText string, vocabulary []schemas.IntentKind) ([]schemas.Suggestion, error) {
	args := m.Called(ctx, rawText, vocabulary)
	var out []schemas.Suggestion
	if v := args.Get(0); v != nil {
		out = v.([]schemas.Suggestion)
	}
	return out, args.Error(1)
}
