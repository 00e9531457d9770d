package llmclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

const okResponse = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "{\"kind\":\"click\"}"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 4, "totalTokenCount": 16}
}`

// setupGeminiClient points a GoogleClient at a local server with a fast
// retry envelope.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) *GoogleClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := setupTestLogger(t)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL + "/"
	client, err := NewGoogleClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	client.initialInterval = time.Millisecond
	client.maxInterval = 5 * time.Millisecond
	client.maxElapsedTime = 2 * time.Second
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "Classify the step.",
		UserPrompt:   "tap the login button",
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	}
}

func TestNewGoogleClient_Validation(t *testing.T) {
	logger, _ := setupTestLogger(t)

	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	_, err := NewGoogleClient(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "API key")

	cfg = getValidLLMConfig()
	cfg.Model = ""
	_, err = NewGoogleClient(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "model")

	client, err := NewGoogleClient(context.Background(), getValidLLMConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestGenerate_Success(t *testing.T) {
	var body string
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/test-model:generateContent"), r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		writeJSON(w, http.StatusOK, okResponse)
	})

	text, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"click"}`, text)
	assert.Contains(t, body, "tap the login button")
	assert.Contains(t, body, "Classify the step.")
	assert.Contains(t, body, "application/json")
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`)
			return
		}
		writeJSON(w, http.StatusOK, okResponse)
	})

	text, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"click"}`, text)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestGenerate_PermanentErrorsFailFast(t *testing.T) {
	var calls atomic.Int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, `{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_BlockedResponse(t *testing.T) {
	var calls atomic.Int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, `{"candidates": [{"finishReason": "SAFETY"}]}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "blocked")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_HonorsCancellation(t *testing.T) {
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"error": {"code": 503, "message": "overloaded"}}`)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, createTestRequest())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
