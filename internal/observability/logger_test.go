// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/stepdriver/internal/config"
)

// initToBuffer resets the global logger and points it at an in-memory buffer.
func initToBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger colorizes levels", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, ansiColors["green"])
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("uncolored level when no color configured", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "debug", Format: "console"})
		GetLogger().Warn("plain")
		Sync()
		assert.Contains(t, buf.String(), "WARN")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("json logger emits structured entries", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("level filter drops debug at info", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json"})
		GetLogger().Debug("hidden")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("writes to a rotated log file when configured", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stepdriver.log")
		initToBuffer(t, config.LoggerConfig{Level: "debug", Format: "json", LogFile: path, MaxSize: 1})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("only initializes once", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		second := GetLogger()

		assert.Equal(t, first, second)
		second.Info("test")
		Sync()
		assert.True(t, strings.Contains(buf.String(), "First"))
		assert.False(t, strings.Contains(buf.String(), "Second"))
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the global logger after initialization", func(t *testing.T) {
		initToBuffer(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}

func TestForSession(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json"})
	ForSession(GetLogger(), "sess-42").Info("tagged")
	Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-42", entry["session_id"])
}
