// File: cmd/stepdriver/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"version", []string{"version"}},
		{"run  a.yaml\tb.yaml", []string{"run", "a.yaml", "b.yaml"}},
		{`parse "When I type 'Alice' into the username field"`, []string{"parse", "When I type 'Alice' into the username field"}},
		{`parse 'the "quoted" one'`, []string{"parse", `the "quoted" one`}},
		{"parse I don't know", []string{"parse", "I", "don't", "know"}},
		{`parse ""`, []string{"parse", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, splitArgs(tt.line))
		})
	}
}

func TestInteractive(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("\nversion\nexit\nversion\n")

	require.NoError(t, interactive(context.Background(), in, &out))
	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "stepdriver dev\n"), "commands after exit are not run")
	assert.Contains(t, got, "Exiting stepdriver.")
}

func TestInteractive_ReportsCommandErrors(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, interactive(context.Background(), strings.NewReader("frobnicate\n"), &out))
	assert.Contains(t, out.String(), "Error:")
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("writes the panic log", func(t *testing.T) {
		var (
			written  []byte
			exitCode = -1
		)
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = data
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 2, exitCode)
		assert.Contains(t, string(written), "panic: boom")
		assert.Contains(t, string(written), "goroutine")
	})

	t.Run("falls back to stderr", func(t *testing.T) {
		exitCode := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 2, exitCode)
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		osExit = func(int) { t.Fatal("exit must not be called") }
		func() {
			defer handlePanic()
		}()
	})
}
