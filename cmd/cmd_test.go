// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/observability"
	"github.com/xkilldash9x/stepdriver/internal/scenario"
)

const testConfigYAML = `
logger:
  level: fatal
browser:
  driver: dom
  poll_interval: 5ms
retry:
  initial_interval: 1ms
  max_interval: 5ms
`

// resetForTest silences the global logger and returns a config file path.
func resetForTest(t *testing.T) string {
	t.Helper()
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newShop(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Shop</title></head><body>
<form><button type="submit">Submit</button></form>
<form><button type="submit">Submit</button></form>
<a href="/cart">Cart</a></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeScenario(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	resetForTest(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "stepdriver dev\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestParseCommand(t *testing.T) {
	cfgPath := resetForTest(t)

	out, err := execute(t, "parse", "-c", cfgPath, "--var", "user=alice", "When I type '${user}' into the username field")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "type"`)
	assert.Contains(t, out, `"alice"`)

	_, err = execute(t, "parse", "-c", cfgPath, "lorem ipsum dolor")
	assert.Error(t, err)

	_, err = execute(t, "parse", "-c", cfgPath, "--var", "novalue", "click it")
	assert.ErrorContains(t, err, "want name=value")
}

func TestRunCommand_Passes(t *testing.T) {
	cfgPath := resetForTest(t)
	srv := newShop(t)
	sc := writeScenario(t, "shop.yaml", fmt.Sprintf(`
name: shop
data:
  base: %s
steps:
  - Given I navigate to '${base}/'
  - Then the title should be 'Shop'
  - When I click the Cart link
`, srv.URL))

	out, err := execute(t, "run", "-c", cfgPath, sc)
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS shop (3/3 steps")
}

func TestRunCommand_ReportsAmbiguity(t *testing.T) {
	cfgPath := resetForTest(t)
	srv := newShop(t)
	sc := writeScenario(t, "ambiguous.yaml", fmt.Sprintf(`
steps:
  - Given I navigate to '%s/'
  - When I click the Submit button
  - Then the page should show 'Thanks'
`, srv.URL))

	out, err := execute(t, "run", "-c", cfgPath, sc)
	assert.ErrorIs(t, err, errScenarioFailed)
	assert.Contains(t, out, "FAIL ambiguous (1/3 steps")
	assert.Contains(t, out, "AMBIGUOUS")
	assert.GreaterOrEqual(t, strings.Count(out, "candidate "), 2, out)
	assert.Contains(t, out, `SKIPPED "Then the page should show 'Thanks'"`)
}

func TestRunCommand_JSONAndPickFirst(t *testing.T) {
	cfgPath := resetForTest(t)
	srv := newShop(t)
	sc := writeScenario(t, "pick.yaml", fmt.Sprintf(`
name: pick
steps:
  - Given I navigate to '%s/'
  - When I click the Submit button
`, srv.URL))

	out, err := execute(t, "run", "-c", cfgPath, "--ambiguity", "pick_first", "--export-context", "-o", "json", sc)
	require.NoError(t, err, out)

	var reports []scenario.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)
	assert.NotEmpty(t, reports[0].Results[1].Evidence.Notes)
	assert.Contains(t, string(reports[0].Context), `"history"`)
}

func TestRunCommand_JUnitReportFile(t *testing.T) {
	cfgPath := resetForTest(t)
	srv := newShop(t)
	sc := writeScenario(t, "shop.yaml", fmt.Sprintf(`
steps:
  - Given I navigate to '%s/'
  - When I click the Cart link
`, srv.URL))
	report := filepath.Join(t.TempDir(), "junit.xml")

	out, err := execute(t, "run", "-c", cfgPath, "-o", "junit", "--report-file", report, sc)
	require.NoError(t, err, out)
	assert.Empty(t, out)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<testsuite name="shop"`)
	assert.Contains(t, string(data), `failures="0"`)
}

func TestRunCommand_Errors(t *testing.T) {
	cfgPath := resetForTest(t)

	_, err := execute(t, "run", "-c", cfgPath)
	assert.Error(t, err, "at least one scenario is required")

	_, err = execute(t, "run", "-c", cfgPath, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario")

	sc := writeScenario(t, "x.yaml", "steps: [x]\n")
	_, err = execute(t, "run", "-c", cfgPath, "-o", "xml", sc)
	assert.ErrorContains(t, err, "unsupported output format")

	_, err = execute(t, "run", "-c", cfgPath, "--ambiguity", "coin_flip", sc)
	assert.ErrorContains(t, err, "ambiguity_policy")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("browser: [nope"), 0o600))
	_, err = execute(t, "run", "-c", bad, sc)
	assert.ErrorContains(t, err, "error reading config file")
}
