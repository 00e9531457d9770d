package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginScenario = `
name: login
description: signs in with the seeded user
data:
  user: Alice
step_timeout: 5s
steps:
  - Given I navigate to '${base}/login'
  - When I type '${user}' into the username field
  - Then the page should show 'Welcome, Alice'
`

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(loginScenario), "fallback")
	require.NoError(t, err)
	assert.Equal(t, "login", sc.Name)
	assert.Equal(t, map[string]string{"user": "Alice"}, sc.Data)
	assert.Equal(t, 5*time.Second, sc.StepTimeout)
	assert.Len(t, sc.Steps, 3)
	assert.False(t, sc.ContinueOnFailure)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no steps", "name: empty\n", "has no steps"},
		{"blank step", "steps:\n  - ' '\n", "step 1 is empty"},
		{"bad yaml", "steps: [unterminated\n", "failed to decode"},
		{"negative timeout", "step_timeout: -1s\nsteps: [x]\n", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "doc")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_NamesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - Given I navigate to 'example.com'\n"), 0o600))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", sc.Name)
	assert.Equal(t, path, sc.Path)
}

func TestLoadAll_ReportsEveryFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("steps: [x]\n"), 0o600))

	_, err := LoadAll([]string{good, filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.yaml")
	assert.Contains(t, err.Error(), "b.yaml")

	all, err := LoadAll([]string{good})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
