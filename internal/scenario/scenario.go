// Package scenario loads step scenarios from YAML and runs them against a
// step runner, one session per scenario.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Scenario is one ordered list of steps plus the test data seeded into the
// session before the first step runs. Data is addressable from steps as
// ${name}.
type Scenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Data        map[string]string `yaml:"data,omitempty"`
	Steps       []string          `yaml:"steps"`
	// StepTimeout overrides the configured per-step timeout when set.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`
	// ContinueOnFailure runs the remaining steps after a failed one instead
	// of marking them skipped.
	ContinueOnFailure bool `yaml:"continue_on_failure,omitempty"`

	Path string `yaml:"-"`
}

// Parse decodes a scenario document. name is used when the document has none.
func Parse(data []byte, name string) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario %s: %w", name, err)
	}
	if sc.Name == "" {
		sc.Name = name
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads a scenario file. A leading ~ in path is expanded.
func Load(path string) (*Scenario, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand scenario path %s: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(expanded), filepath.Ext(expanded))
	sc, err := Parse(data, base)
	if err != nil {
		return nil, err
	}
	sc.Path = expanded
	return sc, nil
}

// LoadAll loads every path, reporting all failures together.
func LoadAll(paths []string) ([]*Scenario, error) {
	out := make([]*Scenario, 0, len(paths))
	var errs []error
	for _, p := range paths {
		sc, err := Load(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, sc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that the scenario can run.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("scenario %q: step %d is empty", s.Name, i+1)
		}
	}
	for k := range s.Data {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("scenario %q: test data has an empty key", s.Name)
		}
	}
	if s.StepTimeout < 0 {
		return fmt.Errorf("scenario %q: step_timeout must not be negative", s.Name)
	}
	return nil
}
