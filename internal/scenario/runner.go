package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

const endSessionTimeout = 10 * time.Second

// Seeder writes test data into a session before its first step.
type Seeder interface {
	Capture(sessionID, name, value string) error
}

// Exporter serializes a session's context once its steps have run.
type Exporter interface {
	Export(sessionID string) ([]byte, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithContextExport attaches each session's exported context to its report.
func WithContextExport(e Exporter) Option {
	return func(r *Runner) { r.exporter = e }
}

// Report summarises one scenario run.
type Report struct {
	Scenario  string               `json:"scenario"`
	SessionID string               `json:"session_id"`
	Passed    bool                 `json:"passed"`
	Results   []schemas.StepResult `json:"results"`
	Skipped   []string             `json:"skipped,omitempty"`
	Duration  time.Duration        `json:"duration"`
	Error     string               `json:"error,omitempty"`
	Context   json.RawMessage      `json:"context,omitempty"`
}

// Failed returns the first non-successful step result, if any.
func (r Report) Failed() (schemas.StepResult, bool) {
	for _, res := range r.Results {
		if res.Status != schemas.StatusSuccess {
			return res, true
		}
	}
	return schemas.StepResult{}, false
}

// Runner executes scenarios concurrently, each in its own session.
type Runner struct {
	steps       schemas.StepRunner
	seeder      Seeder
	exporter    Exporter
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner. seeder may be nil when no scenario carries data.
func NewRunner(steps schemas.StepRunner, seeder Seeder, concurrency int, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if steps == nil {
		return nil, errors.New("step runner cannot be nil")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{steps: steps, seeder: seeder, concurrency: concurrency, logger: logger.Named("scenario")}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes every scenario and returns one report per scenario in input
// order. Step failures are recorded in the reports; the error is reserved
// for session lifecycle problems and cancellation. A lifecycle failure in one
// scenario does not stop its siblings.
func (r *Runner) Run(ctx context.Context, scenarios []*Scenario) ([]Report, error) {
	reports := make([]Report, len(scenarios))
	errs := make([]error, len(scenarios))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, sc := range scenarios {
		g.Go(func() error {
			report, err := r.runOne(ctx, sc)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("scenario %q: %w", sc.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, sc *Scenario) (report Report, err error) {
	start := time.Now()
	report = Report{Scenario: sc.Name}
	defer func() { report.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		report.Skipped = append([]string(nil), sc.Steps...)
		report.Error = err.Error()
		return report, err
	}

	sessionID, err := r.steps.StartSession(ctx)
	if err != nil {
		report.Error = err.Error()
		return report, fmt.Errorf("failed to start session: %w", err)
	}
	report.SessionID = sessionID
	logger := r.logger.With(zap.String("scenario", sc.Name), zap.String("session_id", sessionID))

	defer func() {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endSessionTimeout)
		defer cancel()
		if endErr := r.steps.EndSession(endCtx, sessionID); endErr != nil {
			logger.Warn("Failed to end scenario session.", zap.Error(endErr))
		}
	}()

	if err := r.seed(sessionID, sc.Data); err != nil {
		report.Error = err.Error()
		return report, err
	}

	logger.Info("Running scenario.", zap.Int("steps", len(sc.Steps)))
	passed := true
	for i, text := range sc.Steps {
		if ctx.Err() != nil {
			report.Skipped = append(report.Skipped, sc.Steps[i:]...)
			passed = false
			break
		}
		res := r.steps.RunStep(ctx, sessionID, text, sc.StepTimeout)
		report.Results = append(report.Results, res)
		if res.Status == schemas.StatusSuccess {
			continue
		}
		passed = false
		logger.Info("Scenario step did not pass.",
			zap.Int("step", i+1),
			zap.String("status", string(res.Status)),
			zap.String("error_code", string(res.Evidence.ErrorCode)))
		if !sc.ContinueOnFailure {
			report.Skipped = append(report.Skipped, sc.Steps[i+1:]...)
			break
		}
	}
	report.Passed = passed
	if r.exporter != nil {
		raw, err := r.exporter.Export(sessionID)
		if err != nil {
			logger.Warn("Failed to export session context.", zap.Error(err))
		} else {
			report.Context = raw
		}
	}
	logger.Info("Scenario finished.", zap.Bool("passed", passed), zap.Int("skipped", len(report.Skipped)))
	return report, ctx.Err()
}

func (r *Runner) seed(sessionID string, data map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	if r.seeder == nil {
		return errors.New("scenario carries test data but the runner has no seeder")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.seeder.Capture(sessionID, k, data[k]); err != nil {
			return fmt.Errorf("failed to seed %q: %w", k, err)
		}
	}
	return nil
}
