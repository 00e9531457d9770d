package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/executor"
	"github.com/xkilldash9x/stepdriver/internal/observability"
	"github.com/xkilldash9x/stepdriver/internal/resolver"
	"github.com/xkilldash9x/stepdriver/internal/validator"
)

// stage is a point in a step's life. Every change is logged.
type stage string

const (
	stageReceived   stage = "received"
	stageParsed     stage = "parsed"
	stageResolving  stage = "resolving"
	stageExecuting  stage = "executing"
	stageValidating stage = "validating"
	stageCompleted  stage = "completed"
	stageFailed     stage = "failed"
	stageAmbiguous  stage = "ambiguous"
)

// step carries one RunStep call through the pipeline.
type step struct {
	result  schemas.StepResult
	stage   stage
	logger  *zap.Logger
	browser schemas.Browser
	snap    *schemas.PageSnapshot
}

func (s *step) enter(next stage) {
	s.logger.Debug("Step state changed.", zap.String("from", string(s.stage)), zap.String("to", string(next)))
	s.stage = next
}

func (s *step) fail(err error) {
	s.result.Status = schemas.StatusFailed
	s.result.Evidence.Error = err.Error()
	s.result.Evidence.ErrorCode = schemas.CodeOf(err)
	s.enter(stageFailed)
}

func (s *step) ambiguous(err *schemas.AmbiguityError) {
	s.result.Status = schemas.StatusAmbiguous
	s.result.Evidence.Error = err.Error()
	s.result.Evidence.ErrorCode = schemas.ErrCodeAmbiguousIntent
	s.result.Evidence.Candidates = err.Candidates
	s.result.Evidence.Alternatives = err.Alternatives
	s.enter(stageAmbiguous)
}

func (s *step) succeed() {
	s.result.Status = schemas.StatusSuccess
	s.enter(stageCompleted)
}

func (s *step) note(format string, args ...any) {
	s.result.Evidence.Notes = append(s.result.Evidence.Notes, fmt.Sprintf(format, args...))
}

// RunStep parses stepText and carries it out in the session. Every outcome,
// including failures, is reported in the returned result. Each call that
// gets hold of the session appends exactly one entry to its history.
func (o *Orchestrator) RunStep(ctx context.Context, sessionID, stepText string, timeout time.Duration) schemas.StepResult {
	started := o.now()
	s := &step{
		result: schemas.StepResult{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Index:     -1,
			Intent:    schemas.Intent{RawText: stepText},
			StartedAt: started,
		},
		stage:  stageReceived,
		logger: observability.ForSession(o.logger, sessionID).With(zap.String("step", stepText)),
	}
	defer func() {
		s.result.Duration = o.now().Sub(started)
		o.metrics.ObserveStep(string(s.result.Intent.Kind), string(s.result.Status), s.result.Duration, s.result.Evidence.Retries)
	}()

	if timeout <= 0 {
		timeout = o.cfg.Pipeline().StepTimeout
	}
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := o.cfg.Pipeline().SessionContention == config.ContentionQueue
	release, err := o.store.Acquire(stepCtx, sessionID, wait)
	if err != nil {
		s.fail(err)
		s.logger.Warn("Step rejected.", zap.Error(err))
		return s.result
	}
	defer release()

	o.run(stepCtx, s)

	if s.result.Status == schemas.StatusFailed && o.cfg.Pipeline().ScreenshotOnFail {
		o.attachScreenshot(ctx, s)
	}
	s.result.Duration = o.now().Sub(started)
	index, err := o.store.AppendHistory(sessionID, s.result)
	if err != nil {
		s.logger.Error("Failed to record step in history.", zap.Error(err))
	} else {
		s.result.Index = index
	}

	s.logger.Info("Step finished.",
		zap.String("status", string(s.result.Status)),
		zap.String("kind", string(s.result.Intent.Kind)),
		zap.String("error_code", string(s.result.Evidence.ErrorCode)),
		zap.Int("retries", s.result.Evidence.Retries),
		zap.Duration("duration", s.result.Duration))
	return s.result
}

// run drives s to a terminal stage. A panic anywhere below becomes a failed
// step so the session lock and history stay consistent.
func (o *Orchestrator) run(ctx context.Context, s *step) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic while running step.",
				zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			s.result.Status = schemas.StatusFailed
			s.result.Evidence.Error = fmt.Sprintf("internal error: %v", r)
			s.result.Evidence.ErrorCode = schemas.ErrCodeInternal
			s.enter(stageFailed)
		}
	}()

	id := s.result.SessionID
	intent, err := o.parser.Parse(ctx, s.result.Intent.RawText, o.store.Hints(id))
	if err != nil {
		s.fail(err)
		return
	}
	s.result.Intent = intent
	s.enter(stageParsed)
	if intent.Ambiguous {
		s.ambiguous(&schemas.AmbiguityError{Stage: "parse", Alternatives: intent.Alternatives})
		return
	}

	if intent.Kind.IsContextOnly() {
		o.contextStep(s)
		return
	}

	s.browser = o.browser(id)
	if s.browser == nil {
		s.fail(fmt.Errorf("session %s: %w", id, schemas.ErrBrowserClosed))
		return
	}

	loc, ok := o.resolve(ctx, s)
	if !ok {
		return
	}
	s.result.LocatorUsed = loc

	if intent.Kind.IsAssertion() {
		o.validate(ctx, s, loc)
		return
	}
	o.execute(ctx, s, loc)
}

// contextStep handles checkpoint and reset, which touch only the store.
func (o *Orchestrator) contextStep(s *step) {
	id := s.result.SessionID
	var err error
	switch s.result.Intent.Kind {
	case schemas.KindCheckpoint:
		err = o.store.Checkpoint(id)
	case schemas.KindReset:
		err = o.store.Rollback(id)
	}
	if err != nil {
		s.fail(err)
		return
	}
	s.succeed()
}

// toleratesNoMatch reports whether a step may proceed when nothing on the page
// matches its target. Assertions turn that into a verdict; waits poll for it.
func toleratesNoMatch(kind schemas.IntentKind) bool {
	return kind.IsAssertion() || kind == schemas.KindWait
}

// resolve picks the element the step acts on. It returns ok false when the
// step has already reached a terminal stage.
func (o *Orchestrator) resolve(ctx context.Context, s *step) (*schemas.CandidateLocator, bool) {
	intent := s.result.Intent
	if !intent.HasTarget() {
		return nil, true
	}
	s.enter(stageResolving)

	snap, err := s.browser.SnapshotPage(ctx)
	if err != nil {
		if schemas.IsTimeout(err) {
			err = fmt.Errorf("%w: snapshot: %v", schemas.ErrActionTimeout, err)
		}
		s.fail(fmt.Errorf("failed to snapshot the page: %w", err))
		return nil, false
	}
	s.snap = snap

	sctx, _ := o.store.Lookup(s.result.SessionID)
	res, err := o.resolver.Resolve(intent, snap, sctx)
	switch {
	case errors.Is(err, schemas.ErrNoMatch) && toleratesNoMatch(intent.Kind):
		s.note("nothing on the page matches %q", intent.Target.String())
		return nil, true
	case errors.Is(err, resolver.ErrNoSnapshot):
		s.fail(fmt.Errorf("%w: %v", schemas.ErrBrowserClosed, err))
		return nil, false
	case err != nil:
		s.fail(err)
		return nil, false
	}
	s.result.Evidence.Candidates = res.Candidates

	best, _ := res.Best()
	if res.Ambiguous {
		contenders := res.Contenders()
		if o.cfg.Pipeline().AmbiguityPolicy != config.AmbiguityPickFirst {
			s.ambiguous(&schemas.AmbiguityError{Stage: "resolve", Candidates: contenders})
			return nil, false
		}
		best = firstInDocument(snap, contenders)
		s.note("%d elements matched equally well; picked the first on the page: %s", len(contenders), best.Description)
		s.logger.Warn("Ambiguous target, picking the first in document order.", zap.Int("tied", len(contenders)))
	}
	return &best, true
}

// firstInDocument returns the contender that appears first in snap.
func firstInDocument(snap *schemas.PageSnapshot, contenders []schemas.CandidateLocator) schemas.CandidateLocator {
	for _, el := range snap.Elements {
		for _, c := range contenders {
			if c.ElementRef == el.Ref {
				return c
			}
		}
	}
	return contenders[0]
}

func (o *Orchestrator) execute(ctx context.Context, s *step, loc *schemas.CandidateLocator) {
	s.enter(stageExecuting)
	out, err := o.executor.Execute(ctx, executor.Call{
		SessionID: s.result.SessionID,
		Intent:    s.result.Intent,
		Locator:   loc,
		Browser:   s.browser,
	})
	s.result.Evidence.Retries = out.Retries
	s.result.Evidence.Notes = append(s.result.Evidence.Notes, out.Notes...)
	if out.Locator != nil {
		s.result.LocatorUsed = out.Locator
	}
	if err != nil {
		s.fail(err)
		return
	}

	switch {
	case out.Output.Text != "":
		s.result.Evidence.MatchedText = out.Output.Text
	case out.Locator != nil:
		s.result.Evidence.MatchedText = out.Locator.Description
	}
	if len(out.Output.Screenshot) > 0 && s.result.Intent.Kind == schemas.KindScreenshot {
		s.result.Evidence.ScreenshotRef = o.saveArtifact(s, out.Output.Screenshot)
	}
	s.succeed()
}

func (o *Orchestrator) validate(ctx context.Context, s *step, loc *schemas.CandidateLocator) {
	s.enter(stageValidating)
	if limit := o.cfg.Pipeline().ValidationTimeout; limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	verdict := o.validator.Validate(ctx, validator.Request{
		SessionID: s.result.SessionID,
		Intent:    s.result.Intent,
		Locator:   loc,
		Browser:   s.browser,
	})
	s.result.Evidence.Verdict = &verdict
	s.result.Evidence.MatchedText = verdict.Actual

	switch {
	case verdict.Err != nil:
		s.fail(verdict.Err)
	case !verdict.Passed():
		s.result.Status = schemas.StatusFailed
		s.result.Evidence.ErrorCode = schemas.ErrCodeValidationFailure
		s.result.Evidence.Error = fmt.Sprintf("expected %q, got %q", verdict.Expected, verdict.Actual)
		s.enter(stageFailed)
	default:
		s.succeed()
	}
}

// attachScreenshot captures the page after a failure. It runs on its own
// short deadline because the step's may already be spent.
func (o *Orchestrator) attachScreenshot(parent context.Context, s *step) {
	b := s.browser
	if b == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), closeTimeout)
	defer cancel()
	shot, err := b.CaptureRegion(ctx, nil)
	if err != nil {
		s.logger.Debug("Could not capture failure screenshot.", zap.Error(err))
		return
	}
	s.result.Evidence.ScreenshotRef = o.saveArtifact(s, shot)
}

// saveArtifact writes png under the artifact directory and returns its path.
// Without a directory nothing is written and the reference stays empty.
func (o *Orchestrator) saveArtifact(s *step, png []byte) string {
	dir := o.cfg.Pipeline().ArtifactDir
	if dir == "" {
		return ""
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		s.logger.Warn("Invalid artifact directory.", zap.Error(err))
		return ""
	}
	dir = filepath.Join(dir, s.result.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("Failed to create artifact directory.", zap.String("dir", dir), zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, s.result.ID+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		s.logger.Warn("Failed to write artifact.", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}
