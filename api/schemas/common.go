package schemas

import (
	"time"
)

// -- Result Schemas --

// StepStatus is the terminal status of one step execution.
type StepStatus string

const (
	StatusSuccess   StepStatus = "success"
	StatusFailed    StepStatus = "failed"
	StatusAmbiguous StepStatus = "ambiguous"
	StatusSkipped   StepStatus = "skipped"
)

// VerdictOutcome is the result of a validation.
type VerdictOutcome string

const (
	VerdictPass VerdictOutcome = "pass"
	VerdictFail VerdictOutcome = "fail"
)

// Verdict is what the validator returns. A failing verdict is a test outcome,
// not an error; Err is only set when validation itself could not complete.
type Verdict struct {
	Outcome  VerdictOutcome `json:"outcome"`
	Expected string         `json:"expected,omitempty"`
	Actual   string         `json:"actual,omitempty"`
	Score    float64        `json:"score,omitempty"` // Similarity for visual checks.
	Note     string         `json:"note,omitempty"`
	Err      error          `json:"-"`
}

// Passed reports whether the verdict is a pass.
func (v Verdict) Passed() bool { return v.Outcome == VerdictPass && v.Err == nil }

// Evidence is the diagnostic payload attached to every step result.
type Evidence struct {
	MatchedText   string             `json:"matched_text,omitempty"`
	ScreenshotRef string             `json:"screenshot_ref,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorCode     ErrorCode          `json:"error_code,omitempty"`
	Retries       int                `json:"retries"`
	Candidates    []CandidateLocator `json:"candidates,omitempty"`
	Alternatives  []IntentKind       `json:"alternatives,omitempty"`
	Verdict       *Verdict           `json:"verdict,omitempty"`
	Notes         []string           `json:"notes,omitempty"`
}

// StepResult is the outcome of one RunStep call. It is appended to the
// session history exactly once.
type StepResult struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Index       int               `json:"index"` // Position in the session history.
	Status      StepStatus        `json:"status"`
	Intent      Intent            `json:"intent"`
	LocatorUsed *CandidateLocator `json:"locator_used,omitempty"`
	Evidence    Evidence          `json:"evidence"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}

// Succeeded reports whether the step completed successfully.
func (r StepResult) Succeeded() bool { return r.Status == StatusSuccess }
