package schemas

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every stage of the pipeline. Stages wrap them with
// fmt.Errorf("...: %w") and callers test with errors.Is.
var (
	ErrUnparsableStep          = errors.New("step could not be parsed")
	ErrAmbiguousIntent         = errors.New("step is ambiguous")
	ErrNoMatch                 = errors.New("no element matches the target")
	ErrActionTimeout           = errors.New("action timed out")
	ErrValidationTimeout       = errors.New("validation timed out")
	ErrElementNotInteractable  = errors.New("element is not interactable")
	ErrStaleLocator            = errors.New("element is no longer attached to the page")
	ErrElementNotFound         = errors.New("element not found")
	ErrNavigationPending       = errors.New("navigation in progress")
	ErrUnsupportedAction       = errors.New("action not supported")
	ErrConcurrentSessionAccess = errors.New("session is busy with another step")
	ErrSessionNotFound         = errors.New("session not found")
	ErrNoCheckpoint            = errors.New("no checkpoint to roll back to")
	ErrSuggesterUnavailable    = errors.New("intent suggester unavailable")
	ErrBrowserClosed           = errors.New("browser closed")
	ErrInvalidParameters       = errors.New("invalid step parameters")
)

// ErrorCode is the stable, machine-readable label recorded in step evidence.
type ErrorCode string

const (
	ErrCodeNone                 ErrorCode = ""
	ErrCodeUnparsableStep       ErrorCode = "UNPARSABLE_STEP"
	ErrCodeAmbiguousIntent      ErrorCode = "AMBIGUOUS_INTENT"
	ErrCodeNoMatch              ErrorCode = "NO_MATCH"
	ErrCodeActionTimeout        ErrorCode = "ACTION_TIMEOUT"
	ErrCodeValidationTimeout    ErrorCode = "VALIDATION_TIMEOUT"
	ErrCodeNotInteractable      ErrorCode = "ELEMENT_NOT_INTERACTABLE"
	ErrCodeStaleLocator         ErrorCode = "STALE_LOCATOR"
	ErrCodeElementNotFound      ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeNavigationPending    ErrorCode = "NAVIGATION_PENDING"
	ErrCodeUnsupportedAction    ErrorCode = "UNSUPPORTED_ACTION"
	ErrCodeConcurrentAccess     ErrorCode = "CONCURRENT_SESSION_ACCESS"
	ErrCodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeNoCheckpoint         ErrorCode = "NO_CHECKPOINT"
	ErrCodeValidationFailure    ErrorCode = "VALIDATION_FAILURE"
	ErrCodeBrowserClosed        ErrorCode = "BROWSER_CLOSED"
	ErrCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrCodeExecutionFailure     ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeSuggesterUnavailable ErrorCode = "SUGGESTER_UNAVAILABLE"
)

var codeTable = []struct {
	err  error
	code ErrorCode
}{
	{ErrUnparsableStep, ErrCodeUnparsableStep},
	{ErrAmbiguousIntent, ErrCodeAmbiguousIntent},
	{ErrNoMatch, ErrCodeNoMatch},
	{ErrActionTimeout, ErrCodeActionTimeout},
	{ErrValidationTimeout, ErrCodeValidationTimeout},
	{ErrElementNotInteractable, ErrCodeNotInteractable},
	{ErrStaleLocator, ErrCodeStaleLocator},
	{ErrElementNotFound, ErrCodeElementNotFound},
	{ErrNavigationPending, ErrCodeNavigationPending},
	{ErrUnsupportedAction, ErrCodeUnsupportedAction},
	{ErrConcurrentSessionAccess, ErrCodeConcurrentAccess},
	{ErrSessionNotFound, ErrCodeSessionNotFound},
	{ErrNoCheckpoint, ErrCodeNoCheckpoint},
	{ErrBrowserClosed, ErrCodeBrowserClosed},
	{ErrSuggesterUnavailable, ErrCodeSuggesterUnavailable},
	{ErrInvalidParameters, ErrCodeInvalidParameters},
}

// CodeOf maps an error onto its evidence code. Unknown errors map to
// ErrCodeExecutionFailure and nil maps to ErrCodeNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ErrCodeExecutionFailure
}

// AmbiguityError reports that a step could not be narrowed to one reading.
// It carries everything a tester needs to rewrite the step.
type AmbiguityError struct {
	Stage        string // "parse" or "resolve"
	Candidates   []CandidateLocator
	Alternatives []IntentKind
}

func (e *AmbiguityError) Error() string {
	if len(e.Candidates) > 0 {
		descs := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			descs = append(descs, c.String())
		}
		return fmt.Sprintf("%s: %d elements match equally well: %s", ErrAmbiguousIntent, len(e.Candidates), strings.Join(descs, "; "))
	}
	alts := make([]string, 0, len(e.Alternatives))
	for _, k := range e.Alternatives {
		alts = append(alts, string(k))
	}
	return fmt.Sprintf("%s: could mean %s", ErrAmbiguousIntent, strings.Join(alts, " or "))
}

// Unwrap lets errors.Is(err, ErrAmbiguousIntent) succeed.
func (e *AmbiguityError) Unwrap() error { return ErrAmbiguousIntent }

// IsTimeout reports whether err stems from a deadline rather than a failure
// of the page itself.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrActionTimeout) ||
		errors.Is(err, ErrValidationTimeout)
}

// IsTransient reports whether an action failure is worth retrying. Stale
// locators, elements that are not yet interactable and in-flight navigations
// usually resolve themselves; everything else fails fast.
func IsTransient(err error) bool {
	if err == nil || IsTimeout(err) {
		return false
	}
	return errors.Is(err, ErrStaleLocator) ||
		errors.Is(err, ErrElementNotInteractable) ||
		errors.Is(err, ErrNavigationPending)
}
