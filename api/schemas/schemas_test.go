package schemas_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

// TestIntentKindPredicates pins down which kinds are assertions, context-only
// commands and which cannot run without a target element.
func TestIntentKindPredicates(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		kind      schemas.IntentKind
		assertion bool
		ctxOnly   bool
		needsElem bool
	}{
		{schemas.KindNavigate, false, false, false},
		{schemas.KindClick, false, false, true},
		{schemas.KindType, false, false, true},
		{schemas.KindPress, false, false, false},
		{schemas.KindWait, false, false, false},
		{schemas.KindAssertText, true, false, false},
		{schemas.KindAssertVisible, true, false, true},
		{schemas.KindAssertURL, true, false, false},
		{schemas.KindCheckpoint, false, true, false},
		{schemas.KindReset, false, true, false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.kind.Valid())
			assert.Equal(t, tt.assertion, tt.kind.IsAssertion())
			assert.Equal(t, tt.ctxOnly, tt.kind.IsContextOnly())
			assert.Equal(t, tt.needsElem, tt.kind.RequiresTarget())
		})
	}

	assert.False(t, schemas.IntentKind("teleport").Valid())
}

func TestParameters(t *testing.T) {
	t.Parallel()

	p := schemas.Parameters{
		{Key: schemas.ParamText, Value: "alice"},
		{Key: schemas.ParamExact, Value: "true"},
	}

	t.Run("GetAndValue", func(t *testing.T) {
		v, ok := p.Get(schemas.ParamText)
		assert.True(t, ok)
		assert.Equal(t, "alice", v)
		assert.Empty(t, p.Value(schemas.ParamURL))
	})

	t.Run("WithKeepsPositionAndDoesNotAlias", func(t *testing.T) {
		updated := p.With(schemas.ParamText, "bob")
		require.Len(t, updated, 2)
		assert.Equal(t, schemas.ParamText, updated[0].Key)
		assert.Equal(t, "bob", updated[0].Value)
		assert.Equal(t, "alice", p[0].Value, "original must not change")

		appended := p.With(schemas.ParamName, "greeting")
		require.Len(t, appended, 3)
		assert.Equal(t, schemas.ParamName, appended[2].Key)
	})

	t.Run("Map", func(t *testing.T) {
		assert.Equal(t, map[string]string{"text": "alice", "exact": "true"}, p.Map())
	})
}

func TestIntentClone(t *testing.T) {
	t.Parallel()
	original := schemas.Intent{
		Kind:         schemas.KindType,
		Parameters:   schemas.Parameters{{Key: schemas.ParamText, Value: "x"}},
		Alternatives: []schemas.IntentKind{schemas.KindSelect},
	}
	clone := original.Clone()
	clone.Parameters[0].Value = "y"
	clone.Alternatives[0] = schemas.KindClick

	assert.Equal(t, "x", original.Parameters[0].Value)
	assert.Equal(t, schemas.KindSelect, original.Alternatives[0])
}

func TestTargetDescription(t *testing.T) {
	t.Parallel()
	assert.True(t, schemas.TargetDescription{}.IsZero())

	target := schemas.TargetDescription{Phrase: "submit", Role: "button", Ordinal: 2, Region: "footer"}
	assert.False(t, target.IsZero())
	assert.Equal(t, "#2 submit button in footer", target.String())
	assert.Equal(t, "last item", schemas.TargetDescription{Phrase: "item", Ordinal: schemas.OrdinalLast}.String())
}

func TestCodeOf(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		err  error
		code schemas.ErrorCode
	}{
		{"Nil", nil, schemas.ErrCodeNone},
		{"WrappedNoMatch", fmt.Errorf("resolve: %w", schemas.ErrNoMatch), schemas.ErrCodeNoMatch},
		{"Stale", fmt.Errorf("click: %w", schemas.ErrStaleLocator), schemas.ErrCodeStaleLocator},
		{"Ambiguity", &schemas.AmbiguityError{Stage: "resolve"}, schemas.ErrCodeAmbiguousIntent},
		{"Busy", schemas.ErrConcurrentSessionAccess, schemas.ErrCodeConcurrentAccess},
		{"Unknown", errors.New("boom"), schemas.ErrCodeExecutionFailure},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, schemas.CodeOf(tt.err))
		})
	}
}

func TestAmbiguityError(t *testing.T) {
	t.Parallel()
	err := &schemas.AmbiguityError{
		Stage: "resolve",
		Candidates: []schemas.CandidateLocator{
			{Strategy: schemas.StrategyRole, Selector: "#a", Description: "Submit", Score: 0.9},
			{Strategy: schemas.StrategyRole, Selector: "#b", Description: "Submit", Score: 0.9},
		},
	}
	assert.ErrorIs(t, err, schemas.ErrAmbiguousIntent)
	assert.Contains(t, err.Error(), "2 elements")
	assert.Contains(t, err.Error(), "#a")

	parseErr := &schemas.AmbiguityError{Stage: "parse", Alternatives: []schemas.IntentKind{schemas.KindClick, schemas.KindSelect}}
	assert.Contains(t, parseErr.Error(), "click or select")
}

func TestTransientClassification(t *testing.T) {
	t.Parallel()
	assert.True(t, schemas.IsTransient(fmt.Errorf("x: %w", schemas.ErrStaleLocator)))
	assert.True(t, schemas.IsTransient(schemas.ErrElementNotInteractable))
	assert.True(t, schemas.IsTransient(schemas.ErrNavigationPending))
	assert.False(t, schemas.IsTransient(schemas.ErrElementNotFound))
	assert.False(t, schemas.IsTransient(context.DeadlineExceeded))
	assert.False(t, schemas.IsTransient(nil))

	assert.True(t, schemas.IsTimeout(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
	assert.True(t, schemas.IsTimeout(schemas.ErrValidationTimeout))
}

func TestSnapshotLookups(t *testing.T) {
	t.Parallel()
	snap := &schemas.PageSnapshot{Elements: []schemas.Element{
		{Ref: "e1", Selector: "[data-sd-ref=\"e1\"]", Attributes: map[string]string{"id": "login"}},
		{Ref: "e2", Selector: "[data-sd-ref=\"e2\"]"},
	}}

	el, ok := snap.ElementByRef("e1")
	require.True(t, ok)
	assert.Equal(t, "login", el.Attr("id"))
	assert.Empty(t, el.Attr("missing"))

	_, ok = snap.ElementBySelector("[data-sd-ref=\"e2\"]")
	assert.True(t, ok)

	var nilSnap *schemas.PageSnapshot
	_, ok = nilSnap.ElementByRef("e1")
	assert.False(t, ok)
}
