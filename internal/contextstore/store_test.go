package contextstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(zaptest.NewLogger(t), opts...)
}

func loc(ref string) schemas.CandidateLocator {
	return schemas.CandidateLocator{Strategy: schemas.StrategyRole, Selector: "[data-sd-ref=\"" + ref + "\"]", ElementRef: ref, Score: 1}
}

func TestGetCreatesAndLookupDoesNot(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Lookup("a")
	assert.False(t, ok)

	ctxA := s.Get("a")
	assert.Equal(t, "a", ctxA.ID)
	assert.Empty(t, ctxA.History)
	assert.True(t, s.Exists("a"))
	assert.Equal(t, []string{"a"}, s.Sessions())

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
}

func TestReturnedContextsAreCopies(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")
	require.NoError(t, s.Capture("a", "user", "alice"))

	view := s.Get("a")
	view.Variables["user"] = "mallory"

	v, _ := s.Variable("a", "user")
	assert.Equal(t, "alice", v)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")
	s.Get("b")

	require.NoError(t, s.Capture("a", "token", "123"))
	require.NoError(t, s.BindAlias("a", "it", loc("e1")))

	_, found := s.Variable("b", "token")
	assert.False(t, found)
	_, found = s.Alias("b", "it")
	assert.False(t, found)
}

func TestUnknownSessionErrors(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Capture("ghost", "x", "y"), schemas.ErrSessionNotFound)
	assert.ErrorIs(t, s.Checkpoint("ghost"), schemas.ErrSessionNotFound)
	assert.ErrorIs(t, s.Rollback("ghost"), schemas.ErrSessionNotFound)
	_, err := s.AppendHistory("ghost", schemas.StepResult{})
	assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
	_, err = s.Acquire(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
	_, err = s.Export("ghost")
	assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
}

func TestAliasNormalization(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")
	require.NoError(t, s.BindAlias("a", "The  Current Page", loc("page")))

	got, ok := s.Alias("a", "current page")
	require.True(t, ok)
	assert.Equal(t, "page", got.ElementRef)

	assert.Error(t, s.BindAlias("a", "   ", loc("x")))
	assert.Equal(t, "login form", NormalizePhrase("the Login   Form"))
}

func TestHistoryIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")

	for i := 0; i < 3; i++ {
		idx, err := s.AppendHistory("a", schemas.StepResult{Status: schemas.StatusSuccess, Index: 99})
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		assert.Equal(t, i+1, s.HistoryLen("a"))
	}
	history := s.Get("a").History
	for i, r := range history {
		assert.Equal(t, i, r.Index)
	}
}

// TestCheckpointRollbackRestoresExactly checks that a rollback reproduces the
// variables and aliases present at checkpoint time while history keeps growing.
func TestCheckpointRollbackRestoresExactly(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")
	require.NoError(t, s.Capture("a", "user", "alice"))
	require.NoError(t, s.BindAlias("a", "it", loc("e1")))
	focus := loc("e1")
	require.NoError(t, s.SetFocus("a", &focus))

	before := s.Get("a")
	beforeJSON, err := json.Marshal(struct {
		V map[string]string
		A map[string]schemas.CandidateLocator
	}{before.Variables, before.Aliases})
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint("a"))
	assert.Equal(t, 1, s.Get("a").Checkpoints)

	require.NoError(t, s.Capture("a", "user", "bob"))
	require.NoError(t, s.Capture("a", "extra", "1"))
	require.NoError(t, s.BindAlias("a", "it", loc("e7")))
	require.NoError(t, s.BindAlias("a", "the form", loc("e9")))
	require.NoError(t, s.SetFocus("a", nil))
	_, err = s.AppendHistory("a", schemas.StepResult{Status: schemas.StatusSuccess})
	require.NoError(t, err)
	require.NoError(t, s.SetBaseline("a", "header", []byte{1, 2, 3}))

	require.NoError(t, s.Rollback("a"))
	after := s.Get("a")

	afterJSON, err := json.Marshal(struct {
		V map[string]string
		A map[string]schemas.CandidateLocator
	}{after.Variables, after.Aliases})
	require.NoError(t, err)
	assert.Equal(t, string(beforeJSON), string(afterJSON))
	if diff := cmp.Diff(before.Focus, after.Focus); diff != "" {
		t.Errorf("focus mismatch (-before +after):\n%s", diff)
	}

	assert.Equal(t, 1, s.HistoryLen("a"), "rollback must not erase history")
	_, hasBaseline := s.Baseline("a", "header")
	assert.True(t, hasBaseline, "baselines survive rollback")
	assert.Equal(t, 0, after.Checkpoints)

	assert.ErrorIs(t, s.Rollback("a"), schemas.ErrNoCheckpoint)
}

func TestNestedCheckpoints(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")
	require.NoError(t, s.Capture("a", "step", "1"))
	require.NoError(t, s.Checkpoint("a"))
	require.NoError(t, s.Capture("a", "step", "2"))
	require.NoError(t, s.Checkpoint("a"))
	require.NoError(t, s.Capture("a", "step", "3"))

	require.NoError(t, s.Rollback("a"))
	v, _ := s.Variable("a", "step")
	assert.Equal(t, "2", v)

	require.NoError(t, s.Rollback("a"))
	v, _ = s.Variable("a", "step")
	assert.Equal(t, "1", v)
}

func TestAcquire(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("reject mode", func(t *testing.T) {
		s := newTestStore(t)
		s.Get("a")
		release, err := s.Acquire(context.Background(), "a", false)
		require.NoError(t, err)
		assert.True(t, s.Busy("a"))

		_, err = s.Acquire(context.Background(), "a", false)
		assert.ErrorIs(t, err, schemas.ErrConcurrentSessionAccess)

		release()
		release() // idempotent
		assert.False(t, s.Busy("a"))

		release2, err := s.Acquire(context.Background(), "a", false)
		require.NoError(t, err)
		release2()
	})

	t.Run("queue mode waits for release", func(t *testing.T) {
		s := newTestStore(t)
		s.Get("a")
		release, err := s.Acquire(context.Background(), "a", false)
		require.NoError(t, err)

		var wg sync.WaitGroup
		acquired := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Acquire(context.Background(), "a", true)
			if err == nil {
				close(acquired)
				r()
			}
		}()

		select {
		case <-acquired:
			t.Fatal("second step ran while the first held the lock")
		case <-time.After(20 * time.Millisecond):
		}
		release()
		wg.Wait()
		select {
		case <-acquired:
		default:
			t.Fatal("queued step never acquired the lock")
		}
	})

	t.Run("queue mode honors deadline", func(t *testing.T) {
		s := newTestStore(t)
		s.Get("a")
		release, err := s.Acquire(context.Background(), "a", false)
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = s.Acquire(ctx, "a", true)
		assert.ErrorIs(t, err, schemas.ErrConcurrentSessionAccess)
	})

	t.Run("different sessions do not contend", func(t *testing.T) {
		s := newTestStore(t)
		s.Get("a")
		s.Get("b")
		ra, err := s.Acquire(context.Background(), "a", false)
		require.NoError(t, err)
		rb, err := s.Acquire(context.Background(), "b", false)
		require.NoError(t, err)
		ra()
		rb()
	})
}

func TestExpireIdle(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newTestStore(t, WithClock(clock))

	s.Get("old")
	s.Get("busy")
	release, err := s.Acquire(context.Background(), "busy", false)
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	s.Get("fresh")

	expired := s.ExpireIdle(15 * time.Minute)
	assert.Equal(t, []string{"old"}, expired)
	assert.ElementsMatch(t, []string{"busy", "fresh"}, s.Sessions())
	assert.Nil(t, s.ExpireIdle(0))

	release()
}

func TestHintsAndExport(t *testing.T) {
	s := newTestStore(t)
	s.Get("a")
	require.NoError(t, s.Capture("a", "email", "a@example.com"))
	require.NoError(t, s.BindAlias("a", "it", loc("e1")))
	require.NoError(t, s.BindAlias("a", "current page", loc("page")))
	_, err := s.AppendHistory("a", schemas.StepResult{Status: schemas.StatusFailed})
	require.NoError(t, err)

	hints := s.Hints("a")
	assert.Equal(t, "a@example.com", hints.Variables["email"])
	assert.Equal(t, []string{"current page", "it"}, hints.Aliases)
	assert.Empty(t, s.Hints("ghost").Aliases)

	data, err := s.Export("a")
	require.NoError(t, err)
	var decoded SessionContext
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "a@example.com", decoded.Variables["email"])
	assert.Len(t, decoded.History, 1)
	assert.Equal(t, schemas.StatusFailed, decoded.History[0].Status)
}
