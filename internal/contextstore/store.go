// Package contextstore keeps the per-session state that carries a scenario
// forward from one step to the next: variables, aliases, the focused element,
// the step history and the checkpoint stack.
package contextstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionContext is a copy of one session's state. Values handed out by the
// Store are deep copies; mutating them never affects the store.
type SessionContext struct {
	ID         string                              `json:"id"`
	Variables  map[string]string                   `json:"variables"`
	Aliases    map[string]schemas.CandidateLocator `json:"aliases"`
	Focus      *schemas.CandidateLocator           `json:"focus,omitempty"`
	History    []schemas.StepResult                `json:"history"`
	Baselines  map[string][]byte                   `json:"-"`
	CreatedAt  time.Time                           `json:"created_at"`
	LastActive time.Time                           `json:"last_active"`
	// Checkpoints is the depth of the checkpoint stack.
	Checkpoints int `json:"checkpoints"`
}

// checkpoint captures everything Rollback restores. History and baselines
// are deliberately absent: the record of what happened is append-only.
type checkpoint struct {
	variables map[string]string
	aliases   map[string]schemas.CandidateLocator
	focus     *schemas.CandidateLocator
}

type entry struct {
	mu          sync.Mutex
	state       SessionContext
	checkpoints []checkpoint
	// slot is the step lock: holding its single buffer slot means a step is running.
	slot chan struct{}
}

// Store holds the contexts of all live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		sessions: make(map[string]*entry),
		logger:   logger.Named("context_store"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the context of a session, creating an empty one if absent.
func (s *Store) Get(id string) SessionContext {
	e := s.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyState()
}

// Lookup returns the context of a session without creating it.
func (s *Store) Lookup(id string) (SessionContext, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return SessionContext{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyState(), true
}

// Exists reports whether a session is known.
func (s *Store) Exists(id string) bool {
	_, ok := s.lookup(id)
	return ok
}

// Sessions lists the ids of all live sessions in sorted order.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete discards a session. It reports whether the session existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.logger.Debug("Session context discarded.", zap.String("session_id", id))
	return true
}

// Hints returns the read-only view the parser consults.
func (s *Store) Hints(id string) schemas.ParseHints {
	e, ok := s.lookup(id)
	if !ok {
		return schemas.ParseHints{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	hints := schemas.ParseHints{Variables: copyStrings(e.state.Variables)}
	for phrase := range e.state.Aliases {
		hints.Aliases = append(hints.Aliases, phrase)
	}
	sort.Strings(hints.Aliases)
	return hints
}

// BindAlias makes phrase refer to loc for the rest of the session.
func (s *Store) BindAlias(id, phrase string, loc schemas.CandidateLocator) error {
	key := NormalizePhrase(phrase)
	if key == "" {
		return fmt.Errorf("cannot bind an empty alias")
	}
	return s.update(id, func(st *SessionContext) {
		st.Aliases[key] = loc
	})
}

// Alias resolves a phrase bound earlier.
func (s *Store) Alias(id, phrase string) (schemas.CandidateLocator, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return schemas.CandidateLocator{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	loc, found := e.state.Aliases[NormalizePhrase(phrase)]
	return loc, found
}

// SetFocus records the element the last action touched ("it").
func (s *Store) SetFocus(id string, loc *schemas.CandidateLocator) error {
	return s.update(id, func(st *SessionContext) {
		st.Focus = copyLocator(loc)
	})
}

// Capture stores a variable.
func (s *Store) Capture(id, name, value string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cannot capture into an empty variable name")
	}
	return s.update(id, func(st *SessionContext) {
		st.Variables[name] = value
	})
}

// Variable reads a variable.
func (s *Store) Variable(id, name string) (string, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, found := e.state.Variables[name]
	return v, found
}

// SetBaseline stores a visual baseline. Baselines survive rollbacks.
func (s *Store) SetBaseline(id, name string, png []byte) error {
	return s.update(id, func(st *SessionContext) {
		st.Baselines[name] = append([]byte(nil), png...)
	})
}

// Baseline returns a stored visual baseline.
func (s *Store) Baseline(id, name string) ([]byte, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	png, found := e.state.Baselines[name]
	if !found {
		return nil, false
	}
	return append([]byte(nil), png...), true
}

// AppendHistory records a finished step and returns its index. The result's
// Index field is overwritten with that position.
func (s *Store) AppendHistory(id string, result schemas.StepResult) (int, error) {
	index := -1
	err := s.update(id, func(st *SessionContext) {
		index = len(st.History)
		result.Index = index
		st.History = append(st.History, result)
	})
	return index, err
}

// HistoryLen returns the number of recorded steps.
func (s *Store) HistoryLen(id string) int {
	e, ok := s.lookup(id)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.state.History)
}

// Checkpoint pushes the current variables, aliases and focus onto the stack.
func (s *Store) Checkpoint(id string) error {
	e, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("checkpoint %s: %w", id, schemas.ErrSessionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpoints = append(e.checkpoints, checkpoint{
		variables: copyStrings(e.state.Variables),
		aliases:   copyAliases(e.state.Aliases),
		focus:     copyLocator(e.state.Focus),
	})
	e.state.Checkpoints = len(e.checkpoints)
	e.state.LastActive = s.now()
	return nil
}

// Rollback pops the most recent checkpoint and restores it. History is kept.
func (s *Store) Rollback(id string) error {
	e, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("rollback %s: %w", id, schemas.ErrSessionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.checkpoints) == 0 {
		return fmt.Errorf("rollback %s: %w", id, schemas.ErrNoCheckpoint)
	}
	last := e.checkpoints[len(e.checkpoints)-1]
	e.checkpoints = e.checkpoints[:len(e.checkpoints)-1]
	e.state.Variables = last.variables
	e.state.Aliases = last.aliases
	e.state.Focus = last.focus
	e.state.Checkpoints = len(e.checkpoints)
	e.state.LastActive = s.now()
	return nil
}

// Acquire takes the session's step lock. With wait false a busy session fails
// immediately with ErrConcurrentSessionAccess; with wait true the caller
// queues until the lock frees up or ctx ends. The returned release function
// is idempotent.
func (s *Store) Acquire(ctx context.Context, id string, wait bool) (func(), error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", id, schemas.ErrSessionNotFound)
	}

	select {
	case e.slot <- struct{}{}:
		return s.releaser(e), nil
	default:
	}
	if !wait {
		return nil, fmt.Errorf("acquire %s: %w", id, schemas.ErrConcurrentSessionAccess)
	}

	s.logger.Debug("Step queued behind a running step.", zap.String("session_id", id))
	select {
	case e.slot <- struct{}{}:
		return s.releaser(e), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire %s: %w (%v)", id, schemas.ErrConcurrentSessionAccess, ctx.Err())
	}
}

func (s *Store) releaser(e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.state.LastActive = s.now()
			e.mu.Unlock()
			<-e.slot
		})
	}
}

// Busy reports whether a step currently holds the session.
func (s *Store) Busy(id string) bool {
	e, ok := s.lookup(id)
	return ok && len(e.slot) > 0
}

// ExpireIdle removes sessions that have been inactive for longer than ttl and
// are not running a step. It returns the removed ids.
func (s *Store) ExpireIdle(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, e := range s.sessions {
		if len(e.slot) > 0 {
			continue
		}
		e.mu.Lock()
		idle := e.state.LastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	if len(expired) > 0 {
		s.logger.Info("Expired idle sessions.", zap.Strings("session_ids", expired))
	}
	return expired
}

// Export serializes a session's variables, aliases and history as JSON.
func (s *Store) Export(id string) ([]byte, error) {
	st, ok := s.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("export %s: %w", id, schemas.ErrSessionNotFound)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", id, err)
	}
	return data, nil
}

// -- internals --

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

func (s *Store) getOrCreate(id string) *entry {
	if e, ok := s.lookup(id); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e
	}
	now := s.now()
	e := &entry{
		state: SessionContext{
			ID:         id,
			Variables:  make(map[string]string),
			Aliases:    make(map[string]schemas.CandidateLocator),
			Baselines:  make(map[string][]byte),
			CreatedAt:  now,
			LastActive: now,
		},
		slot: make(chan struct{}, 1),
	}
	s.sessions[id] = e
	s.logger.Debug("Session context created.", zap.String("session_id", id))
	return e
}

func (s *Store) update(id string, fn func(st *SessionContext)) error {
	e, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, schemas.ErrSessionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	e.state.LastActive = s.now()
	return nil
}

func (e *entry) copyState() SessionContext {
	out := e.state
	out.Variables = copyStrings(e.state.Variables)
	out.Aliases = copyAliases(e.state.Aliases)
	out.Focus = copyLocator(e.state.Focus)
	out.History = append([]schemas.StepResult(nil), e.state.History...)
	out.Baselines = make(map[string][]byte, len(e.state.Baselines))
	for k, v := range e.state.Baselines {
		out.Baselines[k] = append([]byte(nil), v...)
	}
	return out
}

// NormalizePhrase canonicalizes alias keys: lower case, single spaces, no
// leading article.
func NormalizePhrase(phrase string) string {
	p := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(p, article) {
			p = strings.TrimPrefix(p, article)
			break
		}
	}
	return p
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAliases(in map[string]schemas.CandidateLocator) map[string]schemas.CandidateLocator {
	out := make(map[string]schemas.CandidateLocator, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyLocator(loc *schemas.CandidateLocator) *schemas.CandidateLocator {
	if loc == nil {
		return nil
	}
	c := *loc
	return &c
}
