package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"yuzu/bargein/internal/types"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// MaxEvents caps the per-session event log.
const MaxEvents = 200

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	events   map[string][]types.Event
	// worker state per session
	workerState map[string]WorkerState
}

func New() *Store {
	return &Store{
		sessions:    make(map[string]*types.Session),
		events:      make(map[string][]types.Event),
		workerState: make(map[string]WorkerState),
	}
}

// WorkerState captures what the connected worker declared about itself.
type WorkerState struct {
	Connected    bool `json:"connected"`
	PauseCapable bool `json:"pause_capable"`
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	if sess.Status == "" {
		sess.Status = types.SessionActive
	}
	s.sessions[sess.ID] = sess
	s.events[sess.ID] = []types.Event{}
	return nil
}

// GetSession returns a copy so callers cannot race the store.
func (s *Store) GetSession(id string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

func (s *Store) EndSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status == types.SessionEnded {
		return nil
	}
	sess.Status = types.SessionEnded
	sess.EndedAt = &at
	return nil
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], evt)
	if l := len(s.events[sessionID]); l > MaxEvents {
		// Keep space for a single truncation warning so the total stays at MaxEvents
		keep := MaxEvents - 1
		dropped := l - keep
		s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
		warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep}}
		s.events[sessionID] = append(s.events[sessionID], warn)
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

func (s *Store) ListSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Worker state helpers
func (s *Store) SetWorkerConnected(sessionID string, connected bool) {
	s.mu.Lock()
	st := s.workerState[sessionID]
	st.Connected = connected
	s.workerState[sessionID] = st
	s.mu.Unlock()
}

func (s *Store) SetPauseCapable(sessionID string, capable bool) {
	s.mu.Lock()
	st := s.workerState[sessionID]
	st.PauseCapable = capable
	s.workerState[sessionID] = st
	s.mu.Unlock()
}

func (s *Store) GetWorkerState(sessionID string) WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workerState[sessionID]
}
