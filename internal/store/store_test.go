package store

import (
	"errors"
	"testing"
	"time"

	"yuzu/bargein/internal/types"
)

func TestCreateAndGetSession(t *testing.T) {
	st := New()
	s := &types.Session{ID: "abc123", CreatedAt: time.Now()}
	if err := st.CreateSession(s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	got := st.GetSession("abc123")
	if got == nil || got.ID != s.ID {
		t.Fatalf("expected session %q, got %#v", s.ID, got)
	}
	if got.Status != types.SessionActive {
		t.Fatalf("expected active status, got %q", got.Status)
	}
	if err := st.CreateSession(&types.Session{ID: "abc123"}); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestEndSession(t *testing.T) {
	st := New()
	_ = st.CreateSession(&types.Session{ID: "s1"})
	at := time.Now()
	if err := st.EndSession("s1", at); err != nil {
		t.Fatalf("end session: %v", err)
	}
	got := st.GetSession("s1")
	if got.Status != types.SessionEnded || got.EndedAt == nil || !got.EndedAt.Equal(at) {
		t.Fatalf("unexpected session after end: %#v", got)
	}
	if err := st.EndSession("nope", at); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAppendEventTruncates(t *testing.T) {
	st := New()
	_ = st.CreateSession(&types.Session{ID: "s1"})
	for i := 0; i < MaxEvents+10; i++ {
		st.AppendEvent("s1", "tick", map[string]any{"i": i})
	}
	evts := st.ListEvents("s1")
	if len(evts) != MaxEvents {
		t.Fatalf("expected %d events, got %d", MaxEvents, len(evts))
	}
	last := evts[len(evts)-1]
	if last.Type != "events_truncated" {
		t.Fatalf("expected truncation marker last, got %q", last.Type)
	}
	if evts[len(evts)-2].Payload["i"] != MaxEvents+9 {
		t.Fatalf("expected newest event kept, got %v", evts[len(evts)-2].Payload)
	}
}

func TestWorkerState(t *testing.T) {
	st := New()
	st.SetWorkerConnected("s1", true)
	st.SetPauseCapable("s1", true)
	ws := st.GetWorkerState("s1")
	if !ws.Connected || !ws.PauseCapable {
		t.Fatalf("unexpected worker state %+v", ws)
	}
	st.SetWorkerConnected("s1", false)
	if st.GetWorkerState("s1").Connected {
		t.Fatalf("expected disconnected")
	}
}
