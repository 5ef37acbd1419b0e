// Package loop binds worker websocket traffic to one floor engine per session.
package loop

import (
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"

	"yuzu/bargein/internal/floor"
	"yuzu/bargein/internal/store"
	"yuzu/bargein/internal/workerws"
)

var ErrUnknownSession = errors.New("no floor engine for session")

type Dispatcher struct {
	reg   Sender
	store *store.Store
	clock floor.Clock

	ttsTimeout time.Duration
	snap       atomic.Pointer[floor.Snapshot]

	mu       sync.Mutex
	sessions map[string]*sessState
}

type Option func(*Dispatcher)

// WithClock drives engines and the TTS timeout from c.
func WithClock(c floor.Clock) Option { return func(d *Dispatcher) { d.clock = c } }

type sessState struct {
	id  string
	eng *floor.Engine

	mu           sync.Mutex
	utteranceID  string
	ttsStartRecv time.Time
	lastVADRecv  time.Time
	pendingCmds  map[string]pendingCmd
}

type pendingCmd struct {
	typ    string
	sentAt time.Time
}

func (s *sessState) utterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utteranceID
}

func (s *sessState) trackCommand(id, typ string, at time.Time) {
	s.mu.Lock()
	s.pendingCmds[id] = pendingCmd{typ: typ, sentAt: at}
	s.mu.Unlock()
}

func New(reg Sender, st *store.Store, ttsTimeoutSec int, snap *floor.Snapshot, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:        reg,
		store:      st,
		clock:      floor.SystemClock{},
		ttsTimeout: time.Duration(ttsTimeoutSec) * time.Second,
		sessions:   make(map[string]*sessState),
	}
	for _, o := range opts {
		o(d)
	}
	if snap == nil {
		snap = floor.DefaultSnapshot()
	}
	d.snap.Store(snap)
	return d
}

func (d *Dispatcher) state(sessionID string) *sessState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sessions[sessionID]
	if s == nil {
		s = d.newSessionLocked(sessionID, d.store.GetWorkerState(sessionID).PauseCapable)
	}
	return s
}

// newSessionLocked builds a fresh engine for the session, replacing any
// previous one.
func (d *Dispatcher) newSessionLocked(sessionID string, canPause bool) *sessState {
	if old := d.sessions[sessionID]; old != nil {
		// cancels the old engine's confirmation timer
		old.eng.OnAgentStoppedSpeaking()
	} else {
		metricSessions.Inc()
	}
	s := &sessState{id: sessionID, pendingCmds: make(map[string]pendingCmd)}
	audio := &workerAudio{d: d, s: s, canPause: canPause}
	turns := &workerTurns{d: d, s: s}
	eng, err := floor.NewEngine(d.snap.Load(), audio, turns,
		floor.WithClock(d.clock),
		floor.WithName(sessionID),
		floor.WithObserver(func(dec floor.Decision) { d.recordDecision(s, dec) }),
	)
	if err != nil {
		// only reachable with a nil snapshot, which New rules out
		panic(err)
	}
	s.eng = eng
	d.sessions[sessionID] = s
	if !canPause {
		log.Printf("[loop] session=%s worker cannot pause playback; barge-ins will stop or continue without holding audio", sessionID)
	}
	return s
}

// OnMessage processes a worker message and may send commands to the worker.
func (d *Dispatcher) OnMessage(sessionID string, msg workerws.Message) {
	metricMessages.WithLabelValues(messageLabel(msg.Type)).Inc()
	if msg.Type == "worker_hello" {
		d.hello(sessionID, msg)
		return
	}
	s := d.state(sessionID)
	now := d.clock.Now()

	switch msg.Type {
	case "tts_started":
		s.mu.Lock()
		s.utteranceID = msg.UtteranceID
		s.ttsStartRecv = now
		s.mu.Unlock()
		s.eng.OnAgentStartedSpeaking()
	case "tts_stopped":
		s.mu.Lock()
		s.ttsStartRecv = time.Time{}
		s.mu.Unlock()
		s.eng.OnAgentStoppedSpeaking()
	case "vad_start":
		s.mu.Lock()
		s.lastVADRecv = now
		s.mu.Unlock()
		hint := time.Duration(cast.ToFloat64(msg.Payload["duration_ms"]) * float64(time.Millisecond))
		dec := s.eng.OnActivityOnset(hint)
		if dec.Reason == floor.ReasonBelowMinDuration {
			d.store.AppendEvent(sessionID, "vad_start_ignored", map[string]any{"duration_ms": hint.Milliseconds()})
		}
	case "vad_end":
		s.eng.OnActivityEnd()
	case "transcript_interim", "transcript_final":
		text := cast.ToString(msg.Payload["text"])
		s.eng.OnTranscript(text, msg.Type == "transcript_final")
	case "cmd_ack":
		d.ack(s, msg.CommandID, now)
	}

	d.checkTTSTimeout(s, now)
}

// hello resets the session: a (re)connected worker restates playback itself.
func (d *Dispatcher) hello(sessionID string, msg workerws.Message) {
	canPause := cast.ToBool(msg.Payload["can_pause"])
	d.store.SetPauseCapable(sessionID, canPause)
	d.mu.Lock()
	d.newSessionLocked(sessionID, canPause)
	d.mu.Unlock()
	d.store.AppendEvent(sessionID, "floor_reset", map[string]any{"can_pause": canPause})
}

func (d *Dispatcher) ack(s *sessState, cmdID string, now time.Time) {
	s.mu.Lock()
	pc, ok := s.pendingCmds[cmdID]
	delete(s.pendingCmds, cmdID)
	s.mu.Unlock()
	if cmdID == "" || !ok {
		d.store.AppendEvent(s.id, "cmd_ack", map[string]any{"command_id": cmdID, "note": "unexpected"})
		return
	}
	d.store.AppendEvent(s.id, "cmd_ack", map[string]any{
		"command_id": cmdID, "command": pc.typ, "rtt_ms": now.Sub(pc.sentAt).Milliseconds(),
	})
}

// checkTTSTimeout treats playback that never reported an end as finished.
func (d *Dispatcher) checkTTSTimeout(s *sessState, now time.Time) {
	if d.ttsTimeout <= 0 {
		return
	}
	s.mu.Lock()
	started := s.ttsStartRecv
	expired := !started.IsZero() && now.Sub(started) > d.ttsTimeout
	if expired {
		s.ttsStartRecv = time.Time{}
	}
	s.mu.Unlock()
	if !expired {
		return
	}
	metricTTSTimeouts.Inc()
	s.eng.OnAgentStoppedSpeaking()
	d.store.AppendEvent(s.id, "tts_timeout_reset", map[string]any{"started_ms": started.UnixMilli()})
}

func (d *Dispatcher) recordDecision(s *sessState, dec floor.Decision) {
	payload := map[string]any{
		"action":     dec.Action.String(),
		"reason":     string(dec.Reason),
		"text":       dec.Text,
		"final":      dec.Final,
		"generation": dec.Generation,
	}
	if dec.Action == floor.ActionInterrupt {
		s.mu.Lock()
		vad := s.lastVADRecv
		s.mu.Unlock()
		if !vad.IsZero() {
			payload["barge_in_ms"] = dec.At.Sub(vad).Milliseconds()
		}
	}
	d.store.AppendEvent(s.id, "floor_decision", payload)
}

// SetSnapshot swaps a new configuration into every live engine and into
// engines created later.
func (d *Dispatcher) SetSnapshot(snap *floor.Snapshot) error {
	if snap == nil {
		return floor.ErrInvalidSnapshot
	}
	d.snap.Store(snap)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, s := range d.sessions {
		if err := s.eng.SetSnapshot(snap); err != nil {
			return err
		}
		d.store.AppendEvent(id, "floor_config_updated", nil)
	}
	return nil
}

// Inspect reports the engine status of a session.
func (d *Dispatcher) Inspect(sessionID string) (floor.Status, error) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	d.mu.Unlock()
	if s == nil {
		return floor.Status{}, ErrUnknownSession
	}
	return s.eng.Status(), nil
}

// End drops the session's engine.
func (d *Dispatcher) End(sessionID string) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if s == nil {
		return
	}
	metricSessions.Dec()
	s.eng.OnAgentStoppedSpeaking()
}

func messageLabel(typ string) string {
	switch typ {
	case "worker_hello", "tts_started", "tts_stopped", "vad_start", "vad_end",
		"transcript_interim", "transcript_final", "cmd_ack":
		return typ
	}
	if strings.HasPrefix(typ, "tts_") {
		return "tts_other"
	}
	return "other"
}

// Snapshot is the configuration new engines start with.
func (d *Dispatcher) Snapshot() *floor.Snapshot { return d.snap.Load() }
