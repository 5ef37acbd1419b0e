package floor

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNilCollaborator = errors.New("floor: nil collaborator")

type Option func(*Engine)

// WithClock replaces the wall clock, mostly for tests and replays.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithObserver registers a callback for every recorded decision, including
// the ones produced asynchronously by the confirmation timer.
func WithObserver(f func(Decision)) Option { return func(e *Engine) { e.observer = f } }

// WithName sets the identifier used in logs.
func WithName(name string) Option { return func(e *Engine) { e.name = name } }

// utterance is one stretch of user speech heard while the agent was talking.
type utterance struct {
	gen   uint64
	onset time.Time
	ended time.Time
	text  string

	action Action
	// awaitingFinal: interrupted on interim text, the turn is submitted
	// once the final transcript arrives.
	awaitingFinal bool
}

// Engine is the interruption decision state machine. All methods are safe
// for concurrent use; they are serialized on a single mutex. Collaborators
// are never called with that mutex held: their calls are queued and run in
// order once it is released, so a collaborator may call back into the Engine.
type Engine struct {
	name     string
	clock    Clock
	audio    AudioOutput
	turns    TurnManager
	observer func(Decision)
	snap     atomic.Pointer[Snapshot]

	mu      sync.Mutex
	speech  AgentSpeechState
	gen     uint64
	pending *utterance
	tail    *utterance // last resolved utterance, absorbs trailing transcripts
	timer   Timer
	resumer *ResumeController

	// tailTimer flushes an interrupted utterance whose final transcript
	// never arrives; tailSeq identifies the current arming.
	tailTimer Timer
	tailSeq   uint64

	queue    effects
	draining bool
}

func NewEngine(snap *Snapshot, audio AudioOutput, turns TurnManager, opts ...Option) (*Engine, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if audio == nil || turns == nil {
		return nil, ErrNilCollaborator
	}
	e := &Engine{
		name:    "engine",
		clock:   SystemClock{},
		audio:   audio,
		turns:   turns,
		resumer: newResumeController(audio),
	}
	for _, o := range opts {
		o(e)
	}
	e.snap.Store(snap)
	e.speech.since = e.clock.Now()
	return e, nil
}

// SetSnapshot swaps in a new configuration. Calls already running keep the
// snapshot they started with.
func (e *Engine) SetSnapshot(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	e.snap.Store(s)
	return nil
}

func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

func (e *Engine) State() SpeechState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speech.State()
}

func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Status is a point-in-time view of the engine.
type Status struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Since       time.Time `json:"since"`
	Generation  uint64    `json:"generation"`
	Pending     bool      `json:"pending"`
	PendingText string    `json:"pending_text,omitempty"`
	Paused      bool      `json:"paused"`
	CanPause    bool      `json:"can_pause"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Name:       e.name,
		State:      e.speech.State().String(),
		Since:      e.speech.Since(),
		Generation: e.gen,
	}
	if e.pending != nil {
		st.Pending = true
		st.PendingText = e.pending.text
	}
	e.mu.Unlock()
	st.Paused = e.resumer.Paused()
	st.CanPause = e.audio.CanPause()
	return st
}

// OnAgentStartedSpeaking is the playback-start lifecycle callback.
func (e *Engine) OnAgentStartedSpeaking() {
	var fx effects
	e.mu.Lock()
	e.gen++
	e.stopTimerLocked()
	e.flushTailLocked(&fx)
	e.clearTailLocked()
	e.dropPendingLocked("agent_started")
	fx.add(e.resumer.release)
	e.setStateLocked(StateSpeaking)
	e.unlockRun(fx)
}

// OnAgentStoppedSpeaking is the playback-end lifecycle callback. Calling it
// repeatedly is harmless.
func (e *Engine) OnAgentStoppedSpeaking() {
	var fx effects
	e.mu.Lock()
	e.gen++
	e.stopTimerLocked()
	e.dropPendingLocked("agent_stopped")
	fx.add(e.resumer.release)
	e.setStateLocked(StateSilent)
	e.unlockRun(fx)
}

// OnActivityOnset handles a speech start from the activity detector. While
// the agent speaks it only opens a confirmation window; the decision comes
// later from OnTranscript or the window expiring.
func (e *Engine) OnActivityOnset(durationHint time.Duration) Decision {
	snap := e.snap.Load()
	var fx effects
	e.mu.Lock()
	d := e.onsetLocked(snap, durationHint, &fx)
	e.unlockRun(fx)
	return d
}

func (e *Engine) onsetLocked(snap *Snapshot, hint time.Duration, fx *effects) Decision {
	if hint < snap.MinInterruptDuration() {
		return e.decision(ActionNone, ReasonBelowMinDuration, "", false)
	}
	e.gen++
	if u := e.tail; u != nil && u.awaitingFinal && e.speech.State() == StateSilent {
		// The detector fired again inside an interrupted utterance; its
		// final transcript still replaces the interim text.
		e.armTailLocked(snap.ConfirmWindow())
	} else {
		e.flushTailLocked(fx)
		e.clearTailLocked()
	}

	switch e.speech.State() {
	case StateSilent:
		return e.emitLocked(fx, e.decision(ActionRespond, ReasonAgentSilent, "", false))
	case StateSpeaking:
		r := e.resumer
		fx.add(func() {
			if !r.pause() {
				metricPauseUnsupported.Inc()
			}
		})
		e.setStateLocked(StateAwaitingTranscript)
	case StateAwaitingTranscript:
		log.Printf("[floor] %s onset supersedes pending utterance gen=%d", e.name, e.gen)
	}
	e.pending = &utterance{gen: e.gen, onset: e.clock.Now()}
	e.armTimerLocked(e.gen, snap.ConfirmWindow())
	return e.decision(ActionNone, ReasonAwaiting, "", false)
}

// OnActivityEnd handles a speech end from the activity detector.
func (e *Engine) OnActivityEnd() {
	e.mu.Lock()
	if e.pending != nil {
		e.pending.ended = e.clock.Now()
	}
	e.mu.Unlock()
}

// OnTranscript feeds interim and final transcription updates, in arrival
// order. Without a pending decision the text passes straight through as
// ActionRespond and final text becomes a user turn.
func (e *Engine) OnTranscript(text string, isFinal bool) Decision {
	snap := e.snap.Load()
	var fx effects
	e.mu.Lock()
	var d Decision
	switch {
	case e.pending != nil && e.speech.State() == StateAwaitingTranscript:
		d = e.evaluateLocked(snap, e.pending, text, isFinal, &fx)
	case e.tail != nil:
		d = e.trailingLocked(snap, text, isFinal, &fx)
	default:
		d = e.decision(ActionRespond, ReasonNoPendingDecision, text, isFinal)
		if isFinal {
			e.emitLocked(&fx, d)
			e.submit(&fx, text)
		}
	}
	e.unlockRun(fx)
	return d
}

func (e *Engine) evaluateLocked(snap *Snapshot, u *utterance, text string, final bool, fx *effects) Decision {
	u.text = text
	res := snap.Classify(text)
	switch {
	case res.HasCommand:
		return e.interruptLocked(snap, u, ReasonCommand, final, fx)
	case res.Empty():
		if !final {
			return e.decision(ActionNone, ReasonAwaiting, text, false)
		}
		return e.ignoreLocked(u, ReasonEmpty, true, fx)
	case res.TokenCount() < snap.MinWords() && !res.BackchannelOnly:
		if !final {
			return e.decision(ActionNone, ReasonInconclusive, text, false)
		}
		return e.ignoreLocked(u, ReasonInconclusive, true, fx)
	case res.BackchannelOnly:
		return e.ignoreLocked(u, ReasonBackchannel, final, fx)
	default:
		return e.interruptLocked(snap, u, ReasonContent, final, fx)
	}
}

func (e *Engine) trailingLocked(snap *Snapshot, text string, final bool, fx *effects) Decision {
	u := e.tail
	switch {
	case u.action == ActionInterrupt && u.awaitingFinal:
		if strings.TrimSpace(text) != "" {
			u.text = text
		}
		if !final {
			e.armTailLocked(snap.ConfirmWindow())
			return e.decision(ActionNone, ReasonTrailing, u.text, false)
		}
		u.awaitingFinal = false
		e.clearTailLocked()
		e.submit(fx, u.text)
		return e.decision(ActionNone, ReasonTrailing, u.text, true)
	case u.action == ActionIgnore && e.speech.State() == StateSpeaking:
		if snap.Classify(text).HasCommand {
			u.text = text
			return e.interruptLocked(snap, u, ReasonCommand, final, fx)
		}
	}
	metricStale.WithLabelValues("transcript").Inc()
	return e.decision(ActionNone, ReasonStale, text, final)
}

// OnConfirmationTimeout resolves a pending utterance that produced no
// decisive text in time. Superseded generations are dropped silently.
func (e *Engine) OnConfirmationTimeout(gen uint64) {
	var fx effects
	e.mu.Lock()
	u := e.pending
	if u == nil || u.gen != gen || gen != e.gen || e.speech.State() != StateAwaitingTranscript {
		e.mu.Unlock()
		metricStale.WithLabelValues("timer").Inc()
		return
	}
	metricConfirmTimeouts.Inc()
	if !u.ended.IsZero() {
		log.Printf("[floor] %s speech ended %dms before timeout without a final transcript", e.name, e.clock.Now().Sub(u.ended).Milliseconds())
	}
	e.timer = nil
	e.ignoreLocked(u, ReasonTimeout, false, &fx)
	e.unlockRun(fx)
}

// onTailTimeout submits the interim text of an interrupted utterance whose
// final transcript did not show up within a confirmation window.
func (e *Engine) onTailTimeout(seq uint64) {
	var fx effects
	e.mu.Lock()
	u := e.tail
	if u == nil || !u.awaitingFinal || seq != e.tailSeq {
		e.mu.Unlock()
		metricStale.WithLabelValues("timer").Inc()
		return
	}
	log.Printf("[floor] %s no final transcript for interrupted utterance gen=%d, submitting interim text", e.name, u.gen)
	e.tailTimer = nil
	e.flushTailLocked(&fx)
	e.clearTailLocked()
	e.unlockRun(fx)
}

// Resume settles the pending utterance of generation gen as ignored and
// restores playback. It returns false when gen is stale.
func (e *Engine) Resume(gen uint64) bool {
	var fx effects
	e.mu.Lock()
	u := e.pending
	if u == nil || u.gen != gen || e.speech.State() != StateAwaitingTranscript {
		e.mu.Unlock()
		metricStale.WithLabelValues("resume").Inc()
		return false
	}
	e.ignoreLocked(u, ReasonResumed, false, &fx)
	e.unlockRun(fx)
	return true
}

func (e *Engine) interruptLocked(snap *Snapshot, u *utterance, reason Reason, final bool, fx *effects) Decision {
	e.stopTimerLocked()
	audio, r := e.audio, e.resumer
	fx.add(func() {
		audio.Stop()
		r.release()
	})
	e.setStateLocked(StateSilent)
	e.observeLatencyLocked(u)

	u.action = ActionInterrupt
	e.pending = nil
	e.clearTailLocked()
	if final {
		e.submit(fx, u.text)
	} else {
		u.awaitingFinal = true
		e.tail = u
		e.armTailLocked(snap.ConfirmWindow())
	}
	return e.emitLocked(fx, e.decision(ActionInterrupt, reason, u.text, final))
}

func (e *Engine) ignoreLocked(u *utterance, reason Reason, final bool, fx *effects) Decision {
	e.stopTimerLocked()
	if u.gen == e.gen {
		e.setStateLocked(StateSpeaking)
		fx.add(e.resumer.resume)
	} else {
		metricStale.WithLabelValues("resume").Inc()
	}
	e.observeLatencyLocked(u)

	u.action = ActionIgnore
	e.pending = nil
	e.clearTailLocked()
	e.tail = u
	return e.emitLocked(fx, e.decision(ActionIgnore, reason, u.text, final))
}

// flushTailLocked hands over an interrupted utterance whose final
// transcript never arrived.
func (e *Engine) flushTailLocked(fx *effects) {
	if u := e.tail; u != nil && u.awaitingFinal {
		u.awaitingFinal = false
		e.submit(fx, u.text)
	}
}

func (e *Engine) clearTailLocked() {
	if e.tailTimer != nil {
		e.tailTimer.Stop()
		e.tailTimer = nil
	}
	e.tail = nil
}

func (e *Engine) armTailLocked(d time.Duration) {
	if e.tailTimer != nil {
		e.tailTimer.Stop()
	}
	e.tailSeq++
	seq := e.tailSeq
	e.tailTimer = e.clock.AfterFunc(d, func() { e.onTailTimeout(seq) })
}

func (e *Engine) dropPendingLocked(why string) {
	if e.pending == nil {
		return
	}
	log.Printf("[floor] %s drop pending utterance gen=%d reason=%s", e.name, e.pending.gen, why)
	metricStale.WithLabelValues("pending").Inc()
	e.pending = nil
}

func (e *Engine) setStateLocked(to SpeechState) {
	from := e.speech.State()
	if e.speech.set(to, e.clock.Now()) {
		log.Printf("[floor] %s state %s -> %s gen=%d", e.name, from, to, e.gen)
	}
}

func (e *Engine) armTimerLocked(gen uint64, d time.Duration) {
	e.stopTimerLocked()
	e.timer = e.clock.AfterFunc(d, func() { e.OnConfirmationTimeout(gen) })
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) observeLatencyLocked(u *utterance) {
	if u.onset.IsZero() {
		return
	}
	if ms := e.clock.Now().Sub(u.onset).Milliseconds(); ms >= 0 {
		metricDecisionLatency.Observe(float64(ms))
	}
}

func (e *Engine) decision(a Action, r Reason, text string, final bool) Decision {
	return Decision{Action: a, Reason: r, Text: text, Final: final, Generation: e.gen, At: e.clock.Now()}
}

// emitLocked records a decision; the observer runs after the lock is released.
func (e *Engine) emitLocked(fx *effects, d Decision) Decision {
	metricDecisions.WithLabelValues(d.Action.String(), string(d.Reason)).Inc()
	log.Printf("[floor] %s decision=%s reason=%s gen=%d final=%v text=%q", e.name, d.Action, d.Reason, d.Generation, d.Final, d.Text)
	if obs := e.observer; obs != nil {
		fx.add(func() { obs(d) })
	}
	return d
}

func (e *Engine) submit(fx *effects, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	turns := e.turns
	fx.add(func() { turns.SubmitUserTurn(text) })
}

// effects are collaborator calls deferred until the engine lock is released.
type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

// unlockRun queues fx and releases e.mu, which must be held. Queued effects
// run one at a time in queue order, on whichever caller found the queue
// idle. A collaborator that calls back into the engine only appends to the
// queue; its effects run after the current one returns.
func (e *Engine) unlockRun(fx effects) {
	e.queue = append(e.queue, fx...)
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		f := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		f()
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}
