package floor

import "time"

// SpeechState is the agent's audio state as seen by the engine.
type SpeechState int

const (
	StateSilent SpeechState = iota
	StateSpeaking
	// StateAwaitingTranscript: user onset while speaking, playback held
	// until the transcript (or the confirmation window) settles it.
	StateAwaitingTranscript
)

func (s SpeechState) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	case StateAwaitingTranscript:
		return "awaiting_transcript"
	default:
		return "unknown"
	}
}

// AgentSpeechState holds the current SpeechState and when it was entered.
type AgentSpeechState struct {
	state SpeechState
	since time.Time
}

func (a *AgentSpeechState) State() SpeechState { return a.state }

func (a *AgentSpeechState) Since() time.Time { return a.since }

// set records a transition. AwaitingTranscript is only reachable from
// Speaking; anything else is refused.
func (a *AgentSpeechState) set(to SpeechState, now time.Time) bool {
	from := a.state
	if from == to {
		return false
	}
	if to == StateAwaitingTranscript && from != StateSpeaking {
		return false
	}
	metricStateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	a.state = to
	a.since = now
	return true
}
