// Package floor decides whether user speech heard while the agent is
// talking should take the floor or be ignored as a backchannel.
package floor

import "time"

// Action is what the engine decided to do with an utterance.
type Action int

const (
	// ActionNone: no decision came out of this call (pending, dropped, stale).
	ActionNone Action = iota
	// ActionIgnore: backchannel or noise; agent audio continues.
	ActionIgnore
	// ActionInterrupt: agent audio stopped, utterance handed to the turn manager.
	ActionInterrupt
	// ActionRespond: agent was not talking; treat the speech as a normal turn.
	ActionRespond
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionIgnore:
		return "ignore"
	case ActionInterrupt:
		return "interrupt"
	case ActionRespond:
		return "respond"
	default:
		return "unknown"
	}
}

// Reason explains a decision; used for logs, events and metric labels.
type Reason string

const (
	ReasonAgentSilent       Reason = "agent_silent"
	ReasonNoPendingDecision Reason = "no_pending_decision"
	ReasonBelowMinDuration  Reason = "below_min_duration"
	ReasonAwaiting          Reason = "awaiting_transcript"
	ReasonCommand           Reason = "command"
	ReasonContent           Reason = "content"
	ReasonBackchannel       Reason = "backchannel"
	ReasonInconclusive      Reason = "inconclusive"
	ReasonEmpty             Reason = "empty"
	ReasonTimeout           Reason = "timeout"
	ReasonResumed           Reason = "resumed"
	ReasonTrailing          Reason = "trailing_transcript"
	ReasonStale             Reason = "stale"
)

// Decision is the engine's output for one call.
type Decision struct {
	Action     Action    `json:"action"`
	Reason     Reason    `json:"reason"`
	Text       string    `json:"text,omitempty"`
	Final      bool      `json:"final"`
	Generation uint64    `json:"generation"`
	At         time.Time `json:"at"`
}

// Terminal reports whether the decision resolved an utterance.
func (d Decision) Terminal() bool { return d.Action != ActionNone }

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
