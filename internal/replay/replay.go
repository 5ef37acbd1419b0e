// Package replay runs scripted event timelines through a floor engine on a
// manual clock, for offline tuning of word lists and windows.
package replay

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"yuzu/bargein/internal/floor"
)

var ErrBadScript = errors.New("invalid replay script")

// Script is the YAML document accepted by Parse.
type Script struct {
	Name     string      `yaml:"name"`
	CanPause *bool       `yaml:"can_pause"`
	Floor    FloorConfig `yaml:"floor"`
	Events   []Event     `yaml:"events"`
	// EndMs keeps the clock running after the last event so pending
	// windows can expire. Zero means one confirmation window.
	EndMs int64 `yaml:"end_ms"`
}

// FloorConfig overrides the default snapshot; zero values keep defaults.
type FloorConfig struct {
	BackchannelWords []string `yaml:"backchannel_words"`
	CommandWords     []string `yaml:"command_words"`
	ConfirmWindowMs  int      `yaml:"confirm_window_ms"`
	MinWords         *int     `yaml:"min_words"`
	MinInterruptMs   int      `yaml:"min_interrupt_ms"`
}

type Event struct {
	AtMs       int64  `yaml:"at_ms"`
	Type       string `yaml:"type"`
	Text       string `yaml:"text,omitempty"`
	Final      bool   `yaml:"final,omitempty"`
	DurationMs int64  `yaml:"duration_ms,omitempty"`
	// Expect is an optional action name the event must produce.
	Expect string `yaml:"expect,omitempty"`
}

var eventTypes = map[string]bool{
	"tts_started": true,
	"tts_stopped": true,
	"vad_start":   true,
	"vad_end":     true,
	"transcript":  true,
	"advance":     true,
}

func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadScript, err)
	}
	var last int64
	for i, ev := range s.Events {
		if !eventTypes[ev.Type] {
			return nil, fmt.Errorf("%w: event %d: unknown type %q", ErrBadScript, i, ev.Type)
		}
		if ev.AtMs < last {
			return nil, fmt.Errorf("%w: event %d at %dms goes back in time", ErrBadScript, i, ev.AtMs)
		}
		last = ev.AtMs
	}
	return &s, nil
}

// Snapshot builds the engine configuration for the script.
func (s *Script) Snapshot() (*floor.Snapshot, error) {
	o := floor.DefaultSnapshotOptions()
	if len(s.Floor.BackchannelWords) > 0 {
		o.BackchannelWords = s.Floor.BackchannelWords
	}
	if len(s.Floor.CommandWords) > 0 {
		o.CommandWords = s.Floor.CommandWords
	}
	if s.Floor.ConfirmWindowMs != 0 {
		o.ConfirmWindow = time.Duration(s.Floor.ConfirmWindowMs) * time.Millisecond
	}
	if s.Floor.MinWords != nil {
		o.MinWords = *s.Floor.MinWords
	}
	o.MinInterruptDuration = time.Duration(s.Floor.MinInterruptMs) * time.Millisecond
	return floor.NewSnapshot(o)
}

// Step is one line of replay output.
type Step struct {
	AtMs   int64  `json:"at_ms"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (s Step) String() string { return fmt.Sprintf("%6dms  %-14s %s", s.AtMs, s.Kind, s.Detail) }

type Result struct {
	Steps     []Step           `json:"steps"`
	Decisions []floor.Decision `json:"decisions"`
	Turns     []string         `json:"turns"`
	// Failures lists unmet expectations.
	Failures []string `json:"failures,omitempty"`
}

type recorder struct {
	clock    *floor.ManualClock
	start    time.Time
	canPause bool
	res      *Result
	observed []floor.Decision
}

func (r *recorder) at() int64 { return r.clock.Now().Sub(r.start).Milliseconds() }

func (r *recorder) step(kind, detail string) {
	r.res.Steps = append(r.res.Steps, Step{AtMs: r.at(), Kind: kind, Detail: detail})
}

func (r *recorder) Pause() bool    { r.step("audio", "pause"); return true }
func (r *recorder) Resume()        { r.step("audio", "resume") }
func (r *recorder) Stop()          { r.step("audio", "stop") }
func (r *recorder) CanPause() bool { return r.canPause }

func (r *recorder) SubmitUserTurn(text string) {
	r.res.Turns = append(r.res.Turns, text)
	r.step("turn", fmt.Sprintf("%q", text))
}

func (r *recorder) observe(d floor.Decision) {
	r.observed = append(r.observed, d)
	r.res.Decisions = append(r.res.Decisions, d)
	r.step("decision", fmt.Sprintf("%s (%s) gen=%d %q", d.Action, d.Reason, d.Generation, d.Text))
}

// Run plays the script and reports everything the engine did.
func Run(s *Script) (*Result, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	start := time.Unix(0, 0).UTC()
	rec := &recorder{
		clock:    floor.NewManualClock(start),
		start:    start,
		canPause: s.CanPause == nil || *s.CanPause,
		res:      &Result{},
	}
	name := s.Name
	if name == "" {
		name = "replay"
	}
	eng, err := floor.NewEngine(snap, rec, rec,
		floor.WithClock(rec.clock),
		floor.WithName(name),
		floor.WithObserver(rec.observe),
	)
	if err != nil {
		return nil, err
	}

	for i, ev := range s.Events {
		rec.observed = rec.observed[:0]
		rec.clock.Advance(time.Duration(ev.AtMs-rec.at()) * time.Millisecond)
		rec.step("event", describe(ev))

		got := floor.ActionNone
		switch ev.Type {
		case "tts_started":
			eng.OnAgentStartedSpeaking()
		case "tts_stopped":
			eng.OnAgentStoppedSpeaking()
		case "vad_start":
			got = eng.OnActivityOnset(time.Duration(ev.DurationMs) * time.Millisecond).Action
		case "vad_end":
			eng.OnActivityEnd()
		case "transcript":
			got = eng.OnTranscript(ev.Text, ev.Final).Action
		case "advance":
			if n := len(rec.observed); n > 0 {
				got = rec.observed[n-1].Action
			}
		}
		if ev.Expect != "" && ev.Expect != got.String() {
			rec.res.Failures = append(rec.res.Failures,
				fmt.Sprintf("event %d (%s at %dms): expected %s, got %s", i, ev.Type, ev.AtMs, ev.Expect, got))
		}
	}

	end := time.Duration(s.EndMs) * time.Millisecond
	if s.EndMs == 0 {
		end = time.Duration(rec.at())*time.Millisecond + snap.ConfirmWindow()
	}
	if rest := end - time.Duration(rec.at())*time.Millisecond; rest > 0 {
		rec.clock.Advance(rest)
	}
	rec.step("end", eng.State().String())
	return rec.res, nil
}

func describe(ev Event) string {
	switch ev.Type {
	case "transcript":
		kind := "interim"
		if ev.Final {
			kind = "final"
		}
		return fmt.Sprintf("transcript %s %q", kind, ev.Text)
	case "vad_start":
		return fmt.Sprintf("vad_start duration=%dms", ev.DurationMs)
	}
	return ev.Type
}
