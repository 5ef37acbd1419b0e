// Package classify matches user utterances against configured backchannel
// and command word sets. It holds no state; a WordSets value is immutable
// once built and may be shared between goroutines.
package classify

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrEmptyBackchannel = errors.New("backchannel word set is empty")
	ErrEmptyCommands    = errors.New("command word set is empty")
)

// WordSets is a normalized, read-only pair of word sets. Entries with an
// internal space are kept as phrases and matched on token boundaries.
type WordSets struct {
	backchannel map[string]struct{}
	command     map[string]struct{}

	backchannelPhrases [][]string
	commandPhrases     [][]string

	// squashed entry -> entry, for whole-utterance matching.
	backchannelSquashed map[string]string
	commandSquashed     map[string]string
}

// NewWordSets normalizes both lists the same way utterances are normalized
// and rejects a set that ends up empty.
func NewWordSets(backchannel, command []string) (*WordSets, error) {
	ws := &WordSets{
		backchannel: make(map[string]struct{}),
		command:     make(map[string]struct{}),
	}
	ws.backchannelPhrases = fill(ws.backchannel, backchannel)
	ws.commandPhrases = fill(ws.command, command)
	ws.backchannelSquashed = squashAll(ws.backchannel)
	ws.commandSquashed = squashAll(ws.command)
	if len(ws.backchannel) == 0 {
		return nil, ErrEmptyBackchannel
	}
	if len(ws.command) == 0 {
		return nil, ErrEmptyCommands
	}
	return ws, nil
}

func fill(set map[string]struct{}, entries []string) [][]string {
	var phrases [][]string
	for _, e := range entries {
		toks := tokenize(e)
		if len(toks) == 0 {
			continue
		}
		key := strings.Join(toks, " ")
		if _, dup := set[key]; dup {
			continue
		}
		set[key] = struct{}{}
		if len(toks) > 1 {
			phrases = append(phrases, toks)
		}
	}
	return phrases
}

// Backchannel returns a copy of the normalized backchannel entries.
func (ws *WordSets) Backchannel() []string { return keys(ws.backchannel) }

// Commands returns a copy of the normalized command entries.
func (ws *WordSets) Commands() []string { return keys(ws.command) }

// IsBackchannel reports whether a single normalized entry is a backchannel word.
func (ws *WordSets) IsBackchannel(word string) bool {
	_, ok := ws.backchannel[normalize(word)]
	return ok
}

// IsCommand reports whether a single normalized entry is a command word.
func (ws *WordSets) IsCommand(word string) bool {
	_, ok := ws.command[normalize(word)]
	return ok
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Result describes how an utterance matched the word sets. Both flags are
// reported independently; the caller orders them (commands win).
type Result struct {
	Normalized          string   `json:"normalized"`
	Tokens              []string `json:"tokens"`
	MatchedBackchannels []string `json:"matched_backchannels"`
	MatchedCommands     []string `json:"matched_commands"`
	HasCommand          bool     `json:"has_command"`
	BackchannelOnly     bool     `json:"backchannel_only"`
}

func (r Result) TokenCount() int { return len(r.Tokens) }

// Empty reports whether the utterance had no words at all.
func (r Result) Empty() bool { return len(r.Tokens) == 0 }

// Classify normalizes text and matches it against ws.
func Classify(text string, ws *WordSets) Result {
	r := Result{Normalized: normalize(text), Tokens: tokenize(text)}
	if r.Empty() || ws == nil {
		return r
	}

	covered := make([]bool, len(r.Tokens))
	var bc, cmd matches

	for i, t := range r.Tokens {
		if _, ok := ws.backchannel[t]; ok {
			bc.add(t)
			covered[i] = true
		}
		if _, ok := ws.command[t]; ok {
			cmd.add(t)
		}
	}

	for _, p := range ws.backchannelPhrases {
		for _, at := range findPhrase(r.Tokens, p) {
			bc.add(strings.Join(p, " "))
			for j := at; j < at+len(p); j++ {
				covered[j] = true
			}
		}
	}
	for _, p := range ws.commandPhrases {
		if len(findPhrase(r.Tokens, p)) > 0 {
			cmd.add(strings.Join(p, " "))
		}
	}

	// Transcribers punctuate and split words differently ("uh huh",
	// "uh-huh", "Uh, huh."); the whole utterance gets one more look with
	// all punctuation and spacing removed.
	whole := squash(r.Normalized)
	if e, ok := ws.backchannelSquashed[whole]; ok {
		bc.add(e)
		for i := range covered {
			covered[i] = true
		}
	}
	if e, ok := ws.commandSquashed[whole]; ok {
		cmd.add(e)
	}

	r.MatchedBackchannels = bc.list
	r.MatchedCommands = cmd.list
	r.HasCommand = len(cmd.list) > 0
	r.BackchannelOnly = len(bc.list) > 0 && !r.HasCommand && all(covered)
	return r
}

type matches struct {
	seen map[string]struct{}
	list []string
}

func (m *matches) add(s string) {
	if m.seen == nil {
		m.seen = make(map[string]struct{})
	}
	if _, ok := m.seen[s]; ok {
		return
	}
	m.seen[s] = struct{}{}
	m.list = append(m.list, s)
}

func all(b []bool) bool {
	for _, v := range b {
		if !v {
			return false
		}
	}
	return true
}

// findPhrase returns every token index where phrase starts.
func findPhrase(tokens, phrase []string) []int {
	var out []int
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		ok := true
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// normalize lowercases, trims enclosing punctuation and collapses whitespace.
func normalize(s string) string {
	s = trimPunct(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

func tokenize(s string) []string {
	fields := strings.Fields(trimPunct(strings.ToLower(s)))
	out := fields[:0]
	for _, f := range fields {
		if f = trimPunct(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func squashAll(set map[string]struct{}) map[string]string {
	out := make(map[string]string, len(set))
	for e := range set {
		if k := squash(e); k != "" {
			out[k] = e
		}
	}
	return out
}

// squash drops everything but letters and digits.
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return -1
	}, s)
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
}
