package classify

import (
	"testing"

	"github.com/matryer/is"
)

func defaults(t *testing.T) *WordSets {
	t.Helper()
	ws, err := NewWordSets(DefaultBackchannelWords(), DefaultCommandWords())
	if err != nil {
		t.Fatalf("default word sets: %v", err)
	}
	return ws
}

func TestNewWordSetsRejectsEmpty(t *testing.T) {
	is := is.New(t)

	_, err := NewWordSets(nil, []string{"stop"})
	is.Equal(err, ErrEmptyBackchannel)

	_, err = NewWordSets([]string{"yeah"}, []string{"  ", "!!"})
	is.Equal(err, ErrEmptyCommands) // punctuation-only entries normalize away
}

func TestNewWordSetsNormalizesEntries(t *testing.T) {
	is := is.New(t)
	ws, err := NewWordSets([]string{" Yeah! ", "Got   It"}, []string{"STOP."})
	is.NoErr(err)
	is.True(ws.IsBackchannel("yeah"))
	is.True(ws.IsBackchannel("got it"))
	is.True(ws.IsCommand("stop"))
	is.Equal(len(ws.Backchannel()), 2)
}

func TestClassifyEmpty(t *testing.T) {
	is := is.New(t)
	ws := defaults(t)
	for _, in := range []string{"", "   ", "\t\n", "...", "?!"} {
		r := Classify(in, ws)
		is.True(r.Empty())
		is.True(!r.BackchannelOnly) // zero words cannot be only backchannel
		is.True(!r.HasCommand)
		is.Equal(len(r.MatchedBackchannels), 0)
	}
}

func TestClassifyCases(t *testing.T) {
	ws := defaults(t)
	cases := []struct {
		text            string
		backchannelOnly bool
		hasCommand      bool
		tokens          int
	}{
		{"yeah", true, false, 1},
		{"Yeah.", true, false, 1},
		{"Uh-huh!", true, false, 1},
		{"okay, yeah, got it", true, false, 4},
		{"I see", true, false, 2},
		{"stop", false, true, 1},
		{"STOP!", false, true, 1},
		{"yeah but wait", false, true, 3},
		{"okay hold on", false, true, 3},
		{"yeah the weather", false, false, 3},
		{"tell me more about pricing", false, false, 5},
		{"behold one", false, false, 2},
		{"waiting for the bus", false, false, 4},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			r := Classify(tc.text, ws)
			if r.BackchannelOnly != tc.backchannelOnly {
				t.Errorf("BackchannelOnly = %v, want %v (%+v)", r.BackchannelOnly, tc.backchannelOnly, r)
			}
			if r.HasCommand != tc.hasCommand {
				t.Errorf("HasCommand = %v, want %v (%+v)", r.HasCommand, tc.hasCommand, r)
			}
			if r.TokenCount() != tc.tokens {
				t.Errorf("TokenCount = %d, want %d", r.TokenCount(), tc.tokens)
			}
		})
	}
}

func TestClassifyCommandAndBackchannelReportedTogether(t *testing.T) {
	is := is.New(t)
	r := Classify("yeah, wait", defaults(t))
	is.Equal(r.MatchedBackchannels, []string{"yeah"})
	is.Equal(r.MatchedCommands, []string{"wait"})
	is.True(r.HasCommand)
	is.True(!r.BackchannelOnly) // command overrides backchannel status
}

func TestClassifyPhraseOnTokenBoundaries(t *testing.T) {
	is := is.New(t)
	ws := defaults(t)

	r := Classify("oh, hold on a sec", ws)
	is.True(r.HasCommand)
	is.Equal(r.MatchedCommands, []string{"hold on"})

	r = Classify("behold one thing", ws)
	is.True(!r.HasCommand) // phrase must not match inside words
}

func TestClassifyUnknownTokenBlocksBackchannelOnly(t *testing.T) {
	is := is.New(t)
	r := Classify("yeah pineapple", defaults(t))
	is.Equal(r.MatchedBackchannels, []string{"yeah"})
	is.True(!r.BackchannelOnly)
	is.True(!r.HasCommand)
}

func TestClassifyDedupesMatches(t *testing.T) {
	is := is.New(t)
	r := Classify("yeah yeah yeah", defaults(t))
	is.Equal(r.MatchedBackchannels, []string{"yeah"})
	is.True(r.BackchannelOnly)
}

func TestClassifyWholeUtteranceMatch(t *testing.T) {
	is := is.New(t)
	ws, err := NewWordSets([]string{"mm-hmm"}, []string{"stop"})
	is.NoErr(err)
	r := Classify("  «Mm-hmm»  ", ws)
	is.Equal(r.Normalized, "mm-hmm")
	is.True(r.BackchannelOnly)
}

func TestClassifyWholeUtteranceIgnoresInnerPunctuation(t *testing.T) {
	is := is.New(t)
	ws, err := NewWordSets([]string{"uh-huh", "mm-hmm"}, []string{"hold on"})
	is.NoErr(err)

	for _, text := range []string{"uh huh", "Uh, huh.", "mm hmm"} {
		r := Classify(text, ws)
		is.True(r.BackchannelOnly) // split backchannel still a backchannel
		is.True(!r.HasCommand)
	}

	r := Classify("uh huh", ws)
	is.Equal(r.MatchedBackchannels, []string{"uh-huh"})

	r = Classify("Hold-on!", ws)
	is.True(r.HasCommand)
	is.Equal(r.MatchedCommands, []string{"hold on"})

	// Only the whole utterance is squashed, never a part of it.
	r = Classify("uh huh sure", ws)
	is.True(!r.BackchannelOnly)
}

func TestClassifyNilWordSets(t *testing.T) {
	is := is.New(t)
	r := Classify("stop", nil)
	is.Equal(r.TokenCount(), 1)
	is.True(!r.HasCommand)
}
