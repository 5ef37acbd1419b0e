package floor

import (
	"sync"
	"testing"
	"time"
)

// reentrantAudio behaves like a playback backend that reports its own
// lifecycle synchronously from inside the control calls.
type reentrantAudio struct {
	fakeAudio
	e *Engine
}

func (a *reentrantAudio) Stop() {
	a.fakeAudio.Stop()
	a.e.OnAgentStoppedSpeaking()
}

func (a *reentrantAudio) Resume() {
	a.fakeAudio.Resume()
	a.e.Status()
}

func TestCollaboratorMayCallBackIntoEngine(t *testing.T) {
	audio := &reentrantAudio{fakeAudio: fakeAudio{canPause: true, pauseOK: true}}
	var mu sync.Mutex
	var turns []string
	e, err := NewEngine(DefaultSnapshot(), audio, TurnFunc(func(text string) {
		mu.Lock()
		turns = append(turns, text)
		mu.Unlock()
		// Turn handlers often look at the engine right away.
		_ = audio.e.State()
	}), WithClock(NewManualClock(time.Unix(1700000000, 0))))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	audio.e = e

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.OnAgentStartedSpeaking()
		e.OnActivityOnset(0)
		e.OnTranscript("mm-hmm", true)
		e.OnActivityOnset(0)
		e.OnTranscript("stop", true)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine blocked on a collaborator calling back into it")
	}

	if got := audio.recorded(); len(got) != 4 || got[3] != "stop" {
		t.Fatalf("audio calls = %v, want pause resume pause stop", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(turns) != 1 || turns[0] != "stop" {
		t.Fatalf("turns = %q, want [stop]", turns)
	}
	if e.State() != StateSilent {
		t.Fatalf("state = %s, want silent", e.State())
	}
}

func TestTimerRacesTranscriptOnSystemClock(t *testing.T) {
	opts := DefaultSnapshotOptions()
	opts.ConfirmWindow = 2 * time.Millisecond
	snap, err := NewSnapshot(opts)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	for i := 0; i < 50; i++ {
		var mu sync.Mutex
		var decisions []Decision
		audio := &fakeAudio{canPause: true, pauseOK: true}
		e, err := NewEngine(snap, audio, TurnFunc(func(string) {}), WithObserver(func(d Decision) {
			mu.Lock()
			decisions = append(decisions, d)
			mu.Unlock()
		}))
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		e.OnAgentStartedSpeaking()
		e.OnActivityOnset(0)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i%4) * time.Millisecond)
			e.OnTranscript("uh-huh", true)
		}()
		wg.Wait()
		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		n := len(decisions)
		mu.Unlock()
		if n != 1 {
			t.Fatalf("run %d: utterance resolved %d times, want exactly once", i, n)
		}
		if got := audio.recorded(); len(got) != 2 || got[0] != "pause" || got[1] != "resume" {
			t.Fatalf("run %d: audio calls = %v, want [pause resume]", i, got)
		}
		if st := e.Status(); st.Pending || st.Paused || st.State != "speaking" {
			t.Fatalf("run %d: unexpected status %+v", i, st)
		}
	}
}

func TestConcurrentCallersResolveEachUtteranceOnce(t *testing.T) {
	opts := DefaultSnapshotOptions()
	opts.ConfirmWindow = 3 * time.Millisecond
	snap, err := NewSnapshot(opts)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var mu sync.Mutex
	perGen := map[uint64]int{}
	audio := &fakeAudio{canPause: true, pauseOK: true}
	e, err := NewEngine(snap, audio, TurnFunc(func(string) {}), WithObserver(func(d Decision) {
		mu.Lock()
		perGen[d.Generation]++
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.OnAgentStartedSpeaking()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch (w + i) % 4 {
				case 0:
					e.OnActivityOnset(0)
				case 1:
					e.OnTranscript("yeah", i%2 == 0)
				case 2:
					time.Sleep(time.Duration(i%3) * time.Millisecond)
				case 3:
					e.OnActivityEnd()
				}
			}
		}(w)
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for {
		st := e.Status()
		if !st.Pending && !st.Paused {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine never settled: %+v", st)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for gen, n := range perGen {
		if n != 1 {
			t.Fatalf("generation %d resolved %d times", gen, n)
		}
	}
	if e.State() != StateSpeaking {
		t.Fatalf("state = %s, want speaking", e.State())
	}
}
