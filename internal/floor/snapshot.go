package floor

import (
	"errors"
	"fmt"
	"time"

	"yuzu/bargein/internal/classify"
)

var ErrInvalidSnapshot = errors.New("invalid floor snapshot")

// SnapshotOptions is the raw input to NewSnapshot.
type SnapshotOptions struct {
	BackchannelWords     []string
	CommandWords         []string
	ConfirmWindow        time.Duration
	MinWords             int
	MinInterruptDuration time.Duration
}

func DefaultSnapshotOptions() SnapshotOptions {
	return SnapshotOptions{
		BackchannelWords:     classify.DefaultBackchannelWords(),
		CommandWords:         classify.DefaultCommandWords(),
		ConfirmWindow:        1500 * time.Millisecond,
		MinWords:             1,
		MinInterruptDuration: 0,
	}
}

// Snapshot is an immutable engine configuration. To change anything, build a
// new one and hand it to Engine.SetSnapshot.
type Snapshot struct {
	words                *classify.WordSets
	confirmWindow        time.Duration
	minWords             int
	minInterruptDuration time.Duration
}

func NewSnapshot(o SnapshotOptions) (*Snapshot, error) {
	if o.ConfirmWindow <= 0 {
		return nil, fmt.Errorf("%w: confirmation window must be positive, got %s", ErrInvalidSnapshot, o.ConfirmWindow)
	}
	if o.MinWords < 0 {
		return nil, fmt.Errorf("%w: negative minimum word count %d", ErrInvalidSnapshot, o.MinWords)
	}
	if o.MinInterruptDuration < 0 {
		return nil, fmt.Errorf("%w: negative minimum interruption duration %s", ErrInvalidSnapshot, o.MinInterruptDuration)
	}
	ws, err := classify.NewWordSets(o.BackchannelWords, o.CommandWords)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return &Snapshot{
		words:                ws,
		confirmWindow:        o.ConfirmWindow,
		minWords:             o.MinWords,
		minInterruptDuration: o.MinInterruptDuration,
	}, nil
}

// DefaultSnapshot builds the stock configuration.
func DefaultSnapshot() *Snapshot {
	s, err := NewSnapshot(DefaultSnapshotOptions())
	if err != nil {
		panic(fmt.Sprintf("floor: default snapshot: %v", err))
	}
	return s
}

func (s *Snapshot) Words() *classify.WordSets { return s.words }

func (s *Snapshot) ConfirmWindow() time.Duration { return s.confirmWindow }

func (s *Snapshot) MinWords() int { return s.minWords }

func (s *Snapshot) MinInterruptDuration() time.Duration { return s.minInterruptDuration }

// Classify runs the word-set classifier against this snapshot.
func (s *Snapshot) Classify(text string) classify.Result {
	return classify.Classify(text, s.words)
}
