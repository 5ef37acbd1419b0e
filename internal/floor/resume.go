package floor

import "sync/atomic"

// ResumeController owns pause/resume on the audio output and remembers
// whether playback was actually paused. Its methods run as queued effects,
// one at a time and outside the engine lock.
type ResumeController struct {
	audio  AudioOutput
	paused atomic.Bool
}

func newResumeController(audio AudioOutput) *ResumeController {
	return &ResumeController{audio: audio}
}

// pause holds playback if the backend supports it.
func (r *ResumeController) pause() bool {
	if r.paused.Load() {
		return true
	}
	if !r.audio.CanPause() {
		return false
	}
	ok := r.audio.Pause()
	r.paused.Store(ok)
	return ok
}

// resume re-enables playback. On a backend that never paused there is
// nothing to re-enable.
func (r *ResumeController) resume() {
	if r.paused.Swap(false) {
		r.audio.Resume()
	}
}

// release forgets a pause; playback was stopped or restarted elsewhere.
func (r *ResumeController) release() { r.paused.Store(false) }

func (r *ResumeController) Paused() bool { return r.paused.Load() }
