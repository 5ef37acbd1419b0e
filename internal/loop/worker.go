package loop

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"yuzu/bargein/internal/workerws"
)

// Sender delivers JSON to a session's worker. *workerws.Registry satisfies it.
type Sender interface {
	SendJSON(ctx context.Context, sessionID string, v any) error
}

const sendTimeout = 5 * time.Second

// sendCommand writes one command and records it; it returns the command id,
// or "" when the send failed.
func (d *Dispatcher) sendCommand(s *sessState, typ string, payload map[string]any) string {
	cmdID := uuid.New().String()
	out := workerws.Message{
		Type:        typ,
		TsMs:        d.clock.Now().UnixMilli(),
		SessionID:   s.id,
		CommandID:   cmdID,
		UtteranceID: s.utterance(),
		Payload:     payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := d.reg.SendJSON(ctx, s.id, out)
	cancel()
	if err != nil {
		metricCommands.WithLabelValues(typ, "error").Inc()
		log.Printf("[loop] session=%s send %s: %v", s.id, typ, err)
		d.store.AppendEvent(s.id, typ+"_failed", map[string]any{"command_id": cmdID, "error": err.Error()})
		return ""
	}
	metricCommands.WithLabelValues(typ, "ok").Inc()
	s.trackCommand(cmdID, typ, d.clock.Now())
	d.store.AppendEvent(s.id, typ+"_sent", map[string]any{"command_id": cmdID, "utterance_id": out.UtteranceID})
	return cmdID
}

// workerAudio drives the worker's TTS playback through commands.
type workerAudio struct {
	d        *Dispatcher
	s        *sessState
	canPause bool
}

func (a *workerAudio) Pause() bool {
	return a.d.sendCommand(a.s, "pause_tts", nil) != ""
}

func (a *workerAudio) Resume() { a.d.sendCommand(a.s, "resume_tts", nil) }

func (a *workerAudio) Stop() {
	a.d.sendCommand(a.s, "stop_tts", map[string]any{"mode": "current"})
}

func (a *workerAudio) CanPause() bool { return a.canPause }

// workerTurns hands accepted user turns to the worker's response pipeline.
type workerTurns struct {
	d *Dispatcher
	s *sessState
}

func (t *workerTurns) SubmitUserTurn(text string) {
	t.d.store.AppendEvent(t.s.id, "user_turn", map[string]any{"text": text})
	t.d.sendCommand(t.s, "user_turn", map[string]any{"text": text})
}
