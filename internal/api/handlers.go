package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"yuzu/bargein/internal/auth"
	"yuzu/bargein/internal/config"
	"yuzu/bargein/internal/loop"
	"yuzu/bargein/internal/store"
	"yuzu/bargein/internal/types"
	"yuzu/bargein/internal/workerws"
)

// WorkerCloser drops a session's worker connection.
type WorkerCloser interface {
	Close(sessionID, reason string)
}

type Handlers struct {
	cfg     config.Config
	store   *store.Store
	disp    *loop.Dispatcher
	workers WorkerCloser
}

func NewHandlers(cfg config.Config, st *store.Store, disp *loop.Dispatcher, workers WorkerCloser) *Handlers {
	return &Handlers{cfg: cfg, store: st, disp: disp, workers: workers}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	sess := &types.Session{ID: id, CreatedAt: time.Now().UTC()}
	if err := h.store.CreateSession(sess); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.store.AppendEvent(id, "session_created", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"created_at": sess.CreatedAt,
		"worker_ws":  "/ws/worker?session_id=" + id,
	})
}

func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.EndSession(id, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.disp.End(id)
	if h.workers != nil {
		h.workers.Close(id, "session ended")
	}
	h.store.AppendEvent(id, "session_ended", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": types.SessionEnded})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id),
	})
}

// HandleFloor reports the session's floor engine and worker capabilities.
func (h *Handlers) HandleFloor(w http.ResponseWriter, r *http.Request, id string) {
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	out := map[string]any{
		"session_id": id,
		"worker":     h.store.GetWorkerState(id),
	}
	st, err := h.disp.Inspect(id)
	switch {
	case err == nil:
		out["engine"] = st
	case errors.Is(err, loop.ErrUnknownSession):
		out["engine"] = nil
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) HandleMintWorkerToken(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	if sess.Status == types.SessionEnded {
		http.Error(w, "session ended", http.StatusGone)
		return
	}
	ttl := time.Duration(h.cfg.Worker.TokenTTLMin) * time.Minute
	tok, exp, err := auth.MintWorkerToken(h.cfg.Worker.TokenSecret, id, ttl, time.Now())
	if err != nil {
		if errors.Is(err, auth.ErrNoSecret) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.store.AppendEvent(id, "worker_token_minted", map[string]any{"exp": exp.Unix()})
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "expires_at": exp.UTC()})
}

type debugRequest struct {
	Text        string  `json:"text"`
	Final       bool    `json:"final"`
	DurationMs  float64 `json:"duration_ms"`
	CanPause    bool    `json:"can_pause"`
	UtteranceID string  `json:"utterance_id"`
}

var debugMessageTypes = map[string]string{
	"hello":       "worker_hello",
	"vad-start":   "vad_start",
	"vad-end":     "vad_end",
	"transcript":  "transcript_interim",
	"tts-started": "tts_started",
	"tts-stopped": "tts_stopped",
}

// HandleDebug injects a synthetic worker message into the session's floor
// engine and returns the resulting status.
func (h *Handlers) HandleDebug(w http.ResponseWriter, r *http.Request, id, action string) {
	typ, ok := debugMessageTypes[action]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	var req debugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	payload := map[string]any{"source": "debug"}
	switch typ {
	case "worker_hello":
		payload["can_pause"] = req.CanPause
	case "vad_start":
		payload["duration_ms"] = req.DurationMs
	case "transcript_interim":
		payload["text"] = req.Text
		if req.Final {
			typ = "transcript_final"
		}
	}
	msg := workerws.Message{
		Type:        typ,
		TsMs:        time.Now().UnixMilli(),
		SessionID:   id,
		UtteranceID: req.UtteranceID,
		Payload:     payload,
	}
	log.Printf("[api] session=%s debug inject %s", id, typ)
	h.store.AppendEvent(id, "debug_"+typ, payload)
	h.disp.OnMessage(id, msg)

	st, err := h.disp.Inspect(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleClassify runs the classifier of the active configuration on a text.
func (h *Handlers) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.disp.Snapshot().Classify(req.Text))
}
