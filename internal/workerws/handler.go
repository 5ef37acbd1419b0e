package workerws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"yuzu/bargein/internal/auth"
	"yuzu/bargein/internal/config"
	"yuzu/bargein/internal/store"
	"yuzu/bargein/internal/types"

	ws "nhooyr.io/websocket"
)

// Message is the worker wire envelope, used in both directions.
type Message struct {
	Type        string         `json:"type"`
	TsMs        int64          `json:"ts_ms"`
	SessionID   string         `json:"session_id"`
	Seq         int64          `json:"seq"`
	CommandID   string         `json:"command_id,omitempty"`
	UtteranceID string         `json:"utterance_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type Server struct {
	Cfg   config.Config
	Store *store.Store
	Reg   *Registry
	// OnMessage receives every decoded worker message after it is logged.
	OnMessage func(sessionID string, msg Message)
	// OnDisconnect runs once the read loop of a connection ends.
	OnDisconnect func(sessionID string)
}

func NewServer(cfg config.Config, st *store.Store, reg *Registry) *Server {
	return &Server{Cfg: cfg, Store: st, Reg: reg}
}

func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	sess := s.Store.GetSession(sessionID)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if sess.Status == types.SessionEnded {
		http.Error(w, "session ended", http.StatusGone)
		return
	}
	// Auth header
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if s.Cfg.Worker.TokenSecret == "" {
		http.Error(w, "worker auth not configured", http.StatusUnauthorized)
		return
	}
	if _, _, err := auth.ValidateWorkerToken(s.Cfg.Worker.TokenSecret, token, sessionID, time.Now(), s.Cfg.Worker.TokenSkewSecs); err != nil {
		log.Printf("[ws] session=%s rejected token: %v", sessionID, err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Printf("[ws] accept: %v", err)
		return
	}
	if s.Reg.Replace(sessionID, c) {
		s.Store.AppendEvent(sessionID, "worker_replaced", nil)
	}
	s.Store.SetWorkerConnected(sessionID, true)
	s.Store.AppendEvent(sessionID, "worker_connected", nil)
	log.Printf("[ws] session=%s worker connected", sessionID)

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Store.AppendEvent(sessionID, "worker_msg_invalid", map[string]any{"error": err.Error()})
			continue
		}
		msg.SessionID = sessionID
		s.Store.AppendEvent(sessionID, msg.Type, eventPayload(msg))
		if s.OnMessage != nil {
			s.OnMessage(sessionID, msg)
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	// A replacement connection may already own the slot.
	if s.Reg.RemoveIf(sessionID, c) {
		s.Store.SetWorkerConnected(sessionID, false)
		s.Store.AppendEvent(sessionID, "worker_disconnected", nil)
		log.Printf("[ws] session=%s worker disconnected", sessionID)
		if s.OnDisconnect != nil {
			s.OnDisconnect(sessionID)
		}
	}
}

// eventPayload copies the message payload so the store never shares a map
// with the dispatcher.
func eventPayload(msg Message) map[string]any {
	payload := make(map[string]any, len(msg.Payload)+4)
	for k, v := range msg.Payload {
		payload[k] = v
	}
	payload["ts_ms"] = msg.TsMs
	payload["seq"] = msg.Seq
	if msg.CommandID != "" {
		payload["command_id"] = msg.CommandID
	}
	if msg.UtteranceID != "" {
		payload["utterance_id"] = msg.UtteranceID
	}
	return payload
}
