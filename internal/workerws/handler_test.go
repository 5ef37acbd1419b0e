package workerws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yuzu/bargein/internal/auth"
	"yuzu/bargein/internal/config"
	"yuzu/bargein/internal/store"
	"yuzu/bargein/internal/types"

	ws "nhooyr.io/websocket"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	var cfg config.Config
	cfg.Worker.TokenSecret = "secret"
	cfg.Worker.TokenSkewSecs = 5
	st := store.New()
	if err := st.CreateSession(&types.Session{ID: "s1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	srv := NewServer(cfg, st, NewRegistry())
	hs := httptest.NewServer(http.HandlerFunc(srv.HandleWorkerWS))
	t.Cleanup(hs.Close)
	return srv, hs
}

func wsURL(hs *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/?session_id=" + sessionID
}

func TestRejectsMissingToken(t *testing.T) {
	_, hs := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := ws.Dial(ctx, wsURL(hs, "s1"), nil)
	if err == nil {
		t.Fatalf("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestMessagesForwardedAndCommandsDelivered(t *testing.T) {
	srv, hs := newTestServer(t)
	got := make(chan Message, 1)
	srv.OnMessage = func(sessionID string, msg Message) { got <- msg }

	tok, _, err := auth.MintWorkerToken("secret", "s1", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+tok)
	c, _, err := ws.Dial(ctx, wsURL(hs, "s1"), &ws.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(ws.StatusNormalClosure, "")

	b, _ := json.Marshal(Message{Type: "vad_start", TsMs: 42, Payload: map[string]any{"duration_ms": 120}})
	if err := c.Write(ctx, ws.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case msg := <-got:
		if msg.Type != "vad_start" || msg.SessionID != "s1" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("message not forwarded")
	}
	if !srv.Store.GetWorkerState("s1").Connected {
		t.Fatalf("expected worker marked connected")
	}

	if err := srv.Reg.SendJSON(ctx, "s1", Message{Type: "stop_tts", CommandID: "c1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var cmd Message
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type != "stop_tts" || cmd.CommandID != "c1" {
		t.Fatalf("unexpected command %s (%v)", data, err)
	}
}

func TestSendWithoutWorker(t *testing.T) {
	reg := NewRegistry()
	if err := reg.SendJSON(context.Background(), "nobody", Message{Type: "x"}); !errors.Is(err, ErrNoWorker) {
		t.Fatalf("expected ErrNoWorker, got %v", err)
	}
}
