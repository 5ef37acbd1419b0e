package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"yuzu/bargein/internal/classify"
	"yuzu/bargein/internal/config"
	"yuzu/bargein/internal/loop"
	"yuzu/bargein/internal/store"
	"yuzu/bargein/internal/types"
	"yuzu/bargein/internal/workerws"
)

func newTestAPI(t *testing.T, secret string) (*httptest.Server, *store.Store) {
	t.Helper()
	var cfg config.Config
	cfg.Worker.TokenSecret = secret
	cfg.Worker.TokenTTLMin = 5
	st := store.New()
	reg := workerws.NewRegistry()
	disp := loop.New(reg, st, 60, nil)
	srv := httptest.NewServer(NewRouter(NewHandlers(cfg, st, disp, reg)))
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create session: %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.SessionID == "" {
		t.Fatalf("decode session: %v", err)
	}
	return out.SessionID
}

func TestUnknownSession404(t *testing.T) {
	srv, _ := newTestAPI(t, "s")

	for _, path := range []string{"/end", "/worker-token", "/debug/vad-start"} {
		resp := postJSON(t, srv.URL+"/sessions/unknown"+path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("POST %s: expected 404, got %d", path, resp.StatusCode)
		}
	}
	resp, err := http.Get(srv.URL + "/sessions/unknown/events")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestAPI(t, "s")
	resp, err := http.Get(srv.URL + "/sessions/abc/end")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestDebugBargeInFlow(t *testing.T) {
	is := is.New(t)
	srv, st := newTestAPI(t, "s")
	id := createSession(t, srv)
	base := srv.URL + "/sessions/" + id + "/debug/"

	is.Equal(postJSON(t, base+"hello", map[string]any{"can_pause": true}).StatusCode, http.StatusOK)
	is.Equal(postJSON(t, base+"tts-started", nil).StatusCode, http.StatusOK)
	is.Equal(postJSON(t, base+"vad-start", map[string]any{"duration_ms": 200}).StatusCode, http.StatusOK)

	resp := postJSON(t, base+"transcript", map[string]any{"text": "no, the other one", "final": true})
	is.Equal(resp.StatusCode, http.StatusOK)
	var status struct {
		State string `json:"state"`
	}
	is.NoErr(json.NewDecoder(resp.Body).Decode(&status))
	is.Equal(status.State, "silent")

	var decisions []types.Event
	for _, e := range st.ListEvents(id) {
		if e.Type == "floor_decision" {
			decisions = append(decisions, e)
		}
	}
	is.Equal(len(decisions), 1)
	is.Equal(decisions[0].Payload["action"], "interrupt")
	is.Equal(decisions[0].Payload["reason"], "command")

	fr, err := http.Get(srv.URL + "/sessions/" + id + "/floor")
	is.NoErr(err)
	defer fr.Body.Close()
	is.Equal(fr.StatusCode, http.StatusOK)

	is.Equal(postJSON(t, base+"bogus", nil).StatusCode, http.StatusNotFound)
}

func TestWorkerToken(t *testing.T) {
	is := is.New(t)
	srv, _ := newTestAPI(t, "secret")
	id := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/sessions/"+id+"/worker-token", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var out struct {
		Token string `json:"token"`
	}
	is.NoErr(json.NewDecoder(resp.Body).Decode(&out))
	is.True(out.Token != "")

	is.Equal(postJSON(t, srv.URL+"/sessions/"+id+"/end", nil).StatusCode, http.StatusOK)
	is.Equal(postJSON(t, srv.URL+"/sessions/"+id+"/worker-token", nil).StatusCode, http.StatusGone)
}

func TestWorkerTokenWithoutSecret(t *testing.T) {
	srv, _ := newTestAPI(t, "")
	id := createSession(t, srv)
	resp := postJSON(t, srv.URL+"/sessions/"+id+"/worker-token", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	is := is.New(t)
	srv, _ := newTestAPI(t, "s")
	resp := postJSON(t, srv.URL+"/classify", map[string]any{"text": "Okay, hold on"})
	is.Equal(resp.StatusCode, http.StatusOK)
	var res classify.Result
	is.NoErr(json.NewDecoder(resp.Body).Decode(&res))
	is.True(res.HasCommand)
	is.Equal(res.MatchedCommands, []string{"hold on"})
}
