package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	ws "nhooyr.io/websocket"

	"yuzu/bargein/internal/workerws"
)

// Plays a worker against a running server: one backchannel that must be
// ignored, then a real interruption that must stop playback.
func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	sessionID := flag.String("session", "", "existing session id (created when empty)")
	token := flag.String("token", "", "worker token (minted through the API when empty)")
	canPause := flag.Bool("can-pause", true, "declare pause support in worker_hello")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sid := *sessionID
	if sid == "" {
		var out struct {
			SessionID string `json:"session_id"`
		}
		if err := postJSON(ctx, *server+"/sessions", &out); err != nil {
			log.Fatalf("create session: %v", err)
		}
		sid = out.SessionID
	}
	tok := *token
	if tok == "" {
		var out struct {
			Token string `json:"token"`
		}
		if err := postJSON(ctx, *server+"/sessions/"+sid+"/worker-token", &out); err != nil {
			log.Fatalf("mint worker token: %v", err)
		}
		tok = out.Token
	}

	wsURL := "ws" + strings.TrimPrefix(*server, "http") + "/ws/worker?session_id=" + url.QueryEscape(sid)
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+tok)
	c, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{HTTPHeader: hdr})
	if err != nil {
		log.Fatalf("dial %s: %v", wsURL, err)
	}
	defer c.Close(ws.StatusNormalClosure, "done")

	w := &worker{c: c, sid: sid, got: make(chan workerws.Message, 32)}
	go w.readLoop(ctx)

	fmt.Printf("=== Floor E2E ===\n")
	fmt.Printf("Session: %s\n\n", sid)

	fmt.Println("[1] worker_hello + tts_started")
	w.send(ctx, "worker_hello", map[string]any{"can_pause": *canPause})
	w.sendUtt(ctx, "tts_started", "utt-1", nil)

	fmt.Println("[2] backchannel: vad_start, transcript_final \"uh-huh\"")
	w.send(ctx, "vad_start", map[string]any{"duration_ms": 180})
	w.send(ctx, "transcript_final", map[string]any{"text": "uh-huh"})
	if *canPause {
		w.expect(ctx, "pause_tts", "resume_tts")
	}

	fmt.Println("[3] interruption: vad_start, transcript_interim \"wait\", transcript_final")
	w.send(ctx, "vad_start", map[string]any{"duration_ms": 300})
	w.send(ctx, "transcript_interim", map[string]any{"text": "wait"})
	w.send(ctx, "transcript_final", map[string]any{"text": "wait, can you repeat that"})
	if *canPause {
		w.expect(ctx, "pause_tts")
	}
	w.expect(ctx, "stop_tts", "user_turn")
	w.sendUtt(ctx, "tts_stopped", "utt-1", map[string]any{"reason": "interrupted"})

	printFloor(ctx, *server, sid)
	if w.failed() {
		fmt.Println("\n[*] FAILED")
		os.Exit(1)
	}
	fmt.Println("\n[*] OK")
}

type worker struct {
	c   *ws.Conn
	sid string
	got chan workerws.Message

	mu   sync.Mutex
	seq  int64
	fail bool
}

func (w *worker) send(ctx context.Context, typ string, payload map[string]any) {
	w.sendUtt(ctx, typ, "", payload)
}

func (w *worker) sendUtt(ctx context.Context, typ, uttID string, payload map[string]any) {
	w.write(ctx, workerws.Message{Type: typ, UtteranceID: uttID, Payload: payload})
	time.Sleep(50 * time.Millisecond)
}

func (w *worker) write(ctx context.Context, msg workerws.Message) {
	w.mu.Lock()
	w.seq++
	msg.Seq = w.seq
	w.mu.Unlock()
	msg.TsMs = time.Now().UnixMilli()
	msg.SessionID = w.sid
	b, _ := json.Marshal(msg)
	if err := w.c.Write(ctx, ws.MessageText, b); err != nil {
		log.Fatalf("send %s: %v", msg.Type, err)
	}
}

// readLoop prints and acknowledges every command from the server.
func (w *worker) readLoop(ctx context.Context) {
	for {
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return
		}
		var cmd workerws.Message
		if err := json.Unmarshal(data, &cmd); err != nil {
			fmt.Printf("  <- invalid: %v\n", err)
			continue
		}
		ts := time.Now().Format("15:04:05.000")
		if text, ok := cmd.Payload["text"]; ok {
			fmt.Printf("  [%s] <- %s %q\n", ts, cmd.Type, text)
		} else {
			fmt.Printf("  [%s] <- %s\n", ts, cmd.Type)
		}
		if cmd.CommandID != "" {
			w.write(ctx, workerws.Message{Type: "cmd_ack", CommandID: cmd.CommandID})
		}
		w.got <- cmd
	}
}

func (w *worker) expect(ctx context.Context, types ...string) {
	for _, want := range types {
		select {
		case cmd := <-w.got:
			if cmd.Type != want {
				fmt.Printf("  !! expected %s, got %s\n", want, cmd.Type)
				w.markFailed()
			}
		case <-time.After(3 * time.Second):
			fmt.Printf("  !! timed out waiting for %s\n", want)
			w.markFailed()
		case <-ctx.Done():
			w.markFailed()
			return
		}
	}
}

func (w *worker) markFailed() {
	w.mu.Lock()
	w.fail = true
	w.mu.Unlock()
}

func (w *worker) failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fail
}

func postJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printFloor(ctx context.Context, server, sid string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/sessions/"+sid+"/floor", nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("floor status: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("\nfloor: %s", body)
}
