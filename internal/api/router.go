package api

import (
	"net/http"
	"strings"
)

func NewRouter(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/classify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleClassify(w, r)
	})

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.HandleCreateSession(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		// /sessions/{id}/end | /events | /floor | /worker-token | /debug/{action}
		path := strings.TrimSuffix(r.URL.Path, "/")
		rest := strings.TrimPrefix(path, "/sessions/")
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		method := http.MethodPost
		if tail == "events" || tail == "floor" {
			method = http.MethodGet
		}
		if tail != "" && r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		switch tail {
		case "end":
			h.HandleEndSession(w, r, id)
		case "events":
			h.HandleListEvents(w, r, id)
		case "floor":
			h.HandleFloor(w, r, id)
		case "worker-token":
			h.HandleMintWorkerToken(w, r, id)
		case "debug":
			if len(parts) < 3 {
				http.NotFound(w, r)
				return
			}
			h.HandleDebug(w, r, id, parts[2])
		default:
			http.NotFound(w, r)
		}
	})

	return mux
}
