package lifecycle

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/playingpack/playingpack/internal/upstream"
)

// Router builds the HTTP handler for everything this engine owns:
// POST /v1/chat/completions, passthrough for every other /v1/* path, and
// GET /health. Everything else (the decision API, the notification hub)
// is mounted by the caller alongside this handler.
func (e *Engine) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", e.HandleChatCompletions)
	mux.HandleFunc("/v1/", e.handlePassthrough)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handlePassthrough forwards any other /v1/* request verbatim to
// upstream, stripping content-encoding and transfer-encoding from the
// response headers. Unlike the chat-completions path, this never touches
// the broker or the cache — it's a transparent reverse proxy.
func (e *Engine) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body", "proxy_error")
		return
	}

	snap := e.Settings.Snapshot()
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	client := upstream.Client{HTTP: e.HTTP, Base: snap.Upstream}
	resp, err := client.Forward(r.Method, path, r.Header, body, false)
	if err != nil {
		slog.Error("passthrough forward failed", "path", path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for key, values := range resp.Headers {
		if strings.EqualFold(key, "Content-Encoding") || strings.EqualFold(key, "Transfer-Encoding") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	io.Copy(w, resp.Body)
}
