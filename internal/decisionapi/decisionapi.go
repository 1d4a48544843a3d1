// Package decisionapi implements the decision API: a typed
// request/response HTTP surface mirroring the notification hub's inbound
// messages, for operator tooling that prefers call/response to a
// persistent WebSocket channel. One mux, one handler per route, GET for
// reads and POST for actions, JSON in and out throughout.
package decisionapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/cachestore"
	"github.com/playingpack/playingpack/internal/settings"
)

// API serves the /api/ decision endpoints.
type API struct {
	broker   *broker.Broker
	settings *settings.Store
	index    *cachestore.Index // nil when the cache index isn't wired
}

// New returns an API reporting on and acting against b and s. index may
// be nil, in which case GET /api/cache responds with an empty list.
func New(b *broker.Broker, s *settings.Store, index *cachestore.Index) *API {
	return &API{broker: b, settings: s, index: index}
}

// Handler returns the http.Handler for every decision API route.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/sessions", a.handleSessions)
	mux.HandleFunc("/api/sessions/", a.handleSession)
	mux.HandleFunc("/api/settings", a.handleSettings)
	mux.HandleFunc("/api/cache", a.handleCache)
	mux.HandleFunc("/api/point1", a.handlePoint1)
	mux.HandleFunc("/api/point2", a.handlePoint2)
	return mux
}

// handleHealth answers the `health` action.
// GET /api/health
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions answers `getSessions`.
// GET /api/sessions
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.broker.List())
}

// handleSession answers `getSession(id)`.
// GET /api/sessions/{id}
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/api/sessions/"):]
	if id == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	sess, ok := a.broker.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSettings answers `getSettings` and `updateSettings(settings)`.
// GET /api/settings
// POST /api/settings  { ...settings.Settings }
func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.settings.Snapshot())

	case http.MethodPost:
		var next settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := a.settings.Update(next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

// handleCache lists known cache entries.
// GET /api/cache?limit=50
func (a *API) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	if a.index == nil {
		writeJSON(w, http.StatusOK, []cachestore.EntryMeta{})
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := a.index.List(limit)
	if err != nil {
		slog.Error("cache index query failed", "error", err)
		http.Error(w, "cache index query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type point1Request struct {
	RequestID string              `json:"requestId"`
	Action    broker.Point1Action `json:"action"`
}

// handlePoint1 answers `point1Action(id, action)`.
// POST /api/point1  {"requestId": "...", "action": {"kind": "llm"}}
func (a *API) handlePoint1(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req point1Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !req.Action.Valid() {
		http.Error(w, "unrecognised action kind", http.StatusBadRequest)
		return
	}
	success := a.broker.ResolvePoint1(req.RequestID, req.Action)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

type point2Request struct {
	RequestID string              `json:"requestId"`
	Action    broker.Point2Action `json:"action"`
}

// handlePoint2 answers `point2Action(id, action)`.
// POST /api/point2  {"requestId": "...", "action": {"kind": "return"}}
func (a *API) handlePoint2(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req point2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !req.Action.Valid() {
		http.Error(w, "unrecognised action kind", http.StatusBadRequest)
		return
	}
	success := a.broker.ResolvePoint2(req.RequestID, req.Action)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
