// Package lifecycle implements the central state machine for chat
// completion requests: it creates a session per request, looks up the
// cache, suspends at up to two operator decision points, and acquires a
// fully-buffered response from the cache, the upstream LLM, or the mock
// generator before emitting it to the caller.
package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/cachestore"
	"github.com/playingpack/playingpack/internal/fingerprint"
	"github.com/playingpack/playingpack/internal/settings"
)

// Engine orchestrates the per-request lifecycle. It holds no per-request
// state itself — every mutable fact about a request lives in the session
// the broker owns.
type Engine struct {
	Settings *settings.Store
	Broker   *broker.Broker
	Cache    *cachestore.Store
	Index    *cachestore.Index // optional; may be nil
	HTTP     *http.Client
}

// NewEngine wires an Engine from its collaborators. httpClient carries
// whatever transport tuning the caller wants for upstream calls (see
// cmd/playingpack for the connection-pooling defaults this system uses);
// http.DefaultClient is used if nil.
func NewEngine(store *settings.Store, b *broker.Broker, cache *cachestore.Store, idx *cachestore.Index, httpClient *http.Client) *Engine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Engine{Settings: store, Broker: b, Cache: cache, Index: idx, HTTP: httpClient}
}

// HandleChatCompletions is the entry point for POST /v1/chat/completions.
func (e *Engine) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "proxy_error")
		return
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body", "proxy_error")
		return
	}

	snap := e.Settings.Snapshot()
	id := uuid.NewString()
	reqView, wantsStream := parseRequestSnapshot(body)

	fp, err := fingerprint.Hash(body)
	if err != nil {
		slog.Error("fingerprint computation failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}

	cacheAvailable := snap.Cache.Mode != settings.CacheOff && e.Cache.Exists(fp)
	e.Broker.Create(id, reqView, fp, cacheAvailable, snap.Intervene)
	slog.Info("session created", "id", id, "fingerprint", fp, "cache_available", cacheAvailable, "model", reqView.Model)

	if snap.Cache.Mode == settings.CacheRead && !cacheAvailable {
		slog.Warn("cache miss in read-only mode", "id", id, "fingerprint", fp)
		e.Broker.Error(id, "cache_not_found")
		writeJSONError(w, http.StatusNotFound, "No cached response found (cache mode: read)", "cache_not_found")
		return
	}

	kind := broker.Point1LLM
	if cacheAvailable {
		kind = broker.Point1Cache
	}
	mockContent := ""

	if snap.Intervene {
		action, ok := e.awaitPoint1(r.Context(), id)
		if !ok {
			return
		}
		kind = action.Kind
		mockContent = action.Content
	}

	buf, err := e.acquire(r, id, fp, body, wantsStream, snap, kind, mockContent, cacheAvailable)
	if err != nil {
		slog.Error("response acquisition failed", "id", id, "error", err)
		e.Broker.Error(id, err.Error())
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}

	e.Broker.SetResponseSource(id, buf.source)
	e.Broker.SetResponseStatus(id, buf.status)

	if snap.Intervene {
		e.Broker.SetReviewing(id)
		action2, ok := e.awaitPoint2(r.Context(), id)
		if !ok {
			return
		}
		if action2.Kind == broker.Point2Modify {
			buf = e.acquireFromMock(id, action2.Content, wantsStream)
			e.Broker.SetResponseSource(id, buf.source)
			e.Broker.SetResponseStatus(id, buf.status)
		}
	}

	e.emit(w, buf, wantsStream)
	e.Broker.Complete(id, buf.status)
}

// acquire dispatches to the cache, LLM, or mock acquisition path per kind.
// A point-1 choice of "cache" with no actual entry falls back to the LLM
// rather than erroring — the operator UI should never offer that choice
// when cacheAvailable is false, but the engine stays defensive.
func (e *Engine) acquire(r *http.Request, id, fp string, body []byte, wantsStream bool, snap settings.Settings, kind broker.Point1Kind, mockContent string, cacheAvailable bool) (buffer, error) {
	writeCache := snap.Cache.Mode == settings.CacheReadWrite

	switch kind {
	case broker.Point1Cache:
		if !cacheAvailable {
			slog.Warn("point1 selected cache with no entry; falling back to llm", "id", id)
			return e.acquireFromLLM(r, id, fp, body, wantsStream, snap.Upstream, writeCache)
		}
		return e.acquireFromCache(r.Context(), id, fp, wantsStream)
	case broker.Point1Mock:
		return e.acquireFromMock(id, mockContent, wantsStream), nil
	default:
		return e.acquireFromLLM(r, id, fp, body, wantsStream, snap.Upstream, writeCache)
	}
}

// awaitPoint1 blocks until the operator resolves point 1 or the client's
// context is done (disconnect). A disconnect leaves the session retained
// but un-advanced; the operator may still resolve it later, but the
// response write is suppressed.
func (e *Engine) awaitPoint1(ctx context.Context, id string) (broker.Point1Action, bool) {
	ch := make(chan broker.Point1Action, 1)
	go func() { ch <- e.Broker.AwaitPoint1(id) }()
	select {
	case action := <-ch:
		return action, true
	case <-ctx.Done():
		return broker.Point1Action{}, false
	}
}

// awaitPoint2 is awaitPoint1's counterpart for the second suspension point.
func (e *Engine) awaitPoint2(ctx context.Context, id string) (broker.Point2Action, bool) {
	ch := make(chan broker.Point2Action, 1)
	go func() { ch <- e.Broker.AwaitPoint2(id) }()
	select {
	case action := <-ch:
		return action, true
	case <-ctx.Done():
		return broker.Point2Action{}, false
	}
}
