package lifecycle

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/cachestore"
	"github.com/playingpack/playingpack/internal/settings"
)

func newTestEngine(t *testing.T, s settings.Settings) (*Engine, *broker.Broker) {
	t.Helper()
	store := settings.NewStore(&s)
	b := broker.New()
	t.Cleanup(b.Close)
	cache := cachestore.New(t.TempDir())
	return NewEngine(store, b, cache, nil, http.DefaultClient), b
}

func streamingUpstream(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
	}))
}

func TestChatCompletions_ColdCacheThenReplay(t *testing.T) {
	upstream := streamingUpstream(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	})
	defer upstream.Close()

	e, _ := newTestEngine(t, settings.Settings{
		Cache:     settings.CacheConfig{Mode: settings.CacheReadWrite, Dir: ""},
		Intervene: false,
		Upstream:  upstream.URL,
	})

	body := []byte(`{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	e.HandleChatCompletions(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Playingpack-Cached") == "true" {
		t.Errorf("first request should not be a cache hit")
	}
	if !strings.Contains(rec.Body.String(), "Hi") {
		t.Errorf("expected streamed content in body, got %q", rec.Body.String())
	}

	// Second identical request should hit cache without calling upstream again.
	hitUpstream := false
	upstream.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitUpstream = true
		w.WriteHeader(200)
	})

	req2 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	rec2 := httptest.NewRecorder()
	e.HandleChatCompletions(rec2, req2)

	if rec2.Header().Get("X-Playingpack-Cached") != "true" {
		t.Errorf("second request should be served from cache, headers=%v", rec2.Header())
	}
	if hitUpstream {
		t.Error("second identical request should not call upstream")
	}
}

func TestChatCompletions_CacheOnlyMissReturns404(t *testing.T) {
	e, b := newTestEngine(t, settings.Settings{
		Cache:     settings.CacheConfig{Mode: settings.CacheRead, Dir: ""},
		Intervene: false,
		Upstream:  "http://unused.invalid",
	})

	body := []byte(`{"model":"gpt-4","stream":true,"messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	e.HandleChatCompletions(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cache_not_found") {
		t.Errorf("body = %s, want cache_not_found", rec.Body.String())
	}

	sessions := b.List()
	if len(sessions) != 1 || sessions[0].Error == "" {
		t.Fatalf("expected one errored session, got %+v", sessions)
	}
}

func TestChatCompletions_MockAtPoint1(t *testing.T) {
	e, b := newTestEngine(t, settings.Settings{
		Cache:     settings.CacheConfig{Mode: settings.CacheReadWrite, Dir: ""},
		Intervene: true,
		Upstream:  "http://unused.invalid",
	})

	body := []byte(`{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.HandleChatCompletions(rec, req)
	}()

	id := waitForSession(t, b)
	resolvePoint1(t, b, id, broker.Point1Action{Kind: broker.Point1Mock, Content: "hello"})
	waitForState(t, b, id, broker.StateReviewing)
	resolvePoint2(t, b, id, broker.Point2Action{Kind: broker.Point2Return})

	wg.Wait()

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "[DONE]") {
		t.Error("expected [DONE] sentinel in streamed mock body")
	}

	sess, ok := b.Get(id)
	if !ok || sess.ResponseSource != broker.SourceMock {
		t.Errorf("ResponseSource = %+v, want mock", sess)
	}
	if sess.Response == nil || sess.Response.Content != "hello" {
		t.Errorf("session content = %+v, want 'hello'", sess.Response)
	}
}

func TestChatCompletions_ErrorMockIsNonStreaming(t *testing.T) {
	e, b := newTestEngine(t, settings.Settings{
		Cache:     settings.CacheConfig{Mode: settings.CacheOff, Dir: ""},
		Intervene: true,
		Upstream:  "http://unused.invalid",
	})

	body := []byte(`{"model":"gpt-4","stream":true,"messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.HandleChatCompletions(rec, req)
	}()

	id := waitForSession(t, b)
	resolvePoint1(t, b, id, broker.Point1Action{Kind: broker.Point1Mock, Content: "ERROR: quota exceeded"})
	waitForState(t, b, id, broker.StateReviewing)
	resolvePoint2(t, b, id, broker.Point2Action{Kind: broker.Point2Return})

	wg.Wait()

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400; body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json even for a streaming caller", ct)
	}
	if !strings.Contains(rec.Body.String(), "quota exceeded") {
		t.Errorf("body = %s, want the operator's error message", rec.Body.String())
	}
	if rec.Header().Get("X-Playingpack-Mocked") != "true" {
		t.Errorf("expected mocked header, got %v", rec.Header())
	}
}

func TestChatCompletions_ModifyAtPoint2(t *testing.T) {
	upstream := streamingUpstream(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"original"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	})
	defer upstream.Close()

	e, b := newTestEngine(t, settings.Settings{
		Cache:     settings.CacheConfig{Mode: settings.CacheOff, Dir: ""},
		Intervene: true,
		Upstream:  upstream.URL,
	})

	body := []byte(`{"model":"gpt-4","stream":true,"messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.HandleChatCompletions(rec, req)
	}()

	id := waitForSession(t, b)
	resolvePoint1(t, b, id, broker.Point1Action{Kind: broker.Point1LLM})
	waitForState(t, b, id, broker.StateReviewing)
	resolvePoint2(t, b, id, broker.Point2Action{Kind: broker.Point2Modify, Content: "replaced"})

	wg.Wait()

	if rec.Header().Get("X-Playingpack-Mocked") != "true" {
		t.Errorf("expected mocked header after modify, got headers=%v", rec.Header())
	}
	if strings.Contains(rec.Body.String(), "original") {
		t.Error("modified response should not contain the original upstream content")
	}

	sess, ok := b.Get(id)
	if !ok || sess.Response == nil || sess.Response.Content != "replaced" {
		t.Errorf("session content = %+v, want 'replaced'", sess.Response)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestEngine(t, settings.Settings{Cache: settings.CacheConfig{Mode: settings.CacheOff}, Upstream: "http://unused.invalid"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

// resolvePoint1 retries until the engine has actually registered its
// point-1 awaiter, since session creation precedes registration.
func resolvePoint1(t *testing.T, b *broker.Broker, id string, action broker.Point1Action) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.ResolvePoint1(id, action) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("point1 for session %s never became pending", id)
}

func resolvePoint2(t *testing.T, b *broker.Broker, id string, action broker.Point2Action) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.ResolvePoint2(id, action) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("point2 for session %s never became pending", id)
}

func waitForSession(t *testing.T, b *broker.Broker) string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sessions := b.List()
		if len(sessions) > 0 {
			return sessions[0].ID
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for session creation")
	return ""
}

func waitForState(t *testing.T, b *broker.Broker, id string, want broker.State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sess, ok := b.Get(id); ok && sess.State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for session %s to reach state %s", id, want)
}
