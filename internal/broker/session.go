// Package broker owns the per-request session objects, fans out session
// update events to subscribers, and exposes the two awaitable decision
// points the lifecycle engine suspends on.
package broker

import (
	"time"

	"github.com/playingpack/playingpack/internal/sse"
)

// State is a session's position in its lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateReviewing  State = "reviewing"
	StateComplete   State = "complete"
)

// ToolCall and Usage alias the SSE parser's types so broker callers don't
// need to import internal/sse directly.
type ToolCall = sse.ToolCall
type Usage = sse.Usage

// Source identifies where a session's emitted response bytes originated.
type Source string

const (
	SourceLLM   Source = "llm"
	SourceCache Source = "cache"
	SourceMock  Source = "mock"
)

// RequestSnapshot is the read-only view of the inbound request a session
// carries for operator inspection.
type RequestSnapshot struct {
	Model       string   `json:"model"`
	Messages    any      `json:"messages"`
	Stream      bool     `json:"stream"`
	Tools       any      `json:"tools,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	RawBody     []byte   `json:"-"`
}

// ResponseView is the session's assembled response, built incrementally
// by the SSE parser as the engine acquires the body.
type ResponseView struct {
	Status       int            `json:"status"`
	Content      string         `json:"content"`
	ToolCalls    []sse.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        *sse.Usage     `json:"usage,omitempty"`
}

// Session is the per-request record maintained from creation through
// completion. The broker is the only writer; callers only ever observe a
// Session through a copy returned from the broker.
type Session struct {
	ID             string          `json:"id"`
	State          State           `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessingAt   *time.Time      `json:"processing_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Request        RequestSnapshot `json:"request"`
	Fingerprint    string          `json:"fingerprint"`
	CacheAvailable bool            `json:"cache_available"`
	ResponseSource Source          `json:"response_source,omitempty"`
	Response       *ResponseView   `json:"response,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// clone returns a deep-enough copy of s for safe handoff outside the
// broker's lock: fields mutated in place (ToolCalls slice) are copied.
func (s Session) clone() Session {
	if s.Response != nil {
		resp := *s.Response
		resp.ToolCalls = append([]sse.ToolCall(nil), s.Response.ToolCalls...)
		s.Response = &resp
	}
	return s
}
