package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/playingpack/playingpack/internal/mock"
	"github.com/playingpack/playingpack/internal/sse"
)

// A cache entry is recorded once but may later be replayed to a caller
// whose stream flag differs from the one recorded (the fingerprint
// deliberately ignores "stream", so the same entry answers both). Rather
// than keying cache files by stream mode — which would break the
// one-file-per-fingerprint contract — this engine strips or synthesizes
// SSE framing on the way out, converting through the same
// assembled-message shape the SSE parser and mock generator already
// share.

// chatCompletionBody is the minimal shape of a non-streaming
// "chat.completion" object this engine needs to read back out of a cache
// entry recorded without SSE framing.
type chatCompletionBody struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *sse.Usage `json:"usage"`
}

// mockParsedFromNonStreamBody reads a cached non-streaming JSON body back
// into the form the mock generator expects, so it can be resynthesized as
// an SSE stream for a caller that now wants one.
func mockParsedFromNonStreamBody(raw []byte) mock.Parsed {
	var body chatCompletionBody
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Choices) == 0 {
		return mock.Parsed{Kind: mock.KindText}
	}
	msg := body.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		return mock.Parsed{Kind: mock.KindToolCall, ToolName: tc.Function.Name, ToolArgsJSON: tc.Function.Arguments}
	}
	text := ""
	if msg.Content != nil {
		text = *msg.Content
	}
	return mock.Parsed{Kind: mock.KindText, Text: text}
}

// nonStreamBody renders an assembled message (built by the SSE parser
// while replaying or forwarding a streaming response) as the single
// "chat.completion" JSON object a non-streaming caller expects.
func nonStreamBody(msg sse.AssembledMessage, finish string, usage *sse.Usage) []byte {
	choice := map[string]any{
		"index":         0,
		"message":       msg,
		"finish_reason": finish,
	}
	out := map[string]any{
		"id":      fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		"object":  "chat.completion",
		"choices": []any{choice},
	}
	if usage != nil {
		out["usage"] = usage
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return []byte(`{"error":{"message":"encoding assembled response","type":"proxy_error"}}`)
	}
	return encoded
}

// framedEvents renders mock-generated events as the "data: <payload>"
// strings this engine stores and emits uniformly across cache, mock, and
// LLM paths (see buffer.sseChunks).
func framedEvents(events []mock.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, "data: "+ev.Data)
	}
	return out
}
