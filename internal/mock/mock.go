// Package mock synthesizes OpenAI-shaped chat-completion responses — as
// an SSE stream or a single JSON body — from an operator-supplied content
// string typed at a decision point.
package mock

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a parsed operator content string.
type Kind int

const (
	// KindText is plain assistant text.
	KindText Kind = iota
	// KindToolCall is a single synthesized tool invocation.
	KindToolCall
	// KindError is a non-streaming 400 error body.
	KindError
)

// Parsed is the result of interpreting an operator's content string.
type Parsed struct {
	Kind         Kind
	Text         string // KindText
	ToolName     string // KindToolCall
	ToolArgsJSON string // KindToolCall, already JSON-encoded
	ErrorMessage string // KindError
}

// toolCallForm is the JSON shape recognised as a tool call request:
// {"function": "name", "arguments": {...}}.
type toolCallForm struct {
	Function  string `json:"function"`
	Arguments any    `json:"arguments"`
}

// Parse interprets an operator's raw content string per the three
// recognised conventions: an "ERROR:" prefix, a JSON object carrying a
// "function" key, or else plain text.
func Parse(content string) Parsed {
	if rest, ok := strings.CutPrefix(content, "ERROR:"); ok {
		return Parsed{Kind: KindError, ErrorMessage: strings.TrimSpace(rest)}
	}

	var form toolCallForm
	if err := json.Unmarshal([]byte(content), &form); err == nil && form.Function != "" {
		args := form.Arguments
		if args == nil {
			args = map[string]any{}
		}
		argsJSON, err := json.Marshal(args)
		if err != nil {
			argsJSON = []byte("{}")
		}
		return Parsed{Kind: KindToolCall, ToolName: form.Function, ToolArgsJSON: string(argsJSON)}
	}

	return Parsed{Kind: KindText, Text: content}
}

// Delays controls the pacing used when synthesizing a streaming
// response. Zero values fall back to the package defaults.
type Delays struct {
	Text     time.Duration
	ToolCall time.Duration
}

func (d Delays) textDelay() time.Duration {
	if d.Text > 0 {
		return d.Text
	}
	return 20 * time.Millisecond
}

func (d Delays) toolCallDelay() time.Duration {
	if d.ToolCall > 0 {
		return d.ToolCall
	}
	return 10 * time.Millisecond
}

// nowMillis is the epoch-millisecond clock mock IDs derive from. Tests
// may override it so ID generation is deterministic.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

const (
	textTokenSize     = 4
	toolArgFragmentSz = 10
)

// Event is one emitted SSE frame (the id:/event: lines are not used by
// this wire format, only "data:").
type Event struct {
	Data  string
	Delay time.Duration
}

// GenerateStreaming renders parsed into the sequence of SSE events an
// upstream streaming response would have produced, paced per delays. Each
// Event's Delay is the wait before emitting it, mirroring the cache
// store's chunk delay convention (first event has Delay 0).
func GenerateStreaming(parsed Parsed, delays Delays) []Event {
	switch parsed.Kind {
	case KindToolCall:
		return generateToolCallStream(parsed, delays)
	default:
		return generateTextStream(parsed, delays)
	}
}

func generateTextStream(parsed Parsed, delays Delays) []Event {
	id := fmt.Sprintf("chatcmpl-mock-%d", nowMillis())
	var events []Event

	events = append(events, Event{Data: encodeChunk(chatChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Role: "assistant", Content: strPtr("")}}},
	}), Delay: 0})

	for _, token := range splitIntoRunes(parsed.Text, textTokenSize) {
		events = append(events, Event{Data: encodeChunk(chatChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Content: strPtr(token)}}},
		}), Delay: delays.textDelay()})
	}

	events = append(events, Event{Data: encodeChunk(chatChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{}, FinishReason: strPtr("stop")}},
	}), Delay: delays.textDelay()})

	events = append(events, Event{Data: "[DONE]", Delay: 0})
	return events
}

func generateToolCallStream(parsed Parsed, delays Delays) []Event {
	chatID := fmt.Sprintf("chatcmpl-mock-%d", nowMillis())
	callID := fmt.Sprintf("call_mock_%d", nowMillis())
	var events []Event

	events = append(events, Event{Data: encodeChunk(chatChunk{
		ID:      chatID,
		Object:  "chat.completion.chunk",
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Role: "assistant"}}},
	}), Delay: 0})

	fragments := splitIntoRunes(parsed.ToolArgsJSON, toolArgFragmentSz)
	opening := ""
	rest := fragments
	if len(fragments) > 0 {
		opening = fragments[0]
		rest = fragments[1:]
	}

	events = append(events, Event{Data: encodeChunk(chatChunk{
		ID:     chatID,
		Object: "chat.completion.chunk",
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{ToolCalls: []chunkToolCall{{
			Index: 0,
			ID:    callID,
			Type:  "function",
			Function: &chunkToolCallFn{
				Name:      parsed.ToolName,
				Arguments: opening,
			},
		}}}}},
	}), Delay: delays.toolCallDelay()})

	for _, fragment := range rest {
		events = append(events, Event{Data: encodeChunk(chatChunk{
			ID:     chatID,
			Object: "chat.completion.chunk",
			Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{ToolCalls: []chunkToolCall{{
				Index:    0,
				Function: &chunkToolCallFn{Arguments: fragment},
			}}}}},
		}), Delay: delays.toolCallDelay()})
	}

	events = append(events, Event{Data: encodeChunk(chatChunk{
		ID:      chatID,
		Object:  "chat.completion.chunk",
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{}, FinishReason: strPtr("tool_calls")}},
	}), Delay: delays.toolCallDelay()})

	events = append(events, Event{Data: "[DONE]", Delay: 0})
	return events
}

// GenerateNonStreaming renders parsed as a single chat.completion JSON
// body and returns its HTTP status.
func GenerateNonStreaming(parsed Parsed) (body string, status int) {
	if parsed.Kind == KindError {
		return encodeError(parsed.ErrorMessage), 400
	}

	id := fmt.Sprintf("chatcmpl-mock-%d", nowMillis())
	msg := completionMessage{Role: "assistant"}

	finish := "stop"
	if parsed.Kind == KindToolCall {
		finish = "tool_calls"
		msg.ToolCalls = []chunkToolCall{{
			Index: 0,
			ID:    fmt.Sprintf("call_mock_%d", nowMillis()),
			Type:  "function",
			Function: &chunkToolCallFn{
				Name:      parsed.ToolName,
				Arguments: parsed.ToolArgsJSON,
			},
		}}
	} else {
		text := parsed.Text
		msg.Content = &text
	}

	resp := chatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Choices: []completionChoice{{Index: 0, Message: msg, FinishReason: finish}},
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return encodeError(err.Error()), 500
	}
	return string(encoded), 200
}

func encodeError(message string) string {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"param":   nil,
			"code":    nil,
		},
	})
	return string(body)
}

func encodeChunk(c chatChunk) string {
	encoded, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// splitIntoRunes splits s into chunks of at most size runes, preserving
// UTF-8 boundaries rather than slicing raw bytes.
func splitIntoRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func strPtr(s string) *string { return &s }
