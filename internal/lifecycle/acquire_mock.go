package lifecycle

import (
	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/mock"
	"github.com/playingpack/playingpack/internal/sse"
)

// acquireFromMock synthesizes a response from operator-supplied content.
// For a streaming caller the synthesized events are fed through a session
// parser, as on the cache and LLM paths; for a non-streaming caller (and
// for every ERROR: mock) the session's response view is populated
// directly from the parsed content.
func (e *Engine) acquireFromMock(id, content string, wantsStream bool) buffer {
	parsed := mock.Parse(content)

	// An ERROR: mock is always a non-streaming 400 JSON body, even for a
	// streaming caller.
	if wantsStream && parsed.Kind != mock.KindError {
		events := mock.GenerateStreaming(parsed, mock.Delays{})
		parser := e.sessionParser(id)
		for _, ev := range events {
			parser.Feed(ev.Data)
		}
		return buffer{
			source:    broker.SourceMock,
			status:    200,
			sseChunks: framedEvents(events),
			assembled: parser.AssembledMessage(),
			finish:    parser.FinishReason(),
		}
	}

	body, status := mock.GenerateNonStreaming(parsed)
	buf := buffer{source: broker.SourceMock, status: status, jsonBody: []byte(body)}

	switch parsed.Kind {
	case mock.KindToolCall:
		call := sse.ToolCall{Index: 0, Name: parsed.ToolName, Arguments: parsed.ToolArgsJSON}
		e.Broker.AppendToolCall(id, call)
		e.Broker.SetFinishReason(id, "tool_calls")
		buf.finish = "tool_calls"
		buf.assembled = sse.AssembledMessage{
			Role:      "assistant",
			ToolCalls: []sse.AssembledToolCall{{Type: "function", Function: sse.AssembledToolCallFn{Name: parsed.ToolName, Arguments: parsed.ToolArgsJSON}}},
		}
	case mock.KindError:
		// No assembled message for an error body; status alone conveys it.
	default:
		e.Broker.AppendContent(id, parsed.Text)
		e.Broker.SetFinishReason(id, "stop")
		buf.finish = "stop"
		text := parsed.Text
		buf.assembled = sse.AssembledMessage{Role: "assistant", Content: &text}
	}

	return buf
}
