package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/cachestore"
	"github.com/playingpack/playingpack/internal/mock"
	"github.com/playingpack/playingpack/internal/sse"
)

// errCacheMiss signals that fingerprint has no cache entry; the caller
// decides whether that is a hard failure (cache-only mode) or a fallback
// to another source.
var errCacheMiss = fmt.Errorf("lifecycle: no cache entry for fingerprint")

// acquireFromCache replays the cached entry for fp through a local SSE
// parser (to populate the session's assembled view) while buffering the
// full response. The engine's own Replay call always uses fast mode:
// pacing happens, if at all, only on the way to the caller, after point 2
// has already been decided.
func (e *Engine) acquireFromCache(ctx context.Context, id, fp string, wantsStream bool) (buffer, error) {
	rec, ok := e.Cache.Load(fp)
	if !ok {
		return buffer{}, errCacheMiss
	}

	recordedStreaming := len(rec.Response.Chunks) == 0 || strings.HasPrefix(rec.Response.Chunks[0].Data, "data: ")

	parser := e.sessionParser(id)

	var sseChunks []string
	var jsonBody []byte
	err := cachestore.Replay(ctx, rec, true, func(data string) error {
		if recordedStreaming {
			sseChunks = append(sseChunks, data)
			parser.Feed(strings.TrimPrefix(data, "data: "))
		} else {
			jsonBody = []byte(data)
		}
		return nil
	})
	if err != nil {
		return buffer{}, err
	}

	buf := buffer{
		source:    broker.SourceCache,
		status:    rec.Response.Status,
		assembled: parser.AssembledMessage(),
		finish:    parser.FinishReason(),
		usage:     parser.Usage(),
	}

	switch {
	case recordedStreaming && wantsStream:
		buf.sseChunks = sseChunks
	case recordedStreaming && !wantsStream:
		// A streaming recording answering a non-streaming caller is
		// rebuilt from what the parser just assembled, stripping the
		// SSE framing on the way out.
		buf.jsonBody = nonStreamBody(buf.assembled, buf.finish, buf.usage)
	case !recordedStreaming && wantsStream:
		// The reverse direction: synthesize a stream from the recorded
		// single JSON body via the mock generator, and feed the same
		// events back through the parser so the session view matches
		// what's emitted.
		parsed := mockParsedFromNonStreamBody(jsonBody)
		events := mock.GenerateStreaming(parsed, mock.Delays{})
		for _, ev := range events {
			parser.Feed(ev.Data)
		}
		buf.sseChunks = framedEvents(events)
		buf.assembled = parser.AssembledMessage()
		buf.finish = parser.FinishReason()
		buf.usage = parser.Usage()
	default:
		buf.jsonBody = jsonBody
	}

	return buf, nil
}

// sessionParser builds an sse.Parser wired to publish into the session's
// broker-owned response view as it runs. Tool-call deltas are republished
// in full (by index) on every update, since the broker only stores the
// latest snapshot per call rather than individual fragments.
func (e *Engine) sessionParser(id string) *sse.Parser {
	var parser *sse.Parser
	publishToolCall := func(index int) {
		for _, tc := range parser.ToolCalls() {
			if tc.Index == index {
				e.Broker.AppendToolCall(id, tc)
				return
			}
		}
	}
	parser = sse.NewParser(sse.Callbacks{
		OnContent: func(text string) { e.Broker.AppendContent(id, text) },
		OnToolCall: func(call sse.ToolCall) {
			publishToolCall(call.Index)
		},
		OnToolCallUpdate: func(index int, fragment string) {
			publishToolCall(index)
		},
		OnFinishReason: func(reason string) {
			e.Broker.SetFinishReason(id, reason)
		},
		OnUsage: func(usage sse.Usage) {
			e.Broker.SetUsage(id, usage)
		},
		OnError: func(err error) {
			slog.Warn("malformed SSE payload", "id", id, "error", err)
		},
	})
	return parser
}
