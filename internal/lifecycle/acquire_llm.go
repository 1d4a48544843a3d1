package lifecycle

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/cachestore"
	"github.com/playingpack/playingpack/internal/sse"
	"github.com/playingpack/playingpack/internal/upstream"
)

// acquireFromLLM forwards body to upstream, streams it through a session
// parser and (when cache mode is read-write) a cache writer, and returns
// it fully buffered. A non-OK upstream status is still buffered and
// forwarded rather than treated as an engine error.
func (e *Engine) acquireFromLLM(r *http.Request, id, fp string, body []byte, wantsStream bool, upstreamBase string, writeCache bool) (buffer, error) {
	client := upstream.Client{HTTP: e.HTTP, Base: upstreamBase}
	resp, err := client.Forward(http.MethodPost, "/v1/chat/completions", r.Header, body, wantsStream)
	if err != nil {
		return buffer{}, fmt.Errorf("lifecycle: forwarding to upstream: %w", err)
	}
	defer resp.Body.Close()

	parser := e.sessionParser(id)
	isSSE := strings.Contains(resp.Headers.Get("Content-Type"), "text/event-stream")

	var writer *cachestore.Writer
	if writeCache {
		writer = e.Cache.Writer(fp, cachestore.RequestSummary{
			Model:    requestModel(body),
			Messages: requestMessages(body),
		})
	}

	buf := buffer{source: broker.SourceLLM, status: resp.Status}

	if isSSE {
		var chunks []string
		scanErr := sse.ScanPayloads(resp.Body, func(payload string) bool {
			parser.Feed(payload)
			framed := "data: " + payload
			chunks = append(chunks, framed)
			if writer != nil {
				writer.Append(framed)
			}
			return true
		})
		if scanErr != nil {
			return buffer{}, fmt.Errorf("lifecycle: reading upstream stream: %w", scanErr)
		}
		buf.assembled = parser.AssembledMessage()
		buf.finish = parser.FinishReason()
		buf.usage = parser.Usage()
		if wantsStream {
			buf.sseChunks = chunks
		} else {
			buf.jsonBody = nonStreamBody(buf.assembled, buf.finish, buf.usage)
		}
	} else {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return buffer{}, fmt.Errorf("lifecycle: reading upstream body: %w", readErr)
		}
		if writer != nil {
			writer.Append(string(raw))
		}
		buf.jsonBody = raw
	}

	if writer != nil {
		if saveErr := writer.Save(resp.Status); saveErr != nil {
			slog.Error("cache write failed", "fingerprint", fp, "error", saveErr)
		} else if e.Index != nil {
			if rec, ok := e.Cache.Load(fp); ok {
				e.Index.Record(rec)
			}
		}
	}

	return buf, nil
}

func requestModel(body []byte) string {
	snap, _ := parseRequestSnapshot(body)
	return snap.Model
}

func requestMessages(body []byte) any {
	snap, _ := parseRequestSnapshot(body)
	return snap.Messages
}
