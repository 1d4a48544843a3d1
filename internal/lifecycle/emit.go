package lifecycle

import (
	"fmt"
	"net/http"

	"github.com/playingpack/playingpack/internal/broker"
)

// emit writes buf to w: streamed as SSE when the caller requested
// streaming and the buffer actually holds SSE-framed events, JSON
// otherwise.
func (e *Engine) emit(w http.ResponseWriter, buf buffer, wantsStream bool) {
	if wantsStream && len(buf.sseChunks) > 0 {
		emitSSE(w, buf)
		return
	}
	emitJSON(w, buf)
}

func emitSSE(w http.ResponseWriter, buf buffer) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	setOriginHeaders(h, buf.source)
	w.WriteHeader(buf.status)

	flusher, _ := w.(http.Flusher)
	for _, chunk := range buf.sseChunks {
		fmt.Fprintf(w, "%s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func emitJSON(w http.ResponseWriter, buf buffer) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	setOriginHeaders(h, buf.source)
	w.WriteHeader(buf.status)
	w.Write(buf.jsonBody)
}

// setOriginHeaders adds the header(s) telling the caller where the bytes
// came from. A point-2 modify action routes through acquireFromMock, so
// it shares the mocked header with a genuine mock response — both are
// operator-authored content as far as the caller is concerned.
func setOriginHeaders(h http.Header, source broker.Source) {
	switch source {
	case broker.SourceCache:
		h.Set("X-Playingpack-Cached", "true")
	case broker.SourceMock:
		h.Set("X-Playingpack-Mocked", "true")
	}
}
