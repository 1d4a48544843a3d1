package lifecycle

import (
	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/sse"
)

// buffer is a fully-acquired response, produced by exactly one of the
// cache/LLM/mock paths before any byte reaches the caller, so a point-2
// modify can still discard it. Exactly one of sseChunks or jsonBody is
// set, matching whichever framing the caller's stream flag calls for.
type buffer struct {
	source broker.Source
	status int

	// sseChunks holds each event already framed as "data: <payload>",
	// in emission order, ending with "data: [DONE]" when present. Set
	// only when the buffer is being emitted as an SSE stream.
	sseChunks []string

	// jsonBody holds a single complete JSON document. Set only when the
	// buffer is being emitted as application/json.
	jsonBody []byte

	// assembled/finish/usage mirror what the session's ResponseView
	// carries, for the broker to record regardless of emission mode.
	assembled sse.AssembledMessage
	finish    string
	usage     *sse.Usage
}
