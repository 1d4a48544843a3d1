package lifecycle

import (
	"encoding/json"

	"github.com/playingpack/playingpack/internal/broker"
)

// rawRequest is the subset of an OpenAI chat-completions request body this
// engine interprets directly: model and messages are informational and
// displayable, stream defaults to true per upstream convention when
// absent.
type rawRequest struct {
	Model       string   `json:"model"`
	Messages    any      `json:"messages"`
	Stream      *bool    `json:"stream"`
	Tools       any      `json:"tools"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

// parseRequestSnapshot builds the session's read-only request view and
// reports the effective stream flag. Parse failures leave the snapshot
// mostly empty rather than aborting the request — fingerprinting is what
// enforces body validity; the snapshot is just for operator display.
func parseRequestSnapshot(body []byte) (broker.RequestSnapshot, bool) {
	var raw rawRequest
	_ = json.Unmarshal(body, &raw)

	wantsStream := true
	if raw.Stream != nil {
		wantsStream = *raw.Stream
	}

	return broker.RequestSnapshot{
		Model:       raw.Model,
		Messages:    raw.Messages,
		Stream:      wantsStream,
		Tools:       raw.Tools,
		Temperature: raw.Temperature,
		MaxTokens:   raw.MaxTokens,
		RawBody:     body,
	}, wantsStream
}
