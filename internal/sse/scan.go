// Package sse implements a streaming parser for OpenAI-shaped
// server-sent-event chunk streams: it reconstructs accumulated text
// content, tool calls, finish reason, and usage from a sequence of
// "data: <json>\n\n" payloads.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// ScanPayloads reads SSE frames from r and calls onPayload once per
// "data:" payload, in order, as soon as each frame's trailing blank line
// is seen. It stops at EOF or when onPayload returns false.
//
// Only the "data:" line is interpreted — this system proxies the OpenAI
// chat-completions wire format, which never sends an "event:" line. A
// stray "event:" or comment line (leading ':') is ignored rather than
// rejected, so a future upstream quirk doesn't abort the parse.
func ScanPayloads(r io.Reader, onPayload func(payload string) bool) error {
	scanner := bufio.NewScanner(r)
	// Tool call arguments can be large (long shell commands, file
	// contents); give the scanner room before falling back to its default.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data strings.Builder
	haveData := false

	flush := func() bool {
		if !haveData {
			return true
		}
		payload := data.String()
		data.Reset()
		haveData = false
		return onPayload(payload)
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if !flush() {
				return nil
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if haveData {
				data.WriteByte('\n')
			}
			data.WriteString(chunk)
			haveData = true
			continue
		}

		// Ignore "event:", comment, and unrecognized lines.
	}

	if !haveData {
		return scanner.Err()
	}
	flush()
	return scanner.Err()
}
