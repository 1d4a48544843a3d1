// Package upstream wraps the forward HTTP call to the real chat-completions
// provider: it filters request headers to an allow-list, negotiates Accept
// based on the caller's requested stream mode, and injects usage reporting
// into streaming requests.
package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// allowedHeaders are the only request headers forwarded to upstream,
// keyed by their canonical MIME form. Everything else (cookies,
// hop-by-hop headers, client-specific tracing headers) is dropped.
var allowedHeaders = func() map[string]bool {
	m := make(map[string]bool)
	for _, h := range []string{
		"Authorization",
		"Content-Type",
		"Accept",
		"OpenAI-Organization",
		"OpenAI-Project",
		"User-Agent",
	} {
		m[http.CanonicalHeaderKey(h)] = true
	}
	return m
}()

// Response is the result of a forwarded call: the upstream status, its
// response headers, and the still-open body stream. The caller owns
// Body and must close it.
type Response struct {
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// Client forwards chat-completion requests to a single upstream base URL.
type Client struct {
	HTTP *http.Client
	Base string
}

// New returns a Client forwarding to base using http.DefaultClient.
func New(base string) *Client {
	return &Client{HTTP: http.DefaultClient, Base: base}
}

// Forward sends body (a chat-completions request) to upstream at path,
// copying allow-listed headers from inbound and forcing Accept per
// wantsStream. When wantsStream is true, stream_options.include_usage=true
// is merged into the body before sending, keeping any other
// stream_options fields the caller set. Returns the upstream response with its body left open for the
// caller to stream or buffer; on network failure the error propagates
// with no retry.
func (c *Client) Forward(method, path string, inbound http.Header, body []byte, wantsStream bool) (*Response, error) {
	outBody := body
	if wantsStream {
		merged, err := mergeIncludeUsage(body)
		if err == nil {
			outBody = merged
		}
	}

	url := strings.TrimRight(c.Base, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(outBody))
	if err != nil {
		return nil, fmt.Errorf("upstream: building request: %w", err)
	}

	copyAllowedHeaders(req.Header, inbound)
	if wantsStream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	req.ContentLength = int64(len(outBody))

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: forwarding to %s: %w", url, err)
	}

	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: resp.Body}, nil
}

func copyAllowedHeaders(dst, src http.Header) {
	for key, values := range src {
		if !allowedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// mergeIncludeUsage parses body as a JSON object and merges
// stream_options.include_usage = true, preserving any caller-supplied
// stream_options fields. Returns an error (and the caller falls back to
// the original body) if body isn't a JSON object.
func mergeIncludeUsage(body []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("upstream: parsing request body: %w", err)
	}

	streamOptions := map[string]any{}
	if raw, ok := obj["stream_options"]; ok {
		if err := json.Unmarshal(raw, &streamOptions); err != nil {
			streamOptions = map[string]any{}
		}
	}
	streamOptions["include_usage"] = true

	encoded, err := json.Marshal(streamOptions)
	if err != nil {
		return nil, fmt.Errorf("upstream: encoding stream_options: %w", err)
	}
	obj["stream_options"] = encoded

	return json.Marshal(obj)
}
