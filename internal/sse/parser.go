package sse

import "encoding/json"

// ToolCall is a tool invocation reconstructed from streaming deltas. The
// accumulated Arguments string is never parsed as JSON by this package —
// callers that need structured arguments parse it themselves.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage mirrors the OpenAI chat-completions usage object.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AssembledToolCall is a tool call in the non-streaming response shape.
type AssembledToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function AssembledToolCallFn `json:"function"`
}

// AssembledToolCallFn holds a tool call's name and accumulated arguments.
type AssembledToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// AssembledMessage is the non-streaming OpenAI message shape reconstructed
// from streaming deltas. Content is nil whenever any tool calls were seen.
type AssembledMessage struct {
	Role      string              `json:"role"`
	Content   *string             `json:"content"`
	ToolCalls []AssembledToolCall `json:"tool_calls,omitempty"`
}

// Callbacks are invoked as the parser observes each kind of delta.
// Every field is optional; a nil callback is simply not invoked.
type Callbacks struct {
	OnContent        func(text string)
	OnToolCall       func(call ToolCall)
	OnToolCallUpdate func(index int, fragment string)
	OnFinishReason   func(reason string)
	OnUsage          func(usage Usage)
	OnDone           func()
	OnError          func(err error)
}

// toolCallAccum tracks one tool call's reconstruction across deltas.
type toolCallAccum struct {
	id        string
	name      string
	arguments string
	opened    bool // whether OnToolCall has already fired for this index
}

// Parser accumulates OpenAI chat-completion streaming deltas into their
// final content, tool calls, finish reason, and usage.
//
// A zero Parser is not usable; construct with NewParser.
type Parser struct {
	cb           Callbacks
	content      []byte
	toolCalls    map[int]*toolCallAccum
	order        []int
	finishReason string
	finishSeen   bool
	usage        *Usage
}

// NewParser creates a Parser that invokes cb as deltas are fed to it.
func NewParser(cb Callbacks) *Parser {
	return &Parser{
		cb:        cb,
		toolCalls: make(map[int]*toolCallAccum),
	}
}

// deltaChunk mirrors the subset of an OpenAI streaming chunk this parser
// interprets.
type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content   *string         `json:"content"`
			ToolCalls []deltaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Feed parses a single SSE payload (the bytes after "data:", with any
// surrounding whitespace trimmed). Malformed JSON invokes OnError and is
// otherwise ignored — it never aborts the parse. The sentinel payload
// "[DONE]" invokes OnDone.
func (p *Parser) Feed(payload string) {
	if payload == "[DONE]" {
		if p.cb.OnDone != nil {
			p.cb.OnDone()
		}
		return
	}

	var chunk deltaChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		if p.cb.OnError != nil {
			p.cb.OnError(err)
		}
		return
	}

	if chunk.Usage != nil && p.usage == nil {
		p.usage = chunk.Usage
		if p.cb.OnUsage != nil {
			p.cb.OnUsage(*chunk.Usage)
		}
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		p.content = append(p.content, *choice.Delta.Content...)
		if p.cb.OnContent != nil {
			p.cb.OnContent(*choice.Delta.Content)
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		p.applyToolCallDelta(tc)
	}

	if choice.FinishReason != nil && !p.finishSeen {
		p.finishSeen = true
		p.finishReason = *choice.FinishReason
		if p.cb.OnFinishReason != nil {
			p.cb.OnFinishReason(*choice.FinishReason)
		}
	}
}

// applyToolCallDelta folds one tool_calls[] delta entry into the
// accumulator for its index. The first delta for an index provides id and
// name (continuation deltas tolerate their absence); every delta appends
// to the arguments string.
func (p *Parser) applyToolCallDelta(tc deltaToolCall) {
	accum, ok := p.toolCalls[tc.Index]
	if !ok {
		accum = &toolCallAccum{}
		p.toolCalls[tc.Index] = accum
		p.order = append(p.order, tc.Index)
	}

	if tc.ID != "" {
		accum.id = tc.ID
	}

	var fragment string
	if tc.Function != nil {
		if tc.Function.Name != "" {
			accum.name = tc.Function.Name
		}
		fragment = tc.Function.Arguments
		accum.arguments += fragment
	}

	if !accum.opened {
		accum.opened = true
		if p.cb.OnToolCall != nil {
			p.cb.OnToolCall(ToolCall{
				Index:     tc.Index,
				ID:        accum.id,
				Name:      accum.name,
				Arguments: fragment,
			})
		}
		return
	}

	if fragment != "" && p.cb.OnToolCallUpdate != nil {
		p.cb.OnToolCallUpdate(tc.Index, fragment)
	}
}

// Content returns the text accumulated from content deltas so far.
func (p *Parser) Content() string {
	return string(p.content)
}

// ToolCalls returns the reconstructed tool calls, ordered by index as
// they first appeared in the stream.
func (p *Parser) ToolCalls() []ToolCall {
	calls := make([]ToolCall, 0, len(p.order))
	for _, idx := range p.order {
		accum := p.toolCalls[idx]
		calls = append(calls, ToolCall{
			Index:     idx,
			ID:        accum.id,
			Name:      accum.name,
			Arguments: accum.arguments,
		})
	}
	return calls
}

// FinishReason returns the finish reason observed, or "" if none has
// arrived yet.
func (p *Parser) FinishReason() string {
	return p.finishReason
}

// Usage returns the token usage observed, or nil if no usage chunk has
// arrived yet.
func (p *Parser) Usage() *Usage {
	return p.usage
}

// AssembledMessage builds the non-streaming OpenAI message shape from
// everything accumulated so far. Content is nil whenever any tool calls
// were observed.
func (p *Parser) AssembledMessage() AssembledMessage {
	msg := AssembledMessage{Role: "assistant"}

	calls := p.ToolCalls()
	if len(calls) > 0 {
		msg.ToolCalls = make([]AssembledToolCall, 0, len(calls))
		for _, tc := range calls {
			msg.ToolCalls = append(msg.ToolCalls, AssembledToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: AssembledToolCallFn{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return msg
	}

	content := p.Content()
	msg.Content = &content
	return msg
}
