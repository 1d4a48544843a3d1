package broker

import (
	"fmt"
	"sync"
	"time"
)

// Point1Action is the operator's decision at the first suspension point:
// forward to the LLM, replay from cache, or synthesize a mock.
type Point1Action struct {
	Kind    Point1Kind `json:"kind"`
	Content string     `json:"content,omitempty"` // Kind == Point1Mock
}

type Point1Kind string

const (
	Point1LLM   Point1Kind = "llm"
	Point1Cache Point1Kind = "cache"
	Point1Mock  Point1Kind = "mock"
)

// Point2Action is the operator's decision at the second suspension point:
// let the acquired buffer through unchanged, or discard it and
// re-synthesize from fresh operator content.
type Point2Action struct {
	Kind    Point2Kind `json:"kind"`
	Content string     `json:"content,omitempty"` // Kind == Point2Modify
}

type Point2Kind string

const (
	Point2Return Point2Kind = "return"
	Point2Modify Point2Kind = "modify"
)

// Valid reports whether the action carries a recognised kind.
func (a Point1Action) Valid() bool {
	switch a.Kind {
	case Point1LLM, Point1Cache, Point1Mock:
		return true
	}
	return false
}

// Valid reports whether the action carries a recognised kind.
func (a Point2Action) Valid() bool {
	switch a.Kind {
	case Point2Return, Point2Modify:
		return true
	}
	return false
}

// maxSessions bounds how many completed sessions the reaper retains.
const maxSessions = 100

// pendingPoint is a single-shot channel an awaiter blocks on until a
// matching Resolve call delivers an action.
type pendingPoint[A any] struct {
	ch chan A
}

// Broker owns the session map, the point-1/point-2 suspension machinery,
// and the subscriber fan-out for session update events. A Broker is safe
// for concurrent use; sessions, subscribers, and the decision-resolver
// maps are all serialised through one lock.
type Broker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string // insertion order, for the reaper

	point1 map[string]*pendingPoint[Point1Action]
	point2 map[string]*pendingPoint[Point2Action]

	subscribers map[int]chan Session
	nextSubID   int

	stopReaper chan struct{}
}

// New creates an empty Broker and starts its background reaper.
func New() *Broker {
	b := &Broker{
		sessions:    make(map[string]*Session),
		point1:      make(map[string]*pendingPoint[Point1Action]),
		point2:      make(map[string]*pendingPoint[Point2Action]),
		subscribers: make(map[int]chan Session),
		stopReaper:  make(chan struct{}),
	}
	go b.runReaper()
	return b
}

// Close stops the background reaper. Subscribers are not closed here —
// callers should Unsubscribe before discarding a Broker.
func (b *Broker) Close() {
	close(b.stopReaper)
}

// Create registers a new session with request view req and fingerprint fp. State
// starts as pending when intervene is true, else processing. Emits a
// request_update to subscribers.
func (b *Broker) Create(id string, req RequestSnapshot, fp string, cacheAvailable, intervene bool) Session {
	b.mu.Lock()
	state := StateProcessing
	var processingAt *time.Time
	if intervene {
		state = StatePending
	} else {
		now := time.Now()
		processingAt = &now
	}

	sess := &Session{
		ID:             id,
		State:          state,
		CreatedAt:      time.Now(),
		ProcessingAt:   processingAt,
		Request:        req,
		Fingerprint:    fp,
		CacheAvailable: cacheAvailable,
	}
	b.sessions[id] = sess
	b.order = append(b.order, id)
	out := sess.clone()
	b.mu.Unlock()

	b.publish(out)
	return out
}

// mutate runs fn under lock against the session for id, then publishes
// the resulting snapshot. Returns false if id is unknown.
func (b *Broker) mutate(id string, fn func(s *Session)) (Session, bool) {
	b.mu.Lock()
	sess, ok := b.sessions[id]
	if !ok {
		b.mu.Unlock()
		return Session{}, false
	}
	fn(sess)
	out := sess.clone()
	b.mu.Unlock()

	b.publish(out)
	return out, true
}

// SetProcessing transitions id to processing, recording the timestamp.
func (b *Broker) SetProcessing(id string) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		s.State = StateProcessing
		if s.ProcessingAt == nil {
			now := time.Now()
			s.ProcessingAt = &now
		}
	})
}

// SetReviewing transitions id to reviewing.
func (b *Broker) SetReviewing(id string) (Session, bool) {
	return b.mutate(id, func(s *Session) { s.State = StateReviewing })
}

// Complete transitions id to complete with the given status, recording
// the completion timestamp. No session may leave complete once entered.
func (b *Broker) Complete(id string, status int) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		if s.State == StateComplete {
			return
		}
		s.State = StateComplete
		now := time.Now()
		s.CompletedAt = &now
		if s.Response == nil {
			s.Response = &ResponseView{}
		}
		s.Response.Status = status
	})
}

// Error marks id as errored and complete, recording msg.
func (b *Broker) Error(id string, msg string) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		if s.State == StateComplete {
			return
		}
		s.State = StateComplete
		now := time.Now()
		s.CompletedAt = &now
		s.Error = msg
	})
}

// SetCacheAvailable records whether a cache entry exists for the session.
func (b *Broker) SetCacheAvailable(id string, available bool) (Session, bool) {
	return b.mutate(id, func(s *Session) { s.CacheAvailable = available })
}

// SetResponseSource records where the emitted bytes originated.
func (b *Broker) SetResponseSource(id string, source Source) (Session, bool) {
	return b.mutate(id, func(s *Session) { s.ResponseSource = source })
}

// SetResponseStatus records the HTTP status of the acquired response.
func (b *Broker) SetResponseStatus(id string, status int) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		if s.Response == nil {
			s.Response = &ResponseView{}
		}
		s.Response.Status = status
	})
}

// AppendContent appends to the session's assembled content. Deliberately
// silent — it does not publish — so per-token deltas don't flood
// subscribers; consumers re-sync on the next emitted update.
func (b *Broker) AppendContent(id string, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[id]
	if !ok {
		return
	}
	if sess.Response == nil {
		sess.Response = &ResponseView{}
	}
	sess.Response.Content += text
}

// AppendToolCall records or updates a tool call by index and publishes.
func (b *Broker) AppendToolCall(id string, call ToolCall) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		if s.Response == nil {
			s.Response = &ResponseView{}
		}
		for i := range s.Response.ToolCalls {
			if s.Response.ToolCalls[i].Index == call.Index {
				s.Response.ToolCalls[i] = call
				return
			}
		}
		s.Response.ToolCalls = append(s.Response.ToolCalls, call)
	})
}

// SetFinishReason records the finish reason once known.
func (b *Broker) SetFinishReason(id string, reason string) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		if s.Response == nil {
			s.Response = &ResponseView{}
		}
		s.Response.FinishReason = reason
	})
}

// SetUsage records token usage once known.
func (b *Broker) SetUsage(id string, usage Usage) (Session, bool) {
	return b.mutate(id, func(s *Session) {
		if s.Response == nil {
			s.Response = &ResponseView{}
		}
		s.Response.Usage = &usage
	})
}

// Get returns a snapshot of the session for id.
func (b *Broker) Get(id string) (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// List returns a snapshot of every retained session, oldest first.
func (b *Broker) List() []Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Session, 0, len(b.order))
	for _, id := range b.order {
		if sess, ok := b.sessions[id]; ok {
			out = append(out, sess.clone())
		}
	}
	return out
}

// AwaitPoint1 blocks until ResolvePoint1(id, ...) is called. Cancellation
// isn't modeled here — callers select on a context themselves if they
// need to unwind early. Exactly one awaiter may be pending per session
// per point; a second concurrent await is a programmer error and panics.
func (b *Broker) AwaitPoint1(id string) Point1Action {
	ch := b.registerPoint1(id)
	return <-ch
}

func (b *Broker) registerPoint1(id string) chan Point1Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.point1[id]; exists {
		panic(fmt.Sprintf("broker: point1 already pending for session %s", id))
	}
	p := &pendingPoint[Point1Action]{ch: make(chan Point1Action, 1)}
	b.point1[id] = p
	return p.ch
}

// ResolvePoint1 delivers action to the awaiter registered for id and
// transitions the session to processing. Returns false if no await is
// pending.
func (b *Broker) ResolvePoint1(id string, action Point1Action) bool {
	b.mu.Lock()
	p, ok := b.point1[id]
	if ok {
		delete(b.point1, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.SetProcessing(id)
	p.ch <- action
	return true
}

// AwaitPoint2 blocks until ResolvePoint2(id, ...) is called.
func (b *Broker) AwaitPoint2(id string) Point2Action {
	ch := b.registerPoint2(id)
	return <-ch
}

func (b *Broker) registerPoint2(id string) chan Point2Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.point2[id]; exists {
		panic(fmt.Sprintf("broker: point2 already pending for session %s", id))
	}
	p := &pendingPoint[Point2Action]{ch: make(chan Point2Action, 1)}
	b.point2[id] = p
	return p.ch
}

// ResolvePoint2 delivers action to the awaiter registered for id. A modify
// action first clears the session's response view, since the response it
// described is discarded. Returns false if no await is pending.
func (b *Broker) ResolvePoint2(id string, action Point2Action) bool {
	b.mu.Lock()
	p, ok := b.point2[id]
	if ok {
		delete(b.point2, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	if action.Kind == Point2Modify {
		b.mutate(id, func(s *Session) { s.Response = nil })
	}
	p.ch <- action
	return true
}

// Subscribe registers a new listener for request_update events and
// returns its channel and an id for later Unsubscribe. The channel is
// buffered; a slow subscriber drops updates rather than blocking the
// broker.
func (b *Broker) Subscribe() (id int, ch <-chan Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id = b.nextSubID
	c := make(chan Session, 64)
	b.subscribers[id] = c
	return id, c
}

// Unsubscribe removes and closes the subscriber channel for id.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(c)
	}
}

func (b *Broker) publish(sess Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subscribers {
		select {
		case c <- sess:
		default:
			// Slow subscriber; drop rather than block the broker.
		}
	}
}

// runReaper evicts completed sessions beyond maxSessions, oldest first.
func (b *Broker) runReaper() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopReaper:
			return
		case <-ticker.C:
			b.reapOnce()
		}
	}
}

func (b *Broker) reapOnce() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) <= maxSessions {
		return
	}

	kept := make([]string, 0, len(b.order))
	excess := len(b.order) - maxSessions
	for _, id := range b.order {
		sess, ok := b.sessions[id]
		if !ok {
			continue
		}
		if excess > 0 && sess.State == StateComplete {
			delete(b.sessions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
}
