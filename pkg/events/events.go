// Package events is the event bus: synchronous, pattern-matched
// publish/subscribe over dot-separated topics. Publication is inline
// rather than routed through a background goroutine — Publish returns
// only after every matching subscriber has been invoked, which is what
// lets transactional commits withhold events until every bucket is in.
package events

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bucketdb/bucketdb/pkg/types"
)

// Kind is the mutation kind an event reports.
type Kind string

const (
	Inserted Kind = "inserted"
	Updated  Kind = "updated"
	Deleted  Kind = "deleted"
)

// Event is the payload published on bucket.<name>.<kind>.
type Event struct {
	Bucket string
	Kind   Kind
	Key    string
	Record *types.Record // set for Inserted and Deleted
	Old    *types.Record // set for Updated
	New    *types.Record // set for Updated
}

// Topic returns the dot-separated topic this event is published on.
func (e Event) Topic() string {
	return fmt.Sprintf("bucket.%s.%s", e.Bucket, e.Kind)
}

// Handler receives a published event. Handlers must not block
// indefinitely; they typically enqueue work.
type Handler func(Event)

// ErrorHandler is invoked when a Handler panics during Publish, isolating
// the failure from the publisher and from sibling handlers.
type ErrorHandler func(pattern string, recovered any)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is a single-process, synchronous publish/subscribe hub.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	onError ErrorHandler
}

// New creates an event bus. onError may be nil, in which case handler
// panics are silently swallowed (still isolated from the publisher).
func New(onError ErrorHandler) *Bus {
	return &Bus{
		subs:    make(map[uint64]*subscription),
		onError: onError,
	}
}

// Subscribe registers handler for every topic matching pattern ("*"
// matches exactly one dot-separated segment) and returns an idempotent
// unsubscribe function.
func (b *Bus) Subscribe(pattern string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{id: id, pattern: pattern, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish invokes every handler whose pattern matches topic, inline, and
// returns only once all have run. A panicking handler is recovered and
// reported to the bus's ErrorHandler; it never reaches the publisher or
// other handlers.
func (b *Bus) Publish(topic string, ev Event) {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchTopic(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.onError != nil {
			b.onError(s.pattern, r)
		}
	}()
	s.handler(ev)
}

// matchTopic reports whether pattern matches topic under "*" = exactly
// one segment semantics.
func matchTopic(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p != "*" && p != tSegs[i] {
			return false
		}
	}
	return true
}
