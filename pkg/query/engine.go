// Package query implements the reactive query engine:
// named, pure read functions over the current store snapshot, with
// dependency-tracked subscriptions that re-evaluate and fire a callback
// only when their result actually changes.
//
// Each affected subscription re-evaluates on its own goroutine; changes
// that arrive mid-evaluation coalesce into exactly one follow-up pass
// via a pending flag.
package query

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bucketdb/bucketdb/pkg/bucket"
	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/log"
	"github.com/bucketdb/bucketdb/pkg/metrics"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
)

// Func is a named query: a pure read over the current store snapshot.
type Func func(ctx Context, params any) (any, error)

// Callback is invoked with a subscription's new result whenever it
// changes. It must not block for long; it runs on the engine's
// re-evaluation goroutine for that subscription.
type Callback func(result any)

type queryDef struct {
	name string
	fn   Func
}

type subscription struct {
	id     uint64
	query  *queryDef
	params any
	cb     Callback

	mu         sync.Mutex
	deps       *deps
	lastResult any
	hasResult  bool
	removed    bool
	evaluating bool
	pending    bool
}

// Engine registers query functions and manages dependency-tracked
// subscriptions over the buckets registered with it.
type Engine struct {
	logger zerolog.Logger
	bus    *events.Bus
	unsub  func()

	mu        sync.Mutex
	buckets   map[string]*bucket.Actor
	queries   map[string]*queryDef
	subs      map[uint64]*subscription
	nextSubID uint64

	bucketLevelIdx map[string]map[uint64]struct{}            // bucket -> sub ids
	recordLevelIdx map[string]map[string]map[uint64]struct{} // bucket -> key -> sub ids

	wg sync.WaitGroup
}

// New constructs an Engine subscribing to every bucket mutation on bus.
func New(bus *events.Bus) *Engine {
	e := &Engine{
		logger:         log.WithComponent("query"),
		bus:            bus,
		buckets:        make(map[string]*bucket.Actor),
		queries:        make(map[string]*queryDef),
		subs:           make(map[uint64]*subscription),
		bucketLevelIdx: make(map[string]map[uint64]struct{}),
		recordLevelIdx: make(map[string]map[string]map[uint64]struct{}),
	}
	e.unsub = bus.Subscribe("bucket.*.*", e.onEvent)
	return e
}

// RegisterBucket makes a bucket actor's data visible to query functions
// under name. Must be called before any query referencing it runs.
func (e *Engine) RegisterBucket(name string, actor *bucket.Actor) {
	e.mu.Lock()
	e.buckets[name] = actor
	e.mu.Unlock()
}

func (e *Engine) resolveBucket(name string) (*bucket.Actor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.buckets[name]
	return a, ok
}

// Define registers a named query function. Returns QueryAlreadyDefinedError
// on a duplicate name.
func (e *Engine) Define(name string, fn Func) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.queries[name]; exists {
		return &storeerr.QueryAlreadyDefinedError{Name: name}
	}
	e.queries[name] = &queryDef{name: name, fn: fn}
	return nil
}

func (e *Engine) lookupQuery(name string) (*queryDef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queries[name]
	if !ok {
		return nil, &storeerr.QueryNotDefinedError{Name: name}
	}
	return q, nil
}

// RunQuery executes a query once against the current snapshot, with no
// dependency retention.
func (e *Engine) RunQuery(ctx context.Context, name string, params any) (any, error) {
	q, err := e.lookupQuery(name)
	if err != nil {
		return nil, err
	}
	tc := newTrackingContext(ctx, e.resolveBucket)
	return q.fn(tc, params)
}

// Subscribe executes the named query once, does not deliver that initial
// result to callback, and re-invokes callback on every subsequent change
// to the query's result.
func (e *Engine) Subscribe(ctx context.Context, name string, params any, cb Callback) (func(), error) {
	q, err := e.lookupQuery(name)
	if err != nil {
		return nil, err
	}

	tc := newTrackingContext(ctx, e.resolveBucket)
	result, err := q.fn(tc, params)
	if err != nil {
		return nil, err
	}
	tc.deps.normalize()

	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	sub := &subscription{id: id, query: q, params: params, cb: cb, deps: tc.deps, lastResult: result, hasResult: true}
	e.subs[id] = sub
	e.indexDepsLocked(id, tc.deps)
	e.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			sub.mu.Lock()
			sub.removed = true
			sub.mu.Unlock()
			delete(e.subs, id)
			e.unindexDepsLocked(id, sub.deps)
		})
	}
	return unsubscribe, nil
}

// Settle blocks until every re-evaluation scheduled so far has completed,
// including any that were coalesced while waiting. Used for deterministic
// testing.
func (e *Engine) Settle() {
	e.wg.Wait()
}

// Stop unsubscribes the engine from the event bus. It does not wait for
// in-flight re-evaluations; call Settle first if that matters.
func (e *Engine) Stop() {
	e.unsub()
}

func (e *Engine) indexDepsLocked(id uint64, d *deps) {
	for b := range d.bucketLevel {
		m, ok := e.bucketLevelIdx[b]
		if !ok {
			m = make(map[uint64]struct{})
			e.bucketLevelIdx[b] = m
		}
		m[id] = struct{}{}
	}
	for b, keys := range d.recordLevel {
		bm, ok := e.recordLevelIdx[b]
		if !ok {
			bm = make(map[string]map[uint64]struct{})
			e.recordLevelIdx[b] = bm
		}
		for k := range keys {
			km, ok := bm[k]
			if !ok {
				km = make(map[uint64]struct{})
				bm[k] = km
			}
			km[id] = struct{}{}
		}
	}
}

func (e *Engine) unindexDepsLocked(id uint64, d *deps) {
	for b := range d.bucketLevel {
		if m, ok := e.bucketLevelIdx[b]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(e.bucketLevelIdx, b)
			}
		}
	}
	for b, keys := range d.recordLevel {
		bm, ok := e.recordLevelIdx[b]
		if !ok {
			continue
		}
		for k := range keys {
			if km, ok := bm[k]; ok {
				delete(km, id)
				if len(km) == 0 {
					delete(bm, k)
				}
			}
		}
		if len(bm) == 0 {
			delete(e.recordLevelIdx, b)
		}
	}
}

func (e *Engine) onEvent(ev events.Event) {
	e.mu.Lock()
	affected := make(map[uint64]struct{})
	for id := range e.bucketLevelIdx[ev.Bucket] {
		affected[id] = struct{}{}
	}
	if bm, ok := e.recordLevelIdx[ev.Bucket]; ok {
		for id := range bm[ev.Key] {
			affected[id] = struct{}{}
		}
	}
	subs := make([]*subscription, 0, len(affected))
	for id := range affected {
		if s, ok := e.subs[id]; ok {
			subs = append(subs, s)
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		e.scheduleReevaluate(s)
	}
}

// scheduleReevaluate starts a re-evaluation goroutine for sub unless one
// is already running, in which case it marks pending so the running
// goroutine performs exactly one more pass before exiting — coalescing
// any number of changes that arrive during one evaluation into one
// follow-up.
func (e *Engine) scheduleReevaluate(sub *subscription) {
	sub.mu.Lock()
	if sub.removed {
		sub.mu.Unlock()
		return
	}
	if sub.evaluating {
		sub.pending = true
		sub.mu.Unlock()
		return
	}
	sub.evaluating = true
	sub.mu.Unlock()

	e.wg.Add(1)
	go e.reevaluateLoop(sub)
}

func (e *Engine) reevaluateLoop(sub *subscription) {
	defer e.wg.Done()
	for {
		e.reevaluateOnce(sub)

		sub.mu.Lock()
		if !sub.pending || sub.removed {
			sub.evaluating = false
			sub.pending = false
			sub.mu.Unlock()
			return
		}
		sub.pending = false
		sub.mu.Unlock()
	}
}

func (e *Engine) reevaluateOnce(sub *subscription) {
	sub.mu.Lock()
	if sub.removed {
		sub.mu.Unlock()
		return
	}
	sub.mu.Unlock()

	metrics.QueryReevaluationsTotal.WithLabelValues(sub.query.name).Inc()
	tc := newTrackingContext(context.Background(), e.resolveBucket)
	result, err := sub.query.fn(tc, sub.params)
	if err != nil {
		e.logger.Debug().Err(err).Str("query", sub.query.name).Msg("query re-evaluation failed, keeping prior result")
		return
	}
	tc.deps.normalize()

	sub.mu.Lock()
	if sub.removed {
		sub.mu.Unlock()
		return
	}
	oldDeps := sub.deps
	depsChanged := !oldDeps.equal(tc.deps)
	if depsChanged {
		sub.deps = tc.deps
	}
	changed := !sub.hasResult || !DeepEqual(sub.lastResult, result)
	if changed {
		sub.lastResult = result
		sub.hasResult = true
	}
	cb := sub.cb
	sub.mu.Unlock()

	if depsChanged {
		e.mu.Lock()
		e.unindexDepsLocked(sub.id, oldDeps)
		e.indexDepsLocked(sub.id, tc.deps)
		e.mu.Unlock()
	}

	if changed {
		metrics.QueryCallbacksTotal.WithLabelValues(sub.query.name).Inc()
		cb(result)
	}
}
