// Package bucket implements the bucket actor: one actor
// owns one bucket's table, autoincrement counter, and indexes, and
// serializes every mutation through a mailbox so "one message in flight"
// holds regardless of how many goroutines call into it concurrently.
//
// The mailbox is a buffered channel guarded by a send mutex: a worker
// goroutine owns the state and drains requests one at a time, replying on
// a per-request channel.
package bucket

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/index"
	"github.com/bucketdb/bucketdb/pkg/log"
	"github.com/bucketdb/bucketdb/pkg/metrics"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
	"github.com/bucketdb/bucketdb/pkg/validate"
)

type actorState int32

const (
	stateUninitialized actorState = iota
	stateLoading
	stateReady
	stateStopping
	stateStopped
)

const mailboxSize = 256

// Loader fetches a previously persisted envelope for this bucket, if any.
// Returning (nil, nil) is the normal case on first start.
type Loader func(ctx context.Context) (*types.Envelope, error)

type request struct {
	kind    string
	payload any
	reply   chan response
}

type response struct {
	value any
	err   error
}

// Actor owns one bucket's table, autoincrement counter, and indexes.
type Actor struct {
	def     types.Definition
	bus     *events.Bus
	logger  zerolog.Logger
	mailbox chan request

	sendMu sync.Mutex
	state  actorState
	done   chan struct{}

	table   map[string]*types.Record
	order   []string
	counter int64
	indexer *index.Manager
}

// New constructs an actor for def. Call Start before sending messages.
func New(def types.Definition, bus *events.Bus) *Actor {
	secondary, unique := def.IndexedFields()
	return &Actor{
		def:     def,
		bus:     bus,
		logger:  log.WithBucket(def.Name),
		mailbox: make(chan request, mailboxSize),
		done:    make(chan struct{}),
		table:   make(map[string]*types.Record),
		indexer: index.New(secondary, unique),
	}
}

// Definition returns the bucket's immutable definition. Safe to call
// without going through the mailbox since it never changes after New.
func (a *Actor) Definition() types.Definition { return a.def }

// Start runs the Loading phase (via loader, which may be nil) and then
// begins processing the mailbox. No external message is handled until
// loading completes, matching the Uninitialized→Loading→Ready transition.
func (a *Actor) Start(ctx context.Context, loader Loader) {
	a.state = stateLoading
	go a.run(ctx, loader)
}

func (a *Actor) run(ctx context.Context, loader Loader) {
	if loader != nil {
		if err := a.loadSnapshot(ctx, loader); err != nil {
			a.logger.Error().Err(err).Msg("bucket snapshot load failed, starting empty")
		}
	}
	a.state = stateReady
	a.logger.Debug().Msg("bucket ready")

	for req := range a.mailbox {
		a.handle(req)
	}
	a.state = stateStopped
	close(a.done)
}

func (a *Actor) loadSnapshot(ctx context.Context, loader Loader) error {
	env, err := loader(ctx)
	if err != nil {
		return err
	}
	if env == nil {
		return nil
	}
	for _, e := range env.State.Records {
		a.table[e.Key] = e.Record
		a.order = append(a.order, e.Key)
	}
	a.counter = env.State.AutoincrementCounter
	return a.indexer.Rebuild(env.State.Records)
}

// Stop refuses further sends, drains any already-buffered messages, and
// waits for the run loop to exit.
func (a *Actor) Stop() {
	a.sendMu.Lock()
	if a.state == stateStopping || a.state == stateStopped {
		a.sendMu.Unlock()
		<-a.done
		return
	}
	a.state = stateStopping
	close(a.mailbox)
	a.sendMu.Unlock()
	<-a.done
}

func (a *Actor) send(ctx context.Context, kind string, payload any) (any, error) {
	a.sendMu.Lock()
	if a.state == stateStopping || a.state == stateStopped {
		a.sendMu.Unlock()
		return nil, &storeerr.StoreStoppedError{Bucket: a.def.Name}
	}
	reply := make(chan response, 1)
	select {
	case a.mailbox <- request{kind: kind, payload: payload, reply: reply}:
		a.sendMu.Unlock()
	case <-ctx.Done():
		a.sendMu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) handle(req request) {
	timer := metrics.NewTimer()
	var resp response
	switch req.kind {
	case msgGet:
		rec, ok := a.get(req.payload.(string))
		resp = response{value: getResult{record: rec, ok: ok}}
	case msgAll:
		resp = response{value: a.all()}
	case msgWhere:
		resp = response{value: a.where(req.payload.(Filter))}
	case msgFindOne:
		rec, ok := a.findOne(req.payload.(Filter))
		resp = response{value: getResult{record: rec, ok: ok}}
	case msgCount:
		resp = response{value: a.count(req.payload.(*Filter))}
	case msgInsert:
		rec, err := a.insert(req.payload.(map[string]any))
		resp = response{value: rec, err: err}
	case msgUpdate:
		p := req.payload.(updatePayload)
		rec, err := a.update(p.key, p.changes)
		resp = response{value: rec, err: err}
	case msgDelete:
		err := a.delete(req.payload.(string))
		resp = response{err: err}
	case msgStats:
		resp = response{value: a.stats()}
	case msgPurgeExpired:
		resp = response{value: a.purgeExpired()}
	case msgGetSnapshot:
		resp = response{value: a.snapshot()}
	case msgCommitBatch:
		p := req.payload.(commitBatchPayload)
		undo, evs, err := a.commitBatch(p.ops, p.autoincrementOverride)
		resp = response{value: commitResult{undo: undo, events: evs}, err: err}
	case msgRollbackBatch:
		a.rollbackBatch(req.payload.([]BatchOp))
		resp = response{}
	case msgGetAutoincrementCounter:
		resp = response{value: a.counter}
	}
	timer.ObserveDurationVec(metrics.OperationDuration, req.kind)
	req.reply <- resp
}

// --- read operations ---

type getResult struct {
	record *types.Record
	ok     bool
}

func (a *Actor) get(key string) (*types.Record, bool) {
	rec, ok := a.table[key]
	return rec, ok
}

func (a *Actor) all() []types.RecordEntry {
	out := make([]types.RecordEntry, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, types.RecordEntry{Key: k, Record: a.table[k]})
	}
	return out
}

func (a *Actor) where(f Filter) []types.RecordEntry {
	if field, value, ok := f.indexable(); ok && a.indexer.HasSecondaryIndex(field) {
		keys := a.indexer.Lookup(field, value)
		out := make([]types.RecordEntry, 0, len(keys))
		for _, k := range a.order {
			for _, mk := range keys {
				if mk == k {
					out = append(out, types.RecordEntry{Key: k, Record: a.table[k]})
					break
				}
			}
		}
		return out
	}
	var out []types.RecordEntry
	for _, k := range a.order {
		rec := a.table[k]
		if f.Matches(rec) {
			out = append(out, types.RecordEntry{Key: k, Record: rec})
		}
	}
	return out
}

func (a *Actor) findOne(f Filter) (*types.Record, bool) {
	for _, k := range a.order {
		rec := a.table[k]
		if f.Matches(rec) {
			return rec, true
		}
	}
	return nil, false
}

func (a *Actor) count(f *Filter) int {
	if f == nil {
		return len(a.table)
	}
	return len(a.where(*f))
}

// --- write operations ---

func (a *Actor) insert(data map[string]any) (*types.Record, error) {
	rec, err := validate.PrepareInsert(a.def, data, a.counter+1, validate.NowMillis())
	if err != nil {
		metrics.ValidationErrorsTotal.WithLabelValues(a.def.Name).Inc()
		return nil, err
	}
	key := types.KeyString(rec.Fields[a.def.PrimaryKey])

	isAutoincrement := a.def.Schema[a.def.PrimaryKey].Generated == types.GenAutoincrement

	evicted, err := a.applyInsert(key, rec)
	if err != nil {
		if _, ok := err.(*storeerr.UniqueConstraintError); ok {
			metrics.UniqueConflictsTotal.WithLabelValues(a.def.Name).Inc()
		}
		return nil, err
	}
	if isAutoincrement {
		a.counter++
	}

	for _, ev := range evicted {
		metrics.DeletesTotal.WithLabelValues(a.def.Name, "eviction").Inc()
		a.bus.Publish(ev.Topic(), ev)
	}
	metrics.InsertsTotal.WithLabelValues(a.def.Name).Inc()
	metrics.RecordsTotal.WithLabelValues(a.def.Name).Set(float64(len(a.table)))

	ev := events.Event{Bucket: a.def.Name, Kind: events.Inserted, Key: key, Record: rec}
	a.bus.Publish(ev.Topic(), ev)
	return rec, nil
}

// applyInsert adds key/rec to the indexes and table, evicting the oldest
// records first if max_size would otherwise be exceeded. It never touches
// the autoincrement counter; the caller commits that separately.
func (a *Actor) applyInsert(key string, rec *types.Record) (evicted []events.Event, err error) {
	if err := a.indexer.AddRecord(key, rec); err != nil {
		return nil, err
	}
	if _, exists := a.table[key]; exists {
		a.indexer.RemoveRecord(key, rec)
		return nil, &storeerr.DuplicateKeyError{Bucket: a.def.Name, Key: key}
	}

	if a.def.MaxSize > 0 && len(a.table) >= a.def.MaxSize {
		n := len(a.table) - a.def.MaxSize + 1
		for _, vk := range a.order[:n] {
			vrec := a.table[vk]
			a.indexer.RemoveRecord(vk, vrec)
			delete(a.table, vk)
			evicted = append(evicted, events.Event{Bucket: a.def.Name, Kind: events.Deleted, Key: vk, Record: vrec})
		}
		a.order = append([]string{}, a.order[n:]...)
	}

	a.table[key] = rec
	a.order = append(a.order, key)
	return evicted, nil
}

func (a *Actor) update(key string, changes map[string]any) (*types.Record, error) {
	existing, ok := a.table[key]
	if !ok {
		return nil, &storeerr.NotFoundError{Bucket: a.def.Name, Key: key}
	}
	next, err := validate.PrepareUpdate(a.def, existing, changes, validate.NowMillis())
	if err != nil {
		metrics.ValidationErrorsTotal.WithLabelValues(a.def.Name).Inc()
		return nil, err
	}
	if err := a.indexer.UpdateRecord(key, existing, next); err != nil {
		metrics.UniqueConflictsTotal.WithLabelValues(a.def.Name).Inc()
		return nil, err
	}
	a.table[key] = next
	metrics.UpdatesTotal.WithLabelValues(a.def.Name).Inc()

	ev := events.Event{Bucket: a.def.Name, Kind: events.Updated, Key: key, Old: existing, New: next}
	a.bus.Publish(ev.Topic(), ev)
	return next, nil
}

func (a *Actor) delete(key string) error {
	rec, ok := a.table[key]
	if !ok {
		return nil
	}
	a.indexer.RemoveRecord(key, rec)
	delete(a.table, key)
	a.removeFromOrder(key)
	metrics.DeletesTotal.WithLabelValues(a.def.Name, "explicit").Inc()
	metrics.RecordsTotal.WithLabelValues(a.def.Name).Set(float64(len(a.table)))

	ev := events.Event{Bucket: a.def.Name, Kind: events.Deleted, Key: key, Record: rec}
	a.bus.Publish(ev.Topic(), ev)
	return nil
}

func (a *Actor) removeFromOrder(key string) {
	for i, k := range a.order {
		if k == key {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

func (a *Actor) purgeExpired() int {
	now := validate.NowMillis()
	var expired []string
	for _, k := range a.order {
		if a.table[k].Expired(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		a.delete(k)
	}
	if len(expired) > 0 {
		metrics.TTLPurgedTotal.WithLabelValues(a.def.Name).Add(float64(len(expired)))
	}
	return len(expired)
}

func (a *Actor) snapshot() types.SnapshotState {
	entries := make([]types.RecordEntry, 0, len(a.order))
	for _, k := range a.order {
		entries = append(entries, types.RecordEntry{Key: k, Record: a.table[k].Clone()})
	}
	return types.SnapshotState{Records: entries, AutoincrementCounter: a.counter}
}

func (a *Actor) stats() Stats {
	secondary, unique := a.def.IndexedFields()
	sort.Strings(secondary)
	sort.Strings(unique)
	return Stats{
		Bucket:               a.def.Name,
		Count:                len(a.table),
		MaxSize:              a.def.MaxSize,
		TTLMillis:            a.def.TTL,
		AutoincrementCounter: a.counter,
		SecondaryIndexes:     secondary,
		UniqueIndexes:        unique,
	}
}

// Stats is a point-in-time summary of a bucket's size and configuration.
type Stats struct {
	Bucket               string
	Count                int
	MaxSize              int
	TTLMillis            int64
	AutoincrementCounter int64
	SecondaryIndexes     []string
	UniqueIndexes        []string
}
