package txn

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bucketdb/bucketdb/pkg/bucket"
	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/log"
	"github.com/bucketdb/bucketdb/pkg/metrics"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
	"github.com/bucketdb/bucketdb/pkg/validate"
)

// Resolver looks up a live bucket actor by name.
type Resolver func(name string) (*bucket.Actor, bool)

// Txn is one atomic multi-bucket transaction. Writes are
// buffered per bucket and become visible to other readers only after
// Commit; reads within the transaction see its own buffered writes.
// A Txn is single-use and not safe for concurrent use by multiple
// goroutines.
type Txn struct {
	resolve Resolver
	bus     *events.Bus
	logger  zerolog.Logger

	mu        sync.Mutex
	handles   map[string]*Handle
	order     []string
	committed bool
}

// New creates a transaction over the buckets resolve can reach.
func New(resolve Resolver, bus *events.Bus) *Txn {
	return &Txn{
		resolve: resolve,
		bus:     bus,
		logger:  log.WithComponent("txn"),
		handles: make(map[string]*Handle),
	}
}

// Bucket returns the transactional handle for name, creating it on first
// use. The handle snapshots the bucket definition immediately and reads
// the actor's autoincrement counter lazily, on the first insert that
// needs a generated key.
func (t *Txn) Bucket(name string) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handles[name]; ok {
		return h, nil
	}
	actor, ok := t.resolve(name)
	if !ok {
		return nil, &storeerr.BucketNotDefinedError{Bucket: name}
	}
	h := &Handle{
		txn:     t,
		name:    name,
		actor:   actor,
		def:     actor.Definition(),
		overlay: make(map[string]*overlayEntry),
	}
	t.handles[name] = h
	t.order = append(t.order, name)
	return h, nil
}

// Commit sends each bucket's buffered writes as one commit_batch, bucket
// by bucket in first-use order. If any bucket fails, every bucket already
// committed is rolled back with its undo log and no events are published.
// On success, the collected events are published in the order the buckets
// committed. Calling Commit twice fails with AlreadyCommitted.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return &storeerr.AlreadyCommittedError{}
	}
	t.committed = true
	order := make([]string, len(t.order))
	copy(order, t.order)
	t.mu.Unlock()

	type committedBucket struct {
		handle *Handle
		undo   []bucket.BatchOp
	}
	var done []committedBucket
	var collected []events.Event

	for _, name := range order {
		h := t.handles[name]
		if len(h.ops) == 0 {
			continue
		}
		undo, evs, err := h.actor.CommitBatch(ctx, h.ops, h.autoincrementOverride())
		if err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				d := done[i]
				if rbErr := d.handle.actor.RollbackBatch(ctx, d.undo); rbErr != nil {
					t.logger.Error().Err(rbErr).Str("bucket", d.handle.name).Msg("transaction rollback failed")
				}
			}
			metrics.TransactionRollbacksTotal.Inc()
			return err
		}
		done = append(done, committedBucket{handle: h, undo: undo})
		collected = append(collected, evs...)
	}

	for _, ev := range collected {
		t.bus.Publish(ev.Topic(), ev)
	}
	metrics.TransactionCommitsTotal.Inc()
	return nil
}

// overlayEntry is the transaction-local view of one key.
type overlayEntry struct {
	deleted bool
	record  *types.Record
}

// Handle is the transactional view of one bucket: buffered writes plus
// overlay reads over the live actor state.
type Handle struct {
	txn   *Txn
	name  string
	actor *bucket.Actor
	def   types.Definition

	counterLoaded bool
	counter       int64

	ops     []bucket.BatchOp
	overlay map[string]*overlayEntry
}

// loadCounter reads the actor's autoincrement counter on first use.
func (h *Handle) loadCounter(ctx context.Context) error {
	if h.counterLoaded {
		return nil
	}
	c, err := h.actor.GetAutoincrementCounter(ctx)
	if err != nil {
		return err
	}
	h.counter = c
	h.counterLoaded = true
	return nil
}

func (h *Handle) autoincrementOverride() *int64 {
	if !h.counterLoaded {
		return nil
	}
	c := h.counter
	return &c
}

// Insert buffers an insert. The record is validated and prepared now,
// against the definition snapshot, so a schema violation fails fast. The
// duplicate-key check runs here against the overlay and the live actor
// and again inside commit_batch; unique constraints are checked only
// inside commit_batch.
func (h *Handle) Insert(ctx context.Context, data map[string]any) (*types.Record, error) {
	for name, f := range h.def.Schema {
		if f.Generated != types.GenAutoincrement {
			continue
		}
		if _, supplied := data[name]; supplied {
			continue
		}
		if err := h.loadCounter(ctx); err != nil {
			return nil, err
		}
		break
	}
	rec, err := validate.PrepareInsert(h.def, data, h.counter+1, validate.NowMillis())
	if err != nil {
		return nil, err
	}
	key := types.KeyString(rec.Fields[h.def.PrimaryKey])

	if entry, ok := h.overlay[key]; ok && !entry.deleted {
		return nil, &storeerr.DuplicateKeyError{Bucket: h.name, Key: key}
	}
	if _, ok := h.overlay[key]; !ok {
		if _, exists, err := h.actor.Get(ctx, key); err != nil {
			return nil, err
		} else if exists {
			return nil, &storeerr.DuplicateKeyError{Bucket: h.name, Key: key}
		}
	}

	if _, supplied := data[h.def.PrimaryKey]; !supplied && h.def.Schema[h.def.PrimaryKey].Generated == types.GenAutoincrement {
		h.counter++
	}
	h.ops = append(h.ops, bucket.BatchOp{Kind: bucket.OpInsert, Key: key, Prepared: rec})
	h.overlay[key] = &overlayEntry{record: rec}
	return rec, nil
}

// Update buffers an update against the record as this transaction sees
// it. The expected version pins the actor-side record so a concurrent
// writer surfaces as VersionConflictError at commit.
func (h *Handle) Update(ctx context.Context, key string, changes map[string]any) (*types.Record, error) {
	existing, ok, err := h.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &storeerr.NotFoundError{Bucket: h.name, Key: key}
	}
	next, err := validate.PrepareUpdate(h.def, existing, changes, validate.NowMillis())
	if err != nil {
		return nil, err
	}
	expected := existing.Version
	h.ops = append(h.ops, bucket.BatchOp{Kind: bucket.OpUpdate, Key: key, Prepared: next, ExpectedVersion: &expected})
	h.overlay[key] = &overlayEntry{record: next}
	return next, nil
}

// Delete buffers a delete. Deleting a key absent from the transaction's
// view is a no-op, matching the standalone delete protocol.
func (h *Handle) Delete(ctx context.Context, key string) error {
	existing, ok, err := h.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	expected := existing.Version
	h.ops = append(h.ops, bucket.BatchOp{Kind: bucket.OpDelete, Key: key, ExpectedVersion: &expected})
	h.overlay[key] = &overlayEntry{deleted: true}
	return nil
}

// Get reads a record, overlay first: a key this transaction deleted is
// absent, a key it wrote returns the buffered version, everything else
// reads through to the actor.
func (h *Handle) Get(ctx context.Context, key string) (*types.Record, bool, error) {
	if entry, ok := h.overlay[key]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.record, true, nil
	}
	return h.actor.Get(ctx, key)
}

// All merges the actor's records with the overlay: updates applied in
// place, deletes dropped, inserts appended after pre-existing records.
func (h *Handle) All(ctx context.Context) ([]types.RecordEntry, error) {
	base, err := h.actor.All(ctx)
	if err != nil {
		return nil, err
	}
	return h.merge(base), nil
}

// Where filters the merged view. The overlay makes an index-served read
// impossible to trust, so filtering happens here over the merged rows.
func (h *Handle) Where(ctx context.Context, f bucket.Filter) ([]types.RecordEntry, error) {
	all, err := h.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.RecordEntry
	for _, e := range all {
		if f.Matches(e.Record) {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindOne returns the first merged row matching f.
func (h *Handle) FindOne(ctx context.Context, f bucket.Filter) (*types.Record, bool, error) {
	all, err := h.All(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, e := range all {
		if f.Matches(e.Record) {
			return e.Record, true, nil
		}
	}
	return nil, false, nil
}

// Count counts merged rows, optionally filtered.
func (h *Handle) Count(ctx context.Context, f *bucket.Filter) (int, error) {
	if f == nil {
		all, err := h.All(ctx)
		if err != nil {
			return 0, err
		}
		return len(all), nil
	}
	rows, err := h.Where(ctx, *f)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// merge applies the overlay to the actor's reply: updates replace rows,
// deletes drop them, inserts append in buffer order.
func (h *Handle) merge(base []types.RecordEntry) []types.RecordEntry {
	seen := make(map[string]struct{}, len(base))
	out := make([]types.RecordEntry, 0, len(base)+len(h.overlay))
	for _, e := range base {
		seen[e.Key] = struct{}{}
		entry, ok := h.overlay[e.Key]
		if !ok {
			out = append(out, e)
			continue
		}
		if entry.deleted {
			continue
		}
		out = append(out, types.RecordEntry{Key: e.Key, Record: entry.record})
	}
	for _, op := range h.ops {
		if op.Kind != bucket.OpInsert {
			continue
		}
		if _, preexisting := seen[op.Key]; preexisting {
			continue
		}
		entry, ok := h.overlay[op.Key]
		if !ok || entry.deleted {
			continue
		}
		out = append(out, types.RecordEntry{Key: op.Key, Record: entry.record})
	}
	return out
}
