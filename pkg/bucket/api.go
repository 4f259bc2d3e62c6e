package bucket

import (
	"context"

	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Get returns the record stored at key, if any.
func (a *Actor) Get(ctx context.Context, key string) (*types.Record, bool, error) {
	v, err := a.send(ctx, msgGet, key)
	if err != nil {
		return nil, false, err
	}
	r := v.(getResult)
	return r.record, r.ok, nil
}

// All returns every record in insertion order.
func (a *Actor) All(ctx context.Context) ([]types.RecordEntry, error) {
	v, err := a.send(ctx, msgAll, nil)
	if err != nil {
		return nil, err
	}
	return v.([]types.RecordEntry), nil
}

// Where returns every record matching f, in insertion order.
func (a *Actor) Where(ctx context.Context, f Filter) ([]types.RecordEntry, error) {
	v, err := a.send(ctx, msgWhere, f)
	if err != nil {
		return nil, err
	}
	return v.([]types.RecordEntry), nil
}

// FindOne returns the first record matching f in insertion order.
func (a *Actor) FindOne(ctx context.Context, f Filter) (*types.Record, bool, error) {
	v, err := a.send(ctx, msgFindOne, f)
	if err != nil {
		return nil, false, err
	}
	r := v.(getResult)
	return r.record, r.ok, nil
}

// Count returns the number of records, or the number matching f if f is
// non-nil.
func (a *Actor) Count(ctx context.Context, f *Filter) (int, error) {
	v, err := a.send(ctx, msgCount, f)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Insert validates data against the bucket schema and adds a new record,
// evicting the oldest records first if max_size would otherwise be
// exceeded, then emits an inserted event.
func (a *Actor) Insert(ctx context.Context, data map[string]any) (*types.Record, error) {
	v, err := a.send(ctx, msgInsert, data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*types.Record), nil
}

// Update applies changes to the record at key and emits an updated event.
func (a *Actor) Update(ctx context.Context, key string, changes map[string]any) (*types.Record, error) {
	v, err := a.send(ctx, msgUpdate, updatePayload{key: key, changes: changes})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*types.Record), nil
}

// Delete removes the record at key, if present, and emits a deleted
// event. Deleting an absent key is a no-op.
func (a *Actor) Delete(ctx context.Context, key string) error {
	_, err := a.send(ctx, msgDelete, key)
	return err
}

// Stats returns a point-in-time summary of the bucket.
func (a *Actor) Stats(ctx context.Context) (Stats, error) {
	v, err := a.send(ctx, msgStats, nil)
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

// PurgeExpired deletes every record whose expires_at has passed and
// returns the count removed.
func (a *Actor) PurgeExpired(ctx context.Context) (int, error) {
	v, err := a.send(ctx, msgPurgeExpired, nil)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Snapshot returns an atomic, point-in-time capture of the table and
// autoincrement counter. It implements persist.SnapshotSource.
func (a *Actor) Snapshot(ctx context.Context) (types.SnapshotState, error) {
	v, err := a.send(ctx, msgGetSnapshot, nil)
	if err != nil {
		return types.SnapshotState{}, err
	}
	return v.(types.SnapshotState), nil
}

// GetAutoincrementCounter returns the bucket's current autoincrement
// counter.
func (a *Actor) GetAutoincrementCounter(ctx context.Context) (int64, error) {
	v, err := a.send(ctx, msgGetAutoincrementCounter, nil)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// CommitBatch validates and applies ops atomically with respect to this
// bucket: if any precondition fails, or any apply step fails, the bucket
// is left exactly as it was and the error is returned. On success it
// returns the inverse operations (for a caller-driven cross-bucket
// rollback) and the events that would be published, without publishing
// them — the transaction coordinator publishes those only once every
// participating bucket has committed.
func (a *Actor) CommitBatch(ctx context.Context, ops []BatchOp, autoincrementOverride *int64) ([]BatchOp, []events.Event, error) {
	v, err := a.send(ctx, msgCommitBatch, commitBatchPayload{ops: ops, autoincrementOverride: autoincrementOverride})
	if err != nil {
		return nil, nil, err
	}
	r := v.(commitResult)
	return r.undo, r.events, nil
}

// RollbackBatch applies undoOps in reverse, bypassing validation, to
// restore the bucket to its state before a CommitBatch that a sibling
// bucket's own commit later failed to honor. Best-effort: a failing
// individual undo is swallowed so the remaining undos still apply.
func (a *Actor) RollbackBatch(ctx context.Context, undoOps []BatchOp) error {
	_, err := a.send(ctx, msgRollbackBatch, undoOps)
	return err
}
