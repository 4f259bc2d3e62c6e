package bucket

import (
	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
)

// commitBatch is the actor-side half of the transaction protocol.
// ops are already validated and prepared by the caller
// (the transaction coordinator, against its cached copy of the bucket
// definition); this method only enforces the preconditions that depend
// on live state — existence and expected_version — then applies.
func (a *Actor) commitBatch(ops []BatchOp, autoincrementOverride *int64) ([]BatchOp, []events.Event, error) {
	// The precondition pass simulates the batch so chained operations on
	// one key (insert then update, delete then re-insert) validate against
	// the state each op would actually see, while the table stays untouched
	// until every precondition has passed.
	type simState struct {
		exists  bool
		version int64
	}
	sim := make(map[string]simState)
	lookup := func(key string) simState {
		if s, ok := sim[key]; ok {
			return s
		}
		rec, ok := a.table[key]
		if !ok {
			return simState{}
		}
		return simState{exists: true, version: rec.Version}
	}
	for _, op := range ops {
		cur := lookup(op.Key)
		switch op.Kind {
		case OpInsert:
			if cur.exists {
				return nil, nil, &storeerr.DuplicateKeyError{Bucket: a.def.Name, Key: op.Key}
			}
			sim[op.Key] = simState{exists: true, version: op.Prepared.Version}
		case OpUpdate, OpDelete:
			if !cur.exists {
				if op.Kind == OpDelete {
					continue // idempotent, matches the standalone delete protocol
				}
				return nil, nil, &storeerr.NotFoundError{Bucket: a.def.Name, Key: op.Key}
			}
			if op.ExpectedVersion != nil && cur.version != *op.ExpectedVersion {
				return nil, nil, &storeerr.VersionConflictError{
					Bucket:          a.def.Name,
					Key:             op.Key,
					ExpectedVersion: *op.ExpectedVersion,
					ActualVersion:   cur.version,
				}
			}
			if op.Kind == OpUpdate {
				sim[op.Key] = simState{exists: true, version: op.Prepared.Version}
			} else {
				sim[op.Key] = simState{}
			}
		}
	}

	var undo []BatchOp
	var evs []events.Event
	for _, op := range ops {
		opUndo, opEvs, err := a.applyBatchOp(op)
		if err != nil {
			a.rollbackBatch(undo)
			return nil, nil, err
		}
		undo = append(undo, opUndo...)
		evs = append(evs, opEvs...)
	}

	if autoincrementOverride != nil && *autoincrementOverride > a.counter {
		a.counter = *autoincrementOverride
	}

	return undo, evs, nil
}

// applyBatchOp applies one already-validated operation and returns its
// inverse (possibly several, if an insert triggered eviction) in forward
// order, plus the events it would emit.
func (a *Actor) applyBatchOp(op BatchOp) ([]BatchOp, []events.Event, error) {
	switch op.Kind {
	case OpInsert:
		evicted, err := a.applyInsert(op.Key, op.Prepared)
		if err != nil {
			return nil, nil, err
		}
		undo := []BatchOp{{Kind: OpDelete, Key: op.Key}}
		var evs []events.Event
		for _, ev := range evicted {
			undo = append(undo, BatchOp{Kind: OpInsert, Key: ev.Key, Prepared: ev.Record})
			evs = append(evs, ev)
		}
		evs = append(evs, events.Event{Bucket: a.def.Name, Kind: events.Inserted, Key: op.Key, Record: op.Prepared})
		return undo, evs, nil

	case OpUpdate:
		existing := a.table[op.Key]
		if err := a.indexer.UpdateRecord(op.Key, existing, op.Prepared); err != nil {
			return nil, nil, err
		}
		a.table[op.Key] = op.Prepared
		undo := []BatchOp{{Kind: OpUpdate, Key: op.Key, Prepared: existing}}
		ev := events.Event{Bucket: a.def.Name, Kind: events.Updated, Key: op.Key, Old: existing, New: op.Prepared}
		return undo, []events.Event{ev}, nil

	case OpDelete:
		existing, exists := a.table[op.Key]
		if !exists {
			return nil, nil, nil
		}
		a.indexer.RemoveRecord(op.Key, existing)
		delete(a.table, op.Key)
		a.removeFromOrder(op.Key)
		undo := []BatchOp{{Kind: OpInsert, Key: op.Key, Prepared: existing}}
		ev := events.Event{Bucket: a.def.Name, Kind: events.Deleted, Key: op.Key, Record: existing}
		return undo, []events.Event{ev}, nil
	}
	return nil, nil, nil
}

// rollbackBatch applies undoOps in reverse, bypassing validation, to
// restore byte-identical prior state. Individual failures are swallowed
// so the remaining undos still apply.
func (a *Actor) rollbackBatch(undoOps []BatchOp) {
	for i := len(undoOps) - 1; i >= 0; i-- {
		a.rollbackApply(undoOps[i])
	}
}

func (a *Actor) rollbackApply(op BatchOp) {
	defer func() { _ = recover() }()
	switch op.Kind {
	case OpInsert:
		_ = a.indexer.AddRecord(op.Key, op.Prepared)
		if _, exists := a.table[op.Key]; !exists {
			a.order = append(a.order, op.Key)
		}
		a.table[op.Key] = op.Prepared
	case OpUpdate:
		if old, ok := a.table[op.Key]; ok {
			a.indexer.RemoveRecord(op.Key, old)
		}
		_ = a.indexer.AddRecord(op.Key, op.Prepared)
		a.table[op.Key] = op.Prepared
	case OpDelete:
		if rec, ok := a.table[op.Key]; ok {
			a.indexer.RemoveRecord(op.Key, rec)
			delete(a.table, op.Key)
			a.removeFromOrder(op.Key)
		}
	}
}
