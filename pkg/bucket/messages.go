package bucket

import (
	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/types"
)

const (
	msgGet                     = "get"
	msgAll                     = "all"
	msgWhere                   = "where"
	msgFindOne                 = "find_one"
	msgCount                   = "count"
	msgInsert                  = "insert"
	msgUpdate                  = "update"
	msgDelete                  = "delete"
	msgStats                   = "stats"
	msgPurgeExpired            = "purge_expired"
	msgGetSnapshot             = "get_snapshot"
	msgCommitBatch             = "commit_batch"
	msgRollbackBatch           = "rollback_batch"
	msgGetAutoincrementCounter = "get_autoincrement_counter"
)

type updatePayload struct {
	key     string
	changes map[string]any
}

// OpKind is the kind of one batched write operation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// BatchOp is one operation within a commit_batch/rollback_batch call. For
// a forward Insert/Update, Prepared is the fully-prepared target record
// (already validated by pkg/validate against the transaction handle's
// cached definition). For a forward Delete, Prepared is unused.
// ExpectedVersion, when set, is the version the caller believes is
// current; a mismatch fails the whole batch with VersionConflictError.
//
// The same struct doubles as an undo operation: rollback_batch applies
// undo ops bypassing validation, restoring Prepared byte-identical.
type BatchOp struct {
	Kind            OpKind
	Key             string
	Prepared        *types.Record
	ExpectedVersion *int64
}

type commitBatchPayload struct {
	ops                   []BatchOp
	autoincrementOverride *int64
}

// commitResult carries the undo log and the events that would have been
// published, for the caller (the transaction coordinator) to publish
// itself only once every participating bucket has committed.
type commitResult struct {
	undo   []BatchOp
	events []events.Event
}
