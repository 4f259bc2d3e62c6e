// Package txn implements atomic multi-bucket transactions.
//
// A transaction buffers writes per bucket and exposes read-your-own-writes
// semantics through an overlay: reads consult the buffer first and fall
// through to the live bucket actor. Nothing is visible to other readers,
// and no events fire, until Commit.
//
// Commit sends each bucket's buffer as a single commit_batch message,
// bucket by bucket in first-use order. Each bucket actor validates the
// batch's preconditions (existence, expected versions) and applies it
// atomically within one mailbox turn, returning an undo log and the
// events it would have emitted. If a later bucket fails, the undo logs
// of the buckets already committed are replayed in reverse, best-effort.
// Events are published only after every bucket has committed, so event
// subscribers (including the persistence coordinator) never observe a
// failed transaction.
package txn
