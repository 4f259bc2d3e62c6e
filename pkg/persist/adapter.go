// Package persist implements the persistence coordinator
// and the storage adapter contract that external storage
// backends implement.
package persist

import (
	"context"

	"github.com/bucketdb/bucketdb/pkg/types"
)

// Adapter is the storage adapter contract. Implementations must tolerate
// concurrent Save calls for distinct keys and must make Save
// idempotent on retry.
type Adapter interface {
	Save(ctx context.Context, key string, env types.Envelope) error
	// Load returns (nil, nil) when key is absent — that is the normal,
	// expected case on first start, not an error.
	Load(ctx context.Context, key string) (*types.Envelope, error)
	Close() error
}

// SnapshotSource is implemented by a bucket actor: an atomic, point-in-time
// capture of its table and autoincrement counter.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (types.SnapshotState, error)
}

// EnvelopeKey is the storage key under which a bucket's envelope lives.
func EnvelopeKey(storeName, bucketName string) string {
	return storeName + ":bucket:" + bucketName
}
