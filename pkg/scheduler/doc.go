// Package scheduler runs time-to-live expiration for the store.
//
// One scheduler serves every TTL-enabled bucket. It asks each registered
// bucket actor to purge its expired records on a fixed cadence, using a
// chained one-shot timer rather than a repeating ticker: the next check
// is armed only after the previous one finishes, so purge cycles never
// overlap no matter how slow a bucket responds.
//
// Expired records are removed through the bucket actor's normal delete
// path and therefore emit ordinary deleted events; there is no separate
// "expired" event kind.
package scheduler
