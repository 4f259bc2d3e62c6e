// Package store assembles the reactive data layer: schema-validated
// buckets with secondary indexes, change events, reactive queries,
// multi-bucket transactions, TTL expiration, size-bounded eviction, and
// debounced snapshot persistence.
//
// A Store owns one event bus and one actor per bucket. All mutations for
// one bucket serialize through its actor's mailbox; the query engine,
// persistence coordinator, and application subscribers observe changes
// only through published events. Shutdown ordering matters: Stop flushes
// persistence before stopping the actors, because the final flush asks
// each actor for a snapshot.
package store
