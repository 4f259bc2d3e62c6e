// Package log wraps zerolog with the scoped child loggers the other
// bucketdb packages use: log.WithComponent("query") gives the query
// engine, TTL scheduler, persistence coordinator, transaction coordinator
// and store a component-tagged logger, and log.WithBucket("users") gives
// each bucket actor a bucket-tagged one. The returned values are plain
// zerolog.Logger values.
package log
