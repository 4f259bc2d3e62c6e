package query

import (
	"context"
	"sync"

	"github.com/bucketdb/bucketdb/pkg/bucket"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Context is the read-only view a query function sees. Every method
// records a dependency into the enclosing evaluation before delegating
// to the bucket actor: Get records the pair (bucket, key); every other
// read records bucket as a whole.
type Context interface {
	Get(bucketName, key string) (*types.Record, bool, error)
	All(bucketName string) ([]types.RecordEntry, error)
	Where(bucketName string, f bucket.Filter) ([]types.RecordEntry, error)
	FindOne(bucketName string, f bucket.Filter) (*types.Record, bool, error)
	Count(bucketName string, f *bucket.Filter) (int, error)
	First(bucketName string) (*types.Record, bool, error)
	Last(bucketName string) (*types.Record, bool, error)
	Page(bucketName string, offset, limit int) ([]types.RecordEntry, error)
}

// deps is the dependency set an evaluation accumulates. If a bucket
// appears at both granularities, bucket-level subsumes the record-level
// entries for it (normalize applies that rule once capture is done).
type deps struct {
	bucketLevel map[string]struct{}
	recordLevel map[string]map[string]struct{} // bucket -> keys
}

func newDeps() *deps {
	return &deps{bucketLevel: make(map[string]struct{}), recordLevel: make(map[string]map[string]struct{})}
}

func (d *deps) addBucket(name string) {
	d.bucketLevel[name] = struct{}{}
}

func (d *deps) addRecord(bucketName, key string) {
	if _, ok := d.bucketLevel[bucketName]; ok {
		return // bucket-level already subsumes this bucket
	}
	m, ok := d.recordLevel[bucketName]
	if !ok {
		m = make(map[string]struct{})
		d.recordLevel[bucketName] = m
	}
	m[key] = struct{}{}
}

// normalize drops record-level entries for any bucket that is also a
// bucket-level dependency.
func (d *deps) normalize() {
	for b := range d.bucketLevel {
		delete(d.recordLevel, b)
	}
}

func (d *deps) equal(other *deps) bool {
	if len(d.bucketLevel) != len(other.bucketLevel) {
		return false
	}
	for b := range d.bucketLevel {
		if _, ok := other.bucketLevel[b]; !ok {
			return false
		}
	}
	if len(d.recordLevel) != len(other.recordLevel) {
		return false
	}
	for b, keys := range d.recordLevel {
		ok, exists := other.recordLevel[b]
		if !exists || len(ok) != len(keys) {
			return false
		}
		for k := range keys {
			if _, ok := ok[k]; !ok {
				return false
			}
		}
	}
	return true
}

// trackingContext is the Context implementation handed to a query
// function during one evaluation. One evaluation owns one instance; mu
// guards the dependency set, so reads issued concurrently within that
// evaluation are all recorded.
type trackingContext struct {
	ctx     context.Context
	buckets func(name string) (*bucket.Actor, bool)
	mu      sync.Mutex
	deps    *deps
}

func newTrackingContext(ctx context.Context, buckets func(string) (*bucket.Actor, bool)) *trackingContext {
	return &trackingContext{ctx: ctx, buckets: buckets, deps: newDeps()}
}

func (t *trackingContext) resolve(name string) (*bucket.Actor, error) {
	a, ok := t.buckets(name)
	if !ok {
		return nil, &storeerr.BucketNotDefinedError{Bucket: name}
	}
	return a, nil
}

func (t *trackingContext) Get(bucketName, key string) (*types.Record, bool, error) {
	a, err := t.resolve(bucketName)
	if err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	t.deps.addRecord(bucketName, key)
	t.mu.Unlock()
	return a.Get(t.ctx, key)
}

func (t *trackingContext) All(bucketName string) ([]types.RecordEntry, error) {
	a, err := t.resolve(bucketName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.deps.addBucket(bucketName)
	t.mu.Unlock()
	return a.All(t.ctx)
}

func (t *trackingContext) Where(bucketName string, f bucket.Filter) ([]types.RecordEntry, error) {
	a, err := t.resolve(bucketName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.deps.addBucket(bucketName)
	t.mu.Unlock()
	return a.Where(t.ctx, f)
}

func (t *trackingContext) FindOne(bucketName string, f bucket.Filter) (*types.Record, bool, error) {
	a, err := t.resolve(bucketName)
	if err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	t.deps.addBucket(bucketName)
	t.mu.Unlock()
	return a.FindOne(t.ctx, f)
}

func (t *trackingContext) Count(bucketName string, f *bucket.Filter) (int, error) {
	a, err := t.resolve(bucketName)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.deps.addBucket(bucketName)
	t.mu.Unlock()
	return a.Count(t.ctx, f)
}

// First returns the oldest record in insertion order.
func (t *trackingContext) First(bucketName string) (*types.Record, bool, error) {
	entries, err := t.All(bucketName)
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	return entries[0].Record, true, nil
}

// Last returns the newest record in insertion order.
func (t *trackingContext) Last(bucketName string) (*types.Record, bool, error) {
	entries, err := t.All(bucketName)
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	return entries[len(entries)-1].Record, true, nil
}

// Page returns up to limit records starting at offset, in insertion
// order. A limit <= 0 means no bound.
func (t *trackingContext) Page(bucketName string, offset, limit int) ([]types.RecordEntry, error) {
	entries, err := t.All(bucketName)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}
