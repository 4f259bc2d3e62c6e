package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/log"
	"github.com/bucketdb/bucketdb/pkg/metrics"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// OnErrorFunc is notified whenever a bucket snapshot fails to flush. The
// bucket remains dirty and is retried on the next debounce window.
type OnErrorFunc func(bucket string, err error)

// Coordinator is the persistence coordinator: it watches the
// event bus for mutations, tracks which buckets are dirty, and flushes a
// debounced, coalesced snapshot of each dirty bucket through an Adapter.
// Writes to distinct buckets run concurrently; the coordinator itself holds
// no bucket state, it only calls back into whatever was registered via
// RegisterBucket.
type Coordinator struct {
	adapter       Adapter
	storeName     string
	schemaVersion int
	debounce      time.Duration
	onError       OnErrorFunc
	logger        zerolog.Logger

	mu      sync.Mutex
	sources map[string]SnapshotSource
	dirty   map[string]bool
	timer   *time.Timer
	unsub   func()
	stopped bool
}

// Config configures a Coordinator.
type Config struct {
	Adapter       Adapter
	Bus           *events.Bus
	StoreName     string
	SchemaVersion int
	// Debounce is the delay between the event that first dirties a bucket
	// and the flush; events arriving within it join that flush without
	// extending it. Defaults to 100ms when zero.
	Debounce time.Duration
	OnError  OnErrorFunc
}

// New creates a Coordinator and subscribes it to every bucket mutation
// event on bus. The caller must call RegisterBucket for every persisted
// bucket before mutations against it occur, and must call Stop to flush
// remaining dirty buckets and close the adapter.
func New(cfg Config) *Coordinator {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	c := &Coordinator{
		adapter:       cfg.Adapter,
		storeName:     cfg.StoreName,
		schemaVersion: cfg.SchemaVersion,
		debounce:      debounce,
		onError:       cfg.OnError,
		logger:        log.WithComponent("persist"),
		sources:       make(map[string]SnapshotSource),
		dirty:         make(map[string]bool),
	}
	c.unsub = cfg.Bus.Subscribe("bucket.*.*", c.onEvent)
	return c
}

// RegisterBucket opts a bucket into persistence. Buckets never registered
// are ignored by the coordinator even if they mutate, which is how
// PersistenceOptOut is honored: the store simply never
// registers an opted-out bucket.
func (c *Coordinator) RegisterBucket(name string, source SnapshotSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = source
}

// LoadBucket reads a previously persisted snapshot for bucket, returning
// (nil, nil) if none exists yet.
func (c *Coordinator) LoadBucket(ctx context.Context, bucket string) (*types.Envelope, error) {
	return c.adapter.Load(ctx, EnvelopeKey(c.storeName, bucket))
}

func (c *Coordinator) onEvent(ev events.Event) {
	c.markDirty(ev.Bucket)
}

func (c *Coordinator) markDirty(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if _, ok := c.sources[bucket]; !ok {
		return
	}
	c.dirty[bucket] = true
	c.ensureTimerLocked()
}

// ensureTimerLocked starts the debounce timer if one is not already
// running. Must be called with c.mu held.
func (c *Coordinator) ensureTimerLocked() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.debounce, c.fire)
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	names := make([]string, 0, len(c.dirty))
	for name := range c.dirty {
		names = append(names, name)
	}
	c.dirty = make(map[string]bool)
	c.timer = nil
	c.mu.Unlock()

	c.flush(context.Background(), names)
}

// flush snapshots and saves every named bucket concurrently, blocking until
// all attempts complete. A bucket whose save fails is re-marked dirty so it
// is retried on the next debounce window.
func (c *Coordinator) flush(ctx context.Context, names []string) {
	var wg sync.WaitGroup
	for _, name := range names {
		c.mu.Lock()
		src, ok := c.sources[name]
		c.mu.Unlock()
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, src SnapshotSource) {
			defer wg.Done()
			c.flushOne(ctx, name, src)
		}(name, src)
	}
	wg.Wait()
}

func (c *Coordinator) flushOne(ctx context.Context, name string, src SnapshotSource) {
	state, err := src.Snapshot(ctx)
	if err != nil {
		c.reportError(name, err)
		c.retryLater(name)
		return
	}
	env := types.Envelope{
		State: state,
		Metadata: types.EnvelopeMetadata{
			PersistedAt:   time.Now().UnixMilli(),
			StoreName:     c.storeName,
			SchemaVersion: c.schemaVersion,
		},
	}

	timer := metrics.NewTimer()
	err = c.adapter.Save(ctx, EnvelopeKey(c.storeName, name), env)
	timer.ObserveDuration(metrics.PersistenceFlushDuration)

	if err != nil {
		metrics.PersistenceFlushErrorsTotal.WithLabelValues(name).Inc()
		c.reportError(name, err)
		c.retryLater(name)
	}
}

// retryLater re-marks a failed bucket dirty and re-arms the debounce so
// the flush is retried without waiting for another mutation.
func (c *Coordinator) retryLater(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.dirty[name] = true
	c.ensureTimerLocked()
}

func (c *Coordinator) reportError(bucket string, err error) {
	c.logger.Error().Err(err).Str("bucket", bucket).Msg("persistence flush failed")
	if c.onError != nil {
		c.onError(bucket, err)
	}
}

// Stop cancels the debounce timer, synchronously flushes every registered
// bucket (not just the currently dirty ones, so the final snapshots are
// complete), and closes the adapter. Bucket actors must still be alive to
// answer the snapshot requests; the store stops them only after Stop
// returns.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	c.dirty = make(map[string]bool)
	c.mu.Unlock()

	c.unsub()
	c.flush(ctx, names)
	return c.adapter.Close()
}
