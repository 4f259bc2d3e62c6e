package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bucketdb/bucketdb/pkg/bucket"
	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/log"
	"github.com/bucketdb/bucketdb/pkg/persist"
	"github.com/bucketdb/bucketdb/pkg/query"
	"github.com/bucketdb/bucketdb/pkg/scheduler"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/txn"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Config configures a Store.
type Config struct {
	// Name identifies the store; it namespaces persistence keys
	// (<name>:bucket:<bucket>).
	Name string

	// Adapter enables snapshot persistence when non-nil.
	Adapter persist.Adapter

	// PersistDebounce is the delay between the first mutation that dirties
	// a bucket and the flush; later mutations within it do not extend it.
	// Zero means the 100ms default.
	PersistDebounce time.Duration

	// SchemaVersion is stamped into every persisted envelope.
	SchemaVersion int

	// TTLCheckInterval enables the periodic TTL purge when positive.
	// Zero disables automatic checks; PurgeTTL still works on demand.
	TTLCheckInterval time.Duration

	// OnError receives storage adapter failures, which never interrupt
	// the store — it keeps serving in memory. May be nil.
	OnError func(bucket string, err error)
}

// Store is the top-level handle: it owns the event bus, one actor per
// defined bucket, the query engine, the TTL scheduler, and (when an
// adapter is configured) the persistence coordinator.
type Store struct {
	cfg    Config
	logger zerolog.Logger

	bus     *events.Bus
	engine  *query.Engine
	persist *persist.Coordinator
	ttl     *scheduler.Scheduler

	mu      sync.Mutex
	buckets map[string]*bucket.Actor
	order   []string
	stopped bool
}

// New creates and starts a store. Buckets are defined afterwards with
// DefineBucket; the store is usable immediately.
func New(cfg Config) *Store {
	logger := log.WithComponent("store")
	bus := events.New(func(pattern string, recovered any) {
		logger.Error().Str("pattern", pattern).Any("panic", recovered).Msg("event handler panicked")
	})

	s := &Store{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		engine:  query.New(bus),
		ttl:     scheduler.New(cfg.TTLCheckInterval),
		buckets: make(map[string]*bucket.Actor),
	}
	if cfg.Adapter != nil {
		s.persist = persist.New(persist.Config{
			Adapter:       cfg.Adapter,
			Bus:           bus,
			StoreName:     cfg.Name,
			SchemaVersion: cfg.SchemaVersion,
			Debounce:      cfg.PersistDebounce,
			OnError:       cfg.OnError,
		})
	}
	s.ttl.Start()
	return s
}

// Bus exposes the store's event bus for application-level subscribers.
func (s *Store) Bus() *events.Bus { return s.bus }

// DefineBucket creates and starts the actor for def. If persistence is
// configured and the bucket is not opted out, the prior snapshot is
// loaded (and indexes rebuilt) before the actor accepts messages; no
// events are emitted for loaded records.
func (s *Store) DefineBucket(ctx context.Context, def types.Definition) (*bucket.Actor, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, &storeerr.StoreStoppedError{}
	}
	if _, exists := s.buckets[def.Name]; exists {
		s.mu.Unlock()
		return nil, &storeerr.ValidationError{Field: "name", Reason: "bucket already defined"}
	}
	actor := bucket.New(def, s.bus)
	s.buckets[def.Name] = actor
	s.order = append(s.order, def.Name)
	s.mu.Unlock()

	persisted := s.persist != nil && !def.PersistenceOptOut
	var loader bucket.Loader
	if persisted {
		loader = func(ctx context.Context) (*types.Envelope, error) {
			env, err := s.persist.LoadBucket(ctx, def.Name)
			if err != nil {
				if s.cfg.OnError != nil {
					s.cfg.OnError(def.Name, err)
				}
				return nil, err
			}
			return env, nil
		}
	}
	actor.Start(ctx, loader)

	s.engine.RegisterBucket(def.Name, actor)
	if persisted {
		s.persist.RegisterBucket(def.Name, actor)
	}
	if def.TTL > 0 {
		s.ttl.Register(def.Name, actor)
	}
	s.logger.Info().Str("bucket", def.Name).Bool("persisted", persisted).Msg("bucket defined")
	return actor, nil
}

// Bucket returns the actor for name.
func (s *Store) Bucket(name string) (*bucket.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.buckets[name]
	if !ok {
		return nil, &storeerr.BucketNotDefinedError{Bucket: name}
	}
	return a, nil
}

func (s *Store) resolve(name string) (*bucket.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.buckets[name]
	return a, ok
}

// DefineQuery registers a named query function with the query engine.
func (s *Store) DefineQuery(name string, fn query.Func) error {
	return s.engine.Define(name, fn)
}

// Subscribe registers a live subscription to a named query. The initial
// result is evaluated but not delivered; the callback fires only when a
// later change produces a different result.
func (s *Store) Subscribe(ctx context.Context, name string, params any, cb query.Callback) (func(), error) {
	return s.engine.Subscribe(ctx, name, params, cb)
}

// RunQuery executes a named query once, without subscribing.
func (s *Store) RunQuery(ctx context.Context, name string, params any) (any, error) {
	return s.engine.RunQuery(ctx, name, params)
}

// Settle blocks until every query re-evaluation scheduled so far has
// completed. Deterministic-testing hook.
func (s *Store) Settle() { s.engine.Settle() }

// Begin opens a new transaction over this store's buckets.
func (s *Store) Begin() *txn.Txn {
	return txn.New(s.resolve, s.bus)
}

// PurgeTTL runs one TTL purge pass over every TTL bucket and returns the
// total number of records removed.
func (s *Store) PurgeTTL(ctx context.Context) int {
	return s.ttl.Tick(ctx)
}

// Stats collects a point-in-time summary from every bucket, in
// definition order.
func (s *Store) Stats(ctx context.Context) ([]bucket.Stats, error) {
	s.mu.Lock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	out := make([]bucket.Stats, 0, len(names))
	for _, name := range names {
		a, ok := s.resolve(name)
		if !ok {
			continue
		}
		st, err := a.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Stop shuts the store down: the TTL timer and persistence debounce are
// cancelled, a final synchronous flush captures every persisted bucket,
// and only then are the bucket actors stopped — they must still be alive
// to answer the flush's snapshot requests. Idempotent.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	actors := make([]*bucket.Actor, 0, len(s.order))
	for _, name := range s.order {
		actors = append(actors, s.buckets[name])
	}
	s.mu.Unlock()

	s.ttl.Stop()
	s.engine.Settle()
	s.engine.Stop()

	var persistErr error
	if s.persist != nil {
		persistErr = s.persist.Stop(ctx)
	}

	for _, a := range actors {
		a.Stop()
	}
	s.logger.Info().Str("store", s.cfg.Name).Msg("store stopped")
	return persistErr
}
