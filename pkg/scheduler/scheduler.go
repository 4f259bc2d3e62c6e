package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bucketdb/bucketdb/pkg/log"
)

// Purger is implemented by a bucket actor: delete every expired record
// and report how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Scheduler periodically purges expired records from every registered
// TTL bucket. Scheduling uses chained one-shot timers:
// the next tick is armed only after the current one completes, so a slow
// purge cycle can never pile up overlapping ticks.
type Scheduler struct {
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	purgers map[string]Purger
	order   []string
	timer   *time.Timer
	stopped bool
}

// New creates a scheduler. interval <= 0 disables automatic checks;
// Tick still works on demand.
func New(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		logger:   log.WithComponent("ttl"),
		purgers:  make(map[string]Purger),
	}
}

// Register adds a TTL bucket to the tick rotation.
func (s *Scheduler) Register(name string, p Purger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purgers[name]; !ok {
		s.order = append(s.order, name)
	}
	s.purgers[name] = p
}

// Start arms the first timer. No-op when automatic checks are disabled.
func (s *Scheduler) Start() {
	if s.interval <= 0 {
		return
	}
	s.schedule()
}

func (s *Scheduler) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = time.AfterFunc(s.interval, s.run)
}

func (s *Scheduler) run() {
	s.Tick(context.Background())
	s.schedule()
}

// Tick purges every registered bucket once and returns the total count
// removed. A failing bucket is logged and skipped so one bad bucket
// cannot stall the rotation.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	purgers := make(map[string]Purger, len(s.purgers))
	for k, v := range s.purgers {
		purgers[k] = v
	}
	s.mu.Unlock()

	total := 0
	for _, name := range names {
		n, err := purgers[name].PurgeExpired(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("bucket", name).Msg("TTL purge failed")
			continue
		}
		if n > 0 {
			s.logger.Debug().Str("bucket", name).Int("purged", n).Msg("TTL purge removed expired records")
		}
		total += n
	}
	return total
}

// Stop cancels the pending timer. A tick already running completes; no
// further ticks are armed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
