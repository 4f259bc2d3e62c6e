package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePurger struct {
	count int32
	calls int32
	err   error
}

func (f *fakePurger) PurgeExpired(_ context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return 0, f.err
	}
	return int(atomic.LoadInt32(&f.count)), nil
}

func TestTickSumsAcrossBuckets(t *testing.T) {
	s := New(0)
	s.Register("sessions", &fakePurger{count: 2})
	s.Register("tokens", &fakePurger{count: 3})

	assert.Equal(t, 5, s.Tick(context.Background()))
}

func TestTickSwallowsPerBucketFailures(t *testing.T) {
	s := New(0)
	bad := &fakePurger{err: errors.New("actor stopped")}
	good := &fakePurger{count: 4}
	s.Register("bad", bad)
	s.Register("good", good)

	total := s.Tick(context.Background())

	assert.Equal(t, 4, total)
	assert.Equal(t, int32(1), atomic.LoadInt32(&good.calls), "a failing bucket must not stall the rotation")
}

func TestZeroIntervalDisablesAutomaticChecks(t *testing.T) {
	p := &fakePurger{}
	s := New(0)
	s.Register("sessions", p)
	s.Start()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&p.calls))
}

func TestChainedTimersKeepTicking(t *testing.T) {
	p := &fakePurger{}
	s := New(5 * time.Millisecond)
	s.Register("sessions", p)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&p.calls) >= 2
	}, time.Second, time.Millisecond)
}

func TestStopCancelsPendingTimer(t *testing.T) {
	p := &fakePurger{}
	s := New(5 * time.Millisecond)
	s.Register("sessions", p)
	s.Start()
	s.Stop()

	calls := atomic.LoadInt32(&p.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&p.calls))
}

func TestRegisterIsIdempotentPerName(t *testing.T) {
	s := New(0)
	first := &fakePurger{count: 1}
	second := &fakePurger{count: 10}
	s.Register("sessions", first)
	s.Register("sessions", second)

	assert.Equal(t, 10, s.Tick(context.Background()), "later registration replaces the purger without duplicating the rotation entry")
}
