package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bucketdb/bucketdb/pkg/types"
)

func TestWildcardMatching(t *testing.T) {
	bus := New(nil)
	var exactHits, bucketHits, allHits int

	bus.Subscribe("bucket.users.inserted", func(Event) { exactHits++ })
	bus.Subscribe("bucket.users.*", func(Event) { bucketHits++ })
	bus.Subscribe("bucket.*.*", func(Event) { allHits++ })

	ev := Event{Bucket: "users", Kind: Inserted, Key: "1"}
	bus.Publish(ev.Topic(), ev)

	assert.Equal(t, 1, exactHits)
	assert.Equal(t, 1, bucketHits)
	assert.Equal(t, 1, allHits)

	ev2 := Event{Bucket: "orders", Kind: Updated, Key: "2"}
	bus.Publish(ev2.Topic(), ev2)

	assert.Equal(t, 1, exactHits)
	assert.Equal(t, 1, bucketHits)
	assert.Equal(t, 2, allHits)
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	bus := New(nil)
	var hits int
	unsub := bus.Subscribe("bucket.*.*", func(Event) { hits++ })

	ev := Event{Bucket: "users", Kind: Inserted, Key: "1"}
	bus.Publish(ev.Topic(), ev)
	assert.Equal(t, 1, hits)

	unsub()
	unsub()

	bus.Publish(ev.Topic(), ev)
	assert.Equal(t, 1, hits)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	var errs []string
	bus := New(func(pattern string, recovered any) {
		errs = append(errs, pattern)
	})

	var secondRan bool
	bus.Subscribe("bucket.*.*", func(Event) { panic("boom") })
	bus.Subscribe("bucket.*.*", func(Event) { secondRan = true })

	ev := Event{Bucket: "users", Kind: Inserted, Key: "1", Record: &types.Record{}}
	assert.NotPanics(t, func() { bus.Publish(ev.Topic(), ev) })
	assert.True(t, secondRan)
	assert.Len(t, errs, 1)
}
