package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketdb/bucketdb/pkg/bucket"
	"github.com/bucketdb/bucketdb/pkg/events"
	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
)

type fixture struct {
	bus    *events.Bus
	actors map[string]*bucket.Actor
}

func newFixture(t *testing.T, defs ...types.Definition) *fixture {
	t.Helper()
	f := &fixture{bus: events.New(nil), actors: make(map[string]*bucket.Actor)}
	for _, def := range defs {
		a := bucket.New(def, f.bus)
		a.Start(context.Background(), nil)
		t.Cleanup(a.Stop)
		f.actors[def.Name] = a
	}
	return f
}

func (f *fixture) resolve(name string) (*bucket.Actor, bool) {
	a, ok := f.actors[name]
	return a, ok
}

func (f *fixture) begin() *Txn {
	return New(f.resolve, f.bus)
}

func accountsDef(name string) types.Definition {
	return types.Definition{
		Name:       name,
		PrimaryKey: "id",
		Schema: map[string]types.FieldDef{
			"id":    {Type: types.FieldString, Generated: types.GenUUID},
			"email": {Type: types.FieldString, Unique: true},
			"note":  {Type: types.FieldString},
		},
	}
}

func TestReadYourOwnWrites(t *testing.T) {
	f := newFixture(t, accountsDef("accounts"))
	ctx := context.Background()

	tx := f.begin()
	h, err := tx.Bucket("accounts")
	require.NoError(t, err)

	rec, err := h.Insert(ctx, map[string]any{"email": "a@b"})
	require.NoError(t, err)
	key := types.KeyString(rec.Fields["id"])

	got, ok, err := h.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@b", got.Fields["email"])

	// Not visible outside the transaction before commit.
	_, exists, err := f.actors["accounts"].Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	all, err := h.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOverlayMergesUpdatesAndDeletes(t *testing.T) {
	f := newFixture(t, accountsDef("accounts"))
	ctx := context.Background()
	a := f.actors["accounts"]

	r1, err := a.Insert(ctx, map[string]any{"email": "one@x"})
	require.NoError(t, err)
	k1 := types.KeyString(r1.Fields["id"])
	r2, err := a.Insert(ctx, map[string]any{"email": "two@x"})
	require.NoError(t, err)
	k2 := types.KeyString(r2.Fields["id"])

	tx := f.begin()
	h, err := tx.Bucket("accounts")
	require.NoError(t, err)

	_, err = h.Update(ctx, k1, map[string]any{"note": "updated"})
	require.NoError(t, err)
	require.NoError(t, h.Delete(ctx, k2))
	_, err = h.Insert(ctx, map[string]any{"email": "three@x"})
	require.NoError(t, err)

	all, err := h.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, k1, all[0].Key)
	assert.Equal(t, "updated", all[0].Record.Fields["note"])
	assert.Equal(t, "three@x", all[1].Record.Fields["email"], "inserts appear after pre-existing records")

	// Deleted key is absent from the transactional view but still live
	// outside it.
	_, ok, err := h.Get(ctx, k2)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = a.Get(ctx, k2)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := h.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCommitPublishesEventsOnlyOnSuccess(t *testing.T) {
	f := newFixture(t, accountsDef("accounts"))
	ctx := context.Background()

	var published []events.Event
	f.bus.Subscribe("bucket.accounts.*", func(ev events.Event) {
		published = append(published, ev)
	})

	tx := f.begin()
	h, err := tx.Bucket("accounts")
	require.NoError(t, err)
	_, err = h.Insert(ctx, map[string]any{"email": "a@b"})
	require.NoError(t, err)

	assert.Empty(t, published, "no events before commit")
	require.NoError(t, tx.Commit(ctx))
	require.Len(t, published, 1)
	assert.Equal(t, events.Inserted, published[0].Kind)
}

func TestAtomicityAcrossBucketsWithRollback(t *testing.T) {
	f := newFixture(t, accountsDef("a"), accountsDef("b"))
	ctx := context.Background()

	_, err := f.actors["b"].Insert(ctx, map[string]any{"email": "x"})
	require.NoError(t, err)

	var published int
	f.bus.Subscribe("bucket.*.*", func(events.Event) { published++ })

	tx := f.begin()
	ha, err := tx.Bucket("a")
	require.NoError(t, err)
	hb, err := tx.Bucket("b")
	require.NoError(t, err)

	_, err = ha.Insert(ctx, map[string]any{"email": "y"})
	require.NoError(t, err)
	_, err = hb.Insert(ctx, map[string]any{"email": "x"})
	require.NoError(t, err)

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerr.ErrUniqueConstraint))

	// Bucket a's already-applied insert was rolled back; no events leaked.
	n, err := f.actors["a"].Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = f.actors["b"].Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, published)
}

func TestVersionConflictOnConcurrentWrite(t *testing.T) {
	f := newFixture(t, accountsDef("accounts"))
	ctx := context.Background()
	a := f.actors["accounts"]

	rec, err := a.Insert(ctx, map[string]any{"email": "a@b"})
	require.NoError(t, err)
	key := types.KeyString(rec.Fields["id"])

	tx := f.begin()
	h, err := tx.Bucket("accounts")
	require.NoError(t, err)
	_, err = h.Update(ctx, key, map[string]any{"note": "from txn"})
	require.NoError(t, err)

	// A concurrent writer bumps the version before the commit lands.
	_, err = a.Update(ctx, key, map[string]any{"note": "raced"})
	require.NoError(t, err)

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerr.ErrVersionConflict))

	got, ok, err := a.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "raced", got.Fields["note"], "the lost update is reported, not silently overwritten")
}

func TestCommitTwiceFails(t *testing.T) {
	f := newFixture(t, accountsDef("accounts"))
	ctx := context.Background()

	tx := f.begin()
	require.NoError(t, tx.Commit(ctx))
	err := tx.Commit(ctx)
	assert.True(t, errors.Is(err, storeerr.ErrAlreadyCommitted))
}

func TestAbandonedTransactionHasNoEffect(t *testing.T) {
	f := newFixture(t, accountsDef("accounts"))
	ctx := context.Background()

	tx := f.begin()
	h, err := tx.Bucket("accounts")
	require.NoError(t, err)
	_, err = h.Insert(ctx, map[string]any{"email": "a@b"})
	require.NoError(t, err)
	// tx dropped without commit

	n, err := f.actors["accounts"].Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAutoincrementOverrideAdvancesCounter(t *testing.T) {
	def := types.Definition{
		Name:       "tickets",
		PrimaryKey: "id",
		Schema: map[string]types.FieldDef{
			"id": {Type: types.FieldNumber, Generated: types.GenAutoincrement},
		},
	}
	f := newFixture(t, def)
	ctx := context.Background()
	a := f.actors["tickets"]

	_, err := a.Insert(ctx, map[string]any{})
	require.NoError(t, err)

	tx := f.begin()
	h, err := tx.Bucket("tickets")
	require.NoError(t, err)
	r2, err := h.Insert(ctx, map[string]any{})
	require.NoError(t, err)
	r3, err := h.Insert(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), r2.Fields["id"])
	assert.Equal(t, int64(3), r3.Fields["id"])
	require.NoError(t, tx.Commit(ctx))

	c, err := a.GetAutoincrementCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c)

	// The next direct insert continues past the transaction's keys.
	r4, err := a.Insert(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), r4.Fields["id"])
}

func TestBucketNotDefined(t *testing.T) {
	f := newFixture(t)
	tx := f.begin()
	_, err := tx.Bucket("ghost")
	assert.True(t, errors.Is(err, storeerr.ErrBucketNotDefined))
}

func TestInsertDuplicateOfExistingKeyFailsEarly(t *testing.T) {
	def := types.Definition{
		Name:       "kv",
		PrimaryKey: "id",
		Schema: map[string]types.FieldDef{
			"id": {Type: types.FieldString, Required: true},
		},
	}
	f := newFixture(t, def)
	ctx := context.Background()

	_, err := f.actors["kv"].Insert(ctx, map[string]any{"id": "k"})
	require.NoError(t, err)

	tx := f.begin()
	h, err := tx.Bucket("kv")
	require.NoError(t, err)
	_, err = h.Insert(ctx, map[string]any{"id": "k"})
	assert.True(t, errors.Is(err, storeerr.ErrDuplicateKey))
}
