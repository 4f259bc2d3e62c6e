package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketdb/bucketdb/pkg/types"
)

func rec(fields map[string]any) *types.Record {
	return &types.Record{Fields: fields}
}

func TestAddLookupRemove(t *testing.T) {
	m := New([]string{"status"}, nil)
	require.NoError(t, m.AddRecord("k1", rec(map[string]any{"status": "paid"})))
	require.NoError(t, m.AddRecord("k2", rec(map[string]any{"status": "paid"})))

	keys := m.Lookup("status", "paid")
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	m.RemoveRecord("k1", rec(map[string]any{"status": "paid"}))
	assert.ElementsMatch(t, []string{"k2"}, m.Lookup("status", "paid"))

	m.RemoveRecord("k2", rec(map[string]any{"status": "paid"}))
	assert.Nil(t, m.Lookup("status", "paid"))
}

func TestUniqueConstraint(t *testing.T) {
	m := New(nil, []string{"email"})
	require.NoError(t, m.AddRecord("k1", rec(map[string]any{"email": "a@b.com"})))

	err := m.AddRecord("k2", rec(map[string]any{"email": "a@b.com"}))
	require.Error(t, err)

	key, ok := m.LookupUnique("email", "a@b.com")
	require.True(t, ok)
	assert.Equal(t, "k1", key)
}

func TestUpdateRecordSameValueIsNoOp(t *testing.T) {
	m := New(nil, []string{"email"})
	require.NoError(t, m.AddRecord("k1", rec(map[string]any{"email": "a@b.com"})))

	old := rec(map[string]any{"email": "a@b.com"})
	new := rec(map[string]any{"email": "a@b.com"})
	require.NoError(t, m.UpdateRecord("k1", old, new))

	key, ok := m.LookupUnique("email", "a@b.com")
	require.True(t, ok)
	assert.Equal(t, "k1", key)
}

func TestUpdateRecordRestoresOnConflict(t *testing.T) {
	m := New(nil, []string{"email"})
	require.NoError(t, m.AddRecord("k1", rec(map[string]any{"email": "a@b.com"})))
	require.NoError(t, m.AddRecord("k2", rec(map[string]any{"email": "c@d.com"})))

	err := m.UpdateRecord("k2", rec(map[string]any{"email": "c@d.com"}), rec(map[string]any{"email": "a@b.com"}))
	require.Error(t, err)

	key, ok := m.LookupUnique("email", "c@d.com")
	require.True(t, ok)
	assert.Equal(t, "k2", key)
	key, ok = m.LookupUnique("email", "a@b.com")
	require.True(t, ok)
	assert.Equal(t, "k1", key)
}

func TestNaNEqualsNaN(t *testing.T) {
	m := New([]string{"score"}, nil)
	require.NoError(t, m.AddRecord("k1", rec(map[string]any{"score": math.NaN()})))
	keys := m.Lookup("score", math.NaN())
	assert.Equal(t, []string{"k1"}, keys)
}

func TestRebuild(t *testing.T) {
	m := New([]string{"status"}, []string{"email"})
	require.NoError(t, m.AddRecord("k1", rec(map[string]any{"status": "paid", "email": "a@b.com"})))

	entries := []types.RecordEntry{
		{Key: "k2", Record: rec(map[string]any{"status": "pending", "email": "c@d.com"})},
	}
	require.NoError(t, m.Rebuild(entries))

	assert.Nil(t, m.Lookup("status", "paid"))
	assert.Equal(t, []string{"k2"}, m.Lookup("status", "pending"))
	_, ok := m.LookupUnique("email", "a@b.com")
	assert.False(t, ok)
}
