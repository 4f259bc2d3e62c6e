package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketdb/bucketdb/pkg/types"
)

func TestLoadAbsentKeyReturnsNilNil(t *testing.T) {
	s := New()
	env, err := s.Load(context.Background(), "store:bucket:users")
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()
	env := types.Envelope{
		State: types.SnapshotState{
			Records: []types.RecordEntry{
				{Key: "1", Record: &types.Record{Fields: map[string]any{"id": "1"}, Version: 1}},
			},
			AutoincrementCounter: 2,
		},
		Metadata: types.EnvelopeMetadata{StoreName: "store", SchemaVersion: 1},
	}
	require.NoError(t, s.Save(ctx, "store:bucket:users", env))

	got, err := s.Load(ctx, "store:bucket:users")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.State.AutoincrementCounter)
	assert.Equal(t, "1", got.State.Records[0].Key)
}

func TestSaveCopiesSoCallerMutationDoesNotLeak(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &types.Record{Fields: map[string]any{"name": "alice"}}
	env := types.Envelope{State: types.SnapshotState{Records: []types.RecordEntry{{Key: "1", Record: rec}}}}
	require.NoError(t, s.Save(ctx, "k", env))

	rec.Fields["name"] = "mutated"

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.State.Records[0].Record.Fields["name"])
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New()
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
