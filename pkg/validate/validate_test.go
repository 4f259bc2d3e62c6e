package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
)

func usersDef() types.Definition {
	return types.Definition{
		Name:       "users",
		PrimaryKey: "id",
		Schema: map[string]types.FieldDef{
			"id":   {Type: types.FieldString, Generated: types.GenUUID},
			"role": {Type: types.FieldString, Required: true, Enum: []any{"admin", "user", "guest"}},
			"age":  {Type: types.FieldNumber},
		},
	}
}

func TestPrepareInsertRejectsBadEnum(t *testing.T) {
	_, err := PrepareInsert(usersDef(), map[string]any{"role": "superadmin"}, 1, NowMillis())
	require.Error(t, err)
	var verr *storeerr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)
}

func TestPrepareInsertFillsGeneratedAndMetadata(t *testing.T) {
	now := NowMillis()
	rec, err := PrepareInsert(usersDef(), map[string]any{"role": "admin"}, 1, now)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Fields["id"])
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Nil(t, rec.ExpiresAt)
}

func TestPrepareInsertRejectsUnknownField(t *testing.T) {
	_, err := PrepareInsert(usersDef(), map[string]any{"role": "admin", "bogus": 1}, 1, NowMillis())
	require.Error(t, err)
}

func TestPrepareInsertAppliesBucketTTL(t *testing.T) {
	def := usersDef()
	def.TTL = 60_000
	now := NowMillis()
	rec, err := PrepareInsert(def, map[string]any{"role": "admin"}, 1, now)
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, now+60_000, *rec.ExpiresAt)
}

func TestPrepareInsertCallerExpiresAtOverridesTTL(t *testing.T) {
	def := usersDef()
	def.TTL = 60_000
	now := NowMillis()
	rec, err := PrepareInsert(def, map[string]any{"role": "admin", "expires_at": now + 5000}, 1, now)
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, now+5000, *rec.ExpiresAt)
}

func TestPrepareUpdateForbidsImmutableFields(t *testing.T) {
	existing := &types.Record{Fields: map[string]any{"id": "u1", "role": "user"}, Version: 1, CreatedAt: 10, UpdatedAt: 10}

	_, err := PrepareUpdate(usersDef(), existing, map[string]any{"id": "u2"}, 20)
	require.Error(t, err)

	_, err = PrepareUpdate(usersDef(), existing, map[string]any{"version": 5}, 20)
	require.Error(t, err)

	_, err = PrepareUpdate(usersDef(), existing, map[string]any{"created_at": 5}, 20)
	require.Error(t, err)
}

func TestPrepareUpdateBumpsVersionPreservesCreatedAt(t *testing.T) {
	existing := &types.Record{Fields: map[string]any{"id": "u1", "role": "user"}, Version: 3, CreatedAt: 10, UpdatedAt: 15}

	next, err := PrepareUpdate(usersDef(), existing, map[string]any{"role": "admin"}, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Version)
	assert.Equal(t, int64(10), next.CreatedAt)
	assert.Equal(t, int64(30), next.UpdatedAt)
	assert.Equal(t, "admin", next.Fields["role"])
}
