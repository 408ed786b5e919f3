package store

import (
	"database/sql"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkSplitsAtLimit(t *testing.T) {
	ids := make([]string, MaxIDsPerQuery*2+1)
	parts := chunk(ids, MaxIDsPerQuery)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], MaxIDsPerQuery)
	assert.Len(t, parts[1], MaxIDsPerQuery)
	assert.Len(t, parts[2], 1)
}

func TestChunkEmptyAndDefaultSize(t *testing.T) {
	assert.Empty(t, chunk([]string(nil), 10))
	assert.Len(t, chunk(make([]int, 5), 0), 1)
}

func TestSignedRoundTripsHighBits(t *testing.T) {
	id := uint64(0x9d8c000000000000)
	got := signed([]uint64{id})
	require.Len(t, got, 1)
	assert.Equal(t, id, uint64(got[0]))
}

func TestNullableHelpers(t *testing.T) {
	assert.Nil(t, intPtr(sql.NullInt32{}))
	assert.Nil(t, int64Ptr(sql.NullInt64{}))
	if v := intPtr(sql.NullInt32{Int32: 7, Valid: true}); assert.NotNil(t, v) {
		assert.Equal(t, 7, *v)
	}
}

func TestSchemaEmbedded(t *testing.T) {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}
