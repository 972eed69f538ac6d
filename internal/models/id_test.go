package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempIDNeverCollidesWithServerID(t *testing.T) {
	temp := TempID(10, 1)
	server := ServerID(101)

	assert.True(t, temp.IsTemp())
	assert.False(t, temp.IsServer())
	assert.True(t, server.IsServer())
	assert.NotEqual(t, temp, server)

	// The textual namespace keeps them apart everywhere ids travel.
	assert.Equal(t, "tmp:10:1", temp.String())
	assert.Equal(t, "101", server.String())
}

func TestParseIDRoundTrip(t *testing.T) {
	for _, id := range []ID{TempID(10, 42), ServerID(7)} {
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	_, err := ParseID("not-an-id")
	assert.Error(t, err)
}

func TestParseIDEmptyIsZero(t *testing.T) {
	id, err := ParseID("")
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestServerAccessor(t *testing.T) {
	n, ok := ServerID(55).Server()
	assert.True(t, ok)
	assert.Equal(t, int64(55), n)

	_, ok = TempID(10, 1).Server()
	assert.False(t, ok)
}

func TestIDJSON(t *testing.T) {
	data, err := json.Marshal(TempID(10, 3))
	require.NoError(t, err)
	assert.Equal(t, `"tmp:10:3"`, string(data))

	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"77"`), &id))
	assert.Equal(t, ServerID(77), id)

	// Feeds that send bare numeric ids are accepted too.
	require.NoError(t, json.Unmarshal([]byte(`77`), &id))
	assert.Equal(t, ServerID(77), id)
}

func TestIDAsMapKey(t *testing.T) {
	seen := map[ID]bool{
		TempID(10, 1): true,
		ServerID(1):   true,
	}
	assert.True(t, seen[TempID(10, 1)])
	assert.True(t, seen[ServerID(1)])
	assert.False(t, seen[TempID(10, 2)])
}
