package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap_HasNilPayload(t *testing.T) {
	e := NewBootstrap("boot-1")
	assert.True(t, e.IsBootstrap())
	assert.False(t, e.IsTombstone())

	data, err := Encode(e)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, decoded.IsBootstrap())
	assert.Equal(t, "boot-1", decoded.Key.UUID)
}

func TestTombstone_NonBootstrapNilPayload(t *testing.T) {
	e := NewTombstone(DeleteArtifact, "uuid-1")
	assert.False(t, e.IsBootstrap())
	assert.True(t, e.IsTombstone())
}

func TestNew_RoundTripsPayload(t *testing.T) {
	payload := CreateGroupPayload{TenantID: "t1", GroupID: "g1", Owner: "alice"}
	e, err := New(CreateGroup, "uuid-2", payload)
	require.NoError(t, err)
	assert.False(t, e.IsBootstrap())
	assert.False(t, e.IsTombstone())

	data, err := Encode(e)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	var got CreateGroupPayload
	require.NoError(t, DecodePayload(decoded, &got))
	assert.Equal(t, payload, got)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
}
