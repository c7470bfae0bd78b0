package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xisvar/the-oan/internal/state"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "oan:profile:v1:did:oan:ada:abc123", Key("did:oan:ada", "abc123"))
}

func TestMemoryVersioning(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.Get(ctx, "did:oan:ada", "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "did:oan:ada", "h1", state.Profile{DID: "did:oan:ada", Name: "Ada"}))
	p, ok, err := c.Get(ctx, "did:oan:ada", "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", p.Name)

	_, ok, _ = c.Get(ctx, "did:oan:ada", "h2")
	assert.False(t, ok, "a newer ledger version misses")

	require.NoError(t, c.Put(ctx, "did:oan:ada", "h2", state.Profile{DID: "did:oan:ada", Name: "Ada L."}))
	_, ok, _ = c.Get(ctx, "did:oan:ada", "h1")
	assert.False(t, ok, "older versions are replaced")
	assert.Equal(t, 1, c.Len())
}
