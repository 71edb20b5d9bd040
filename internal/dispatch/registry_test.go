// ABOUTME: Tests for the static in-process tool registry
// ABOUTME: Covers registration, collisions, resolution misses, and sorted listing

package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewStaticRegistry(nil)
	ctx := context.Background()

	require.NoError(t, reg.Register("search_web", ResolvedTool{
		Server: "exa", Action: "read_exa", External: true,
	}))

	tool, err := reg.Resolve(ctx, "search_web", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "exa", tool.Server)
	assert.Equal(t, "read_exa", tool.Action)
	assert.True(t, tool.External)
}

func TestStaticRegistry_Collision(t *testing.T) {
	reg := NewStaticRegistry(nil)

	require.NoError(t, reg.Register("search_web", ResolvedTool{Server: "exa"}))
	err := reg.Register("search_web", ResolvedTool{Server: "other"})
	assert.ErrorIs(t, err, ErrToolCollision)
}

func TestStaticRegistry_ResolveUnknown(t *testing.T) {
	reg := NewStaticRegistry(nil)

	_, err := reg.Resolve(context.Background(), "nope", "user-1")
	assert.ErrorIs(t, err, ErrToolNotRegistered)
}

func TestStaticRegistry_Unregister(t *testing.T) {
	reg := NewStaticRegistry(nil)
	ctx := context.Background()

	require.NoError(t, reg.Register("search_web", ResolvedTool{Server: "exa"}))
	reg.Unregister("search_web")

	_, err := reg.Resolve(ctx, "search_web", "user-1")
	assert.ErrorIs(t, err, ErrToolNotRegistered)

	// Unknown names are a no-op.
	reg.Unregister("never-there")
}

func TestStaticRegistry_ListToolsSorted(t *testing.T) {
	reg := NewStaticRegistry(nil)

	require.NoError(t, reg.Register("update_lead", ResolvedTool{Server: "crm", Action: "write_crm"}))
	require.NoError(t, reg.Register("get_lead", ResolvedTool{Server: "crm", Action: "read_crm"}))
	require.NoError(t, reg.Register("search_web", ResolvedTool{Server: "exa", Action: "read_exa", External: true}))

	tools, err := reg.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "get_lead", tools[0].Name)
	assert.Equal(t, "search_web", tools[1].Name)
	assert.Equal(t, "update_lead", tools[2].Name)
}
