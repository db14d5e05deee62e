package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func TestBackendRoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			state := map[string]any{"count": float64(3), "user": "ada"}

			require.NoError(t, b.SaveState(ctx, "s1", state))
			got, err := b.LoadState(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, state, got)

			// Overwrite replaces, not merges.
			require.NoError(t, b.SaveState(ctx, "s1", map[string]any{"count": float64(4)}))
			got, err = b.LoadState(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"count": float64(4)}, got)

			require.NoError(t, b.DeleteState(ctx, "s1"))
			_, err = b.LoadState(ctx, "s1")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestBackendMissingSession(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.LoadState(context.Background(), "never-saved")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestMemoryBackendCopiesSnapshots(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	state := map[string]any{"k": "v"}
	require.NoError(t, b.SaveState(ctx, "s1", state))

	// Mutating the caller's map must not leak into the stored snapshot.
	state["k"] = "changed"
	got, err := b.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "v", got["k"])
}
