package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRepo_SetGet(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "channel", "stable", 0))

	got, err := repo.Get(ctx, "channel")
	require.NoError(t, err)
	assert.Equal(t, "stable", got)
}

func TestConfigRepo_GetMissing(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConfigRepo_SetReplaces(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "channel", "stable", 0))
	require.NoError(t, repo.Set(ctx, "channel", "beta", 0))

	got, err := repo.Get(ctx, "channel")
	require.NoError(t, err)
	assert.Equal(t, "beta", got)
}

func TestConfigRepo_TTLExpiry(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))
	ctx := context.Background()

	base := time.Now()
	repo.now = func() time.Time { return base }
	require.NoError(t, repo.Set(ctx, "wp2_token_42", "tok", time.Hour))

	got, err := repo.Get(ctx, "wp2_token_42")
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	// Past expiry the key reads as absent.
	repo.now = func() time.Time { return base.Add(2 * time.Hour) }
	got, err = repo.Get(ctx, "wp2_token_42")
	require.NoError(t, err)
	assert.Empty(t, got)

	// The expired row was lazily removed, not just hidden.
	repo.now = func() time.Time { return base }
	got, err = repo.Get(ctx, "wp2_token_42")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConfigRepo_ZeroTTLNeverExpires(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))
	ctx := context.Background()

	base := time.Now()
	repo.now = func() time.Time { return base }
	require.NoError(t, repo.Set(ctx, "k", "v", 0))

	repo.now = func() time.Time { return base.Add(1000 * time.Hour) }
	got, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConfigRepo_Delete(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "k", "v", 0))
	require.NoError(t, repo.Delete(ctx, "k"))

	got, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Deleting a missing key is a no-op.
	require.NoError(t, repo.Delete(ctx, "k"))
}
