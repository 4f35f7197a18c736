package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

func testPackage(slug string) model.ManagedPackage {
	return model.ManagedPackage{
		Slug:              slug,
		Type:              model.PackagePlugin,
		Repository:        "acme/" + slug,
		InstalledVersion:  "1.0.0",
		OwnerCredentialID: "cred-1",
	}
}

func TestPackageRepo_UpsertAndGet(t *testing.T) {
	repo := NewPackageRepo(setupTestDB(t))
	ctx := context.Background()

	want := testPackage("my-plugin")
	require.NoError(t, repo.Upsert(ctx, want))

	got, err := repo.Get(ctx, "my-plugin")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Repository, got.Repository)
	assert.Equal(t, want.InstalledVersion, got.InstalledVersion)
	assert.Equal(t, want.OwnerCredentialID, got.OwnerCredentialID)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestPackageRepo_GetMissing(t *testing.T) {
	repo := NewPackageRepo(setupTestDB(t))

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPackageRepo_ListOrderedBySlug(t *testing.T) {
	repo := NewPackageRepo(setupTestDB(t))
	ctx := context.Background()

	for _, slug := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.Upsert(ctx, testPackage(slug)))
	}

	pkgs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
	assert.Equal(t, "alpha", pkgs[0].Slug)
	assert.Equal(t, "mid", pkgs[1].Slug)
	assert.Equal(t, "zeta", pkgs[2].Slug)
}

func TestPackageRepo_SetInstalledVersion(t *testing.T) {
	repo := NewPackageRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testPackage("my-plugin")))
	require.NoError(t, repo.SetInstalledVersion(ctx, "my-plugin", "2.0.0"))

	got, err := repo.Get(ctx, "my-plugin")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got.InstalledVersion)
}

func TestPackageRepo_Delete(t *testing.T) {
	repo := NewPackageRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testPackage("my-plugin")))
	require.NoError(t, repo.Delete(ctx, "my-plugin"))

	got, err := repo.Get(ctx, "my-plugin")
	require.NoError(t, err)
	assert.Nil(t, got)
}
