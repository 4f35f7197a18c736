package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

func testCredential(id string) model.CredentialRecord {
	return model.CredentialRecord{
		ID:                     id,
		Name:                   "Acme Updates",
		Slug:                   "acme-updates",
		Account:                model.AccountTypeOrganization,
		OrgSlug:                "acme",
		SigningID:              1234,
		InstallationID:         42,
		EncryptedPrivateKey:    "b64ciphertext==",
		EncryptedWebhookSecret: "b64secret==",
		ManagedRepositories:    []string{"acme/widget", "acme/gadget"},
		Status:                 model.StatusInstalled,
	}
}

func TestCredentialRepo_UpsertAndGet(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	want := testCredential("cred-1")
	require.NoError(t, repo.Upsert(ctx, want))

	got, err := repo.Get(ctx, "cred-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Account, got.Account)
	assert.Equal(t, want.SigningID, got.SigningID)
	assert.Equal(t, want.InstallationID, got.InstallationID)
	assert.Equal(t, want.EncryptedPrivateKey, got.EncryptedPrivateKey)
	assert.Equal(t, want.EncryptedWebhookSecret, got.EncryptedWebhookSecret)
	assert.Equal(t, want.ManagedRepositories, got.ManagedRepositories)
	assert.Equal(t, want.Status, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCredentialRepo_GetMissing(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialRepo_UpsertReplacesPreservingCreatedAt(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	rec := testCredential("cred-1")
	require.NoError(t, repo.Upsert(ctx, rec))
	first, err := repo.Get(ctx, "cred-1")
	require.NoError(t, err)

	rec.Name = "Renamed"
	rec.ManagedRepositories = []string{"acme/widget"}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, []string{"acme/widget"}, got.ManagedRepositories)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestCredentialRepo_EmptyManagedRepositories(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	rec := testCredential("cred-1")
	rec.ManagedRepositories = nil
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Empty(t, got.ManagedRepositories)
}

func TestCredentialRepo_ListOrdered(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"cred-b", "cred-a", "cred-c"} {
		require.NoError(t, repo.Upsert(ctx, testCredential(id)))
	}

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Same-second inserts fall back to id order.
	assert.Equal(t, "cred-a", recs[0].ID)
	assert.Equal(t, "cred-b", recs[1].ID)
	assert.Equal(t, "cred-c", recs[2].ID)
}

func TestCredentialRepo_Delete(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testCredential("cred-1")))
	require.NoError(t, repo.Delete(ctx, "cred-1"))

	got, err := repo.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
