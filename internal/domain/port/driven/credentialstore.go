package driven

import (
	"context"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

// CredentialStore defines the driven port for credential-record persistence.
// Records cross this boundary with ciphertext in the Encrypted* fields and
// empty plaintext fields; encryption and corruption repair live in the
// application layer, not the adapter.
type CredentialStore interface {
	// Upsert inserts or fully replaces the record with the given ID.
	Upsert(ctx context.Context, rec model.CredentialRecord) error

	// Get returns the record for id, or (nil, nil) if none exists.
	Get(ctx context.Context, id string) (*model.CredentialRecord, error)

	// List returns all records ordered by creation time.
	List(ctx context.Context) ([]model.CredentialRecord, error)

	// Delete removes the record for id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error
}
