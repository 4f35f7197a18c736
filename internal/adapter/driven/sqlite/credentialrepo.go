package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// It persists records exactly as given: ciphertext in, ciphertext out. The
// application layer owns encryption and corruption repair.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Upsert inserts or fully replaces the record with the given ID. created_at
// is preserved on replace.
func (r *CredentialRepo) Upsert(ctx context.Context, rec model.CredentialRecord) error {
	repos, err := json.Marshal(rec.ManagedRepositories)
	if err != nil {
		return fmt.Errorf("marshal managed repositories: %w", err)
	}

	const query = `
		INSERT INTO credentials
			(id, name, slug, account_type, org_slug, signing_id, installation_id,
			 encrypted_private_key, encrypted_webhook_secret, managed_repositories, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			account_type = excluded.account_type,
			org_slug = excluded.org_slug,
			signing_id = excluded.signing_id,
			installation_id = excluded.installation_id,
			encrypted_private_key = excluded.encrypted_private_key,
			encrypted_webhook_secret = excluded.encrypted_webhook_secret,
			managed_repositories = excluded.managed_repositories,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP`

	_, err = r.db.Writer.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Slug, string(rec.Account), rec.OrgSlug,
		rec.SigningID, rec.InstallationID,
		rec.EncryptedPrivateKey, rec.EncryptedWebhookSecret,
		string(repos), string(rec.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert credential %q: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for id, or (nil, nil) if none exists.
func (r *CredentialRepo) Get(ctx context.Context, id string) (*model.CredentialRecord, error) {
	const query = selectCredential + ` WHERE id = ?`

	rec, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", id, err)
	}
	return rec, nil
}

// List returns all records ordered by creation time.
func (r *CredentialRepo) List(ctx context.Context) ([]model.CredentialRecord, error) {
	const query = selectCredential + ` ORDER BY created_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var recs []model.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return recs, nil
}

// Delete removes the record for id.
func (r *CredentialRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete credential %q: %w", id, err)
	}
	return nil
}

const selectCredential = `
	SELECT id, name, slug, account_type, org_slug, signing_id, installation_id,
	       encrypted_private_key, encrypted_webhook_secret, managed_repositories,
	       status, created_at, updated_at
	FROM credentials`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	var account, status, repos, createdAt, updatedAt string

	err := s.Scan(
		&rec.ID, &rec.Name, &rec.Slug, &account, &rec.OrgSlug,
		&rec.SigningID, &rec.InstallationID,
		&rec.EncryptedPrivateKey, &rec.EncryptedWebhookSecret, &repos,
		&status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Account = model.AccountType(account)
	rec.Status = model.CredentialStatus(status)

	if err := json.Unmarshal([]byte(repos), &rec.ManagedRepositories); err != nil {
		return nil, fmt.Errorf("unmarshal managed repositories: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}
