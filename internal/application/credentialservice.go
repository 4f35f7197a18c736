// Package application contains use-case orchestration services.
package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
	"github.com/ourfreewp/wp2-update/internal/secret"
)

// CredentialUpdate is a partial update to a credential record. Nil fields are
// left as stored; an empty ID creates a new record. PrivateKey and
// WebhookSecret are plaintext and encrypted before persistence; setting one
// to the empty string clears it.
type CredentialUpdate struct {
	ID                  string
	Name                *string
	Slug                *string
	Account             *model.AccountType
	OrgSlug             *string
	SigningID           *int64
	InstallationID      *int64
	PrivateKey          *string
	WebhookSecret       *string
	ManagedRepositories *[]string
	Status              *model.CredentialStatus
}

// CredentialService owns credential-record semantics: encryption at rest,
// partial-update merging, corruption repair, and the cascade from record
// deletion to token-cache invalidation. All plaintext secrets pass through
// here and nowhere else.
type CredentialService struct {
	store  driven.CredentialStore
	cipher *secret.Cipher
	cache  driven.ConfigStore

	onChange func() // notifies the repository resolver to rebuild its index.
}

// NewCredentialService creates a CredentialService. cache is used to drop
// cached installation tokens when their record is deleted.
func NewCredentialService(store driven.CredentialStore, cipher *secret.Cipher, cache driven.ConfigStore) *CredentialService {
	return &CredentialService{store: store, cipher: cipher, cache: cache}
}

// SetChangeListener registers a callback invoked after any mutation that can
// change repository ownership. Used by the repository resolver.
func (s *CredentialService) SetChangeListener(fn func()) {
	s.onChange = fn
}

// Save applies a partial update, creating the record when upd.ID is empty.
// It returns the stored record sanitized: plaintext secrets never leave this
// service through Save.
func (s *CredentialService) Save(ctx context.Context, upd CredentialUpdate) (model.CredentialRecord, error) {
	var rec model.CredentialRecord

	if upd.ID == "" {
		rec = model.CredentialRecord{
			ID:      uuid.NewString(),
			Account: model.AccountTypeOrganization,
			Status:  model.StatusPending,
		}
	} else {
		existing, err := s.store.Get(ctx, upd.ID)
		if err != nil {
			return model.CredentialRecord{}, err
		}
		if existing == nil {
			return model.CredentialRecord{}, &model.NotFoundError{Kind: "credential", Key: upd.ID}
		}
		rec = *existing
	}

	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Slug != nil {
		rec.Slug = *upd.Slug
	}
	if upd.Account != nil {
		rec.Account = *upd.Account
	}
	if upd.OrgSlug != nil {
		rec.OrgSlug = *upd.OrgSlug
	}
	if upd.SigningID != nil {
		rec.SigningID = *upd.SigningID
	}
	if upd.InstallationID != nil {
		rec.InstallationID = *upd.InstallationID
	}
	if upd.ManagedRepositories != nil {
		rec.ManagedRepositories = append([]string(nil), (*upd.ManagedRepositories)...)
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}

	if upd.PrivateKey != nil {
		enc, err := s.cipher.Encrypt(*upd.PrivateKey)
		if err != nil {
			return model.CredentialRecord{}, fmt.Errorf("encrypt private key: %w", err)
		}
		rec.EncryptedPrivateKey = enc
	}
	if upd.WebhookSecret != nil {
		enc, err := s.cipher.Encrypt(*upd.WebhookSecret)
		if err != nil {
			return model.CredentialRecord{}, fmt.Errorf("encrypt webhook secret: %w", err)
		}
		rec.EncryptedWebhookSecret = enc
	}

	if rec.Status == model.StatusInstalled && rec.InstallationID == 0 {
		return model.CredentialRecord{}, fmt.Errorf("credential %s cannot be installed without an installation id", rec.ID)
	}

	// Plaintext never reaches the adapter.
	rec.PrivateKey = ""
	rec.WebhookSecret = ""

	if err := s.store.Upsert(ctx, rec); err != nil {
		return model.CredentialRecord{}, err
	}

	s.warnAmbiguousRepositories(ctx, rec)
	s.notifyChange()

	return rec.Sanitized(), nil
}

// CompleteInstallation transitions a record to installed once GitHub reports
// the installation id.
func (s *CredentialService) CompleteInstallation(ctx context.Context, id string, installationID int64) (model.CredentialRecord, error) {
	if installationID == 0 {
		return model.CredentialRecord{}, fmt.Errorf("installation id must be non-zero")
	}
	status := model.StatusInstalled
	return s.Save(ctx, CredentialUpdate{
		ID:             id,
		InstallationID: &installationID,
		Status:         &status,
	})
}

// Find returns the record for id with secrets decrypted inline, or (nil, nil)
// when no record exists.
//
// When stored ciphertext decrypts to empty the record is treated as
// corrupted: the key, webhook secret, and installation id are cleared, status
// returns to pending, the repaired record is persisted, and the repaired
// record is returned together with a CredentialError. Subsequent calls see
// the cleared fields and do not re-attempt repair.
func (s *CredentialService) Find(ctx context.Context, id string) (*model.CredentialRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	return s.decrypt(ctx, rec)
}

// All returns every record with secrets decrypted. Corrupted records are
// repaired in place and returned in their repaired form; repair does not
// abort the listing.
func (s *CredentialService) All(ctx context.Context) ([]model.CredentialRecord, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.CredentialRecord, 0, len(recs))
	for i := range recs {
		dec, err := s.decrypt(ctx, &recs[i])
		if err != nil {
			var credErr *model.CredentialError
			if !errors.As(err, &credErr) {
				return nil, err
			}
			slog.Warn("credential record repaired during listing", "credential_id", recs[i].ID)
		}
		out = append(out, *dec)
	}
	return out, nil
}

// Delete removes the record and drops any cached token for its installation.
func (s *CredentialService) Delete(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if rec.InstallationID != 0 {
		if err := s.cache.Delete(ctx, tokenCacheKey(rec.InstallationID)); err != nil {
			slog.Warn("could not drop cached token for deleted credential",
				"credential_id", id, "error", err)
		}
	}

	s.notifyChange()
	return nil
}

// ResolveDefault returns the id of the first record carrying both a usable
// private key and a signing id, or "" when none qualifies.
func (s *CredentialService) ResolveDefault(ctx context.Context) (string, error) {
	recs, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		if rec.HasUsableKey() && rec.SigningID != 0 {
			return rec.ID, nil
		}
	}
	return "", nil
}

// VerifySignature checks a webhook payload signature ("sha256=<hex>") against
// the record's stored webhook secret using constant-time comparison.
func (s *CredentialService) VerifySignature(ctx context.Context, id string, payload []byte, signature string) (bool, error) {
	rec, err := s.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.WebhookSecret == "" {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(rec.WebhookSecret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// decrypt fills the plaintext fields from ciphertext, repairing the record if
// a non-empty ciphertext yields nothing.
func (s *CredentialService) decrypt(ctx context.Context, rec *model.CredentialRecord) (*model.CredentialRecord, error) {
	rec.PrivateKey = s.cipher.Decrypt(rec.EncryptedPrivateKey)
	rec.WebhookSecret = s.cipher.Decrypt(rec.EncryptedWebhookSecret)

	keyCorrupt := rec.EncryptedPrivateKey != "" && rec.PrivateKey == ""
	secretCorrupt := rec.EncryptedWebhookSecret != "" && rec.WebhookSecret == ""
	if !keyCorrupt && !secretCorrupt {
		return rec, nil
	}

	slog.Error("credential secrets unreadable, resetting record to pending",
		"credential_id", rec.ID, "key_corrupt", keyCorrupt, "secret_corrupt", secretCorrupt)

	oldInstallation := rec.InstallationID
	rec.EncryptedPrivateKey = ""
	rec.EncryptedWebhookSecret = ""
	rec.PrivateKey = ""
	rec.WebhookSecret = ""
	rec.InstallationID = 0
	rec.Status = model.StatusPending

	if err := s.store.Upsert(ctx, *rec); err != nil {
		return rec, fmt.Errorf("persist repaired credential %s: %w", rec.ID, err)
	}
	if oldInstallation != 0 {
		_ = s.cache.Delete(ctx, tokenCacheKey(oldInstallation))
	}

	return rec, &model.CredentialError{CredentialID: rec.ID, Reason: "stored secrets were unreadable; record reset to pending"}
}

// warnAmbiguousRepositories flags repositories claimed by more than one
// record. First-match-wins resolution is preserved; the conflict is surfaced
// in logs instead of rejected.
func (s *CredentialService) warnAmbiguousRepositories(ctx context.Context, rec model.CredentialRecord) {
	others, err := s.store.List(ctx)
	if err != nil {
		return
	}
	for _, other := range others {
		if other.ID == rec.ID {
			continue
		}
		var overlap []string
		for _, repo := range rec.ManagedRepositories {
			if other.ManagesRepository(repo) {
				overlap = append(overlap, repo)
			}
		}
		if len(overlap) > 0 {
			slog.Warn("repository claimed by multiple credentials; first match wins at resolve time",
				"repositories", strings.Join(overlap, ","),
				"credential_id", rec.ID,
				"also_claimed_by", other.ID)
		}
	}
}

func (s *CredentialService) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}
