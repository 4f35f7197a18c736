package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// tokenCacheKey names the config-store entry holding the cached installation
// token for one installation.
func tokenCacheKey(installationID int64) string {
	return fmt.Sprintf("wp2_token_%d", installationID)
}

// TokenBroker mints installation access tokens from credential records and
// caches them in the config store, honoring provider-declared expiry with a
// 60-second safety margin. Concurrent misses for the same credential collapse
// into one remote exchange via singleflight.
type TokenBroker struct {
	creds     *CredentialService
	exchanger driven.TokenExchanger
	cache     driven.ConfigStore
	group     singleflight.Group
	now       func() time.Time
}

// NewTokenBroker creates a TokenBroker.
func NewTokenBroker(creds *CredentialService, exchanger driven.TokenExchanger, cache driven.ConfigStore) *TokenBroker {
	return &TokenBroker{
		creds:     creds,
		exchanger: exchanger,
		cache:     cache,
		now:       time.Now,
	}
}

// InstallationToken returns a valid installation token for the credential,
// minting and caching a fresh one when the cache is empty or within the
// safety margin of expiry.
func (b *TokenBroker) InstallationToken(ctx context.Context, credentialID string) (string, error) {
	rec, err := b.creds.Find(ctx, credentialID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", &model.NotFoundError{Kind: "credential", Key: credentialID}
	}
	if !rec.HasUsableKey() {
		return "", &model.CredentialError{CredentialID: credentialID, Reason: "no usable private key"}
	}
	if rec.InstallationID == 0 {
		return "", &model.CredentialError{CredentialID: credentialID, Reason: "app not installed yet"}
	}

	if tok := b.cached(ctx, rec.InstallationID); tok != "" {
		return tok, nil
	}

	v, err, _ := b.group.Do(credentialID, func() (any, error) {
		// Re-check inside the flight: another caller may have minted while
		// this one queued.
		if tok := b.cached(ctx, rec.InstallationID); tok != "" {
			return tok, nil
		}
		return b.mint(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops any cached token for the installation.
func (b *TokenBroker) Invalidate(ctx context.Context, installationID int64) error {
	return b.cache.Delete(ctx, tokenCacheKey(installationID))
}

// cached returns a still-usable cached token or "".
func (b *TokenBroker) cached(ctx context.Context, installationID int64) string {
	raw, err := b.cache.Get(ctx, tokenCacheKey(installationID))
	if err != nil || raw == "" {
		return ""
	}

	var tok model.CachedToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return ""
	}
	if !tok.Usable(b.now()) {
		return ""
	}
	return tok.Token
}

// mint performs the two-stage exchange and caches the result with a TTL of
// expiresAt - now - 60s, floored at one second.
func (b *TokenBroker) mint(ctx context.Context, rec *model.CredentialRecord) (string, error) {
	tok, err := b.exchanger.ExchangeToken(ctx, rec.PrivateKey, rec.SigningID, rec.InstallationID)
	if err != nil {
		slog.Error("installation token exchange failed",
			"credential_id", rec.ID, "installation_id", rec.InstallationID, "error", err)
		return "", err
	}

	ttl := tok.ExpiresAt.Sub(b.now()) - 60*time.Second
	if ttl < time.Second {
		ttl = time.Second
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("marshal cached token: %w", err)
	}
	if err := b.cache.Set(ctx, tokenCacheKey(rec.InstallationID), string(raw), ttl); err != nil {
		// A failed cache write only costs an extra mint next time.
		slog.Warn("could not cache installation token", "credential_id", rec.ID, "error", err)
	}

	slog.Debug("installation token minted",
		"credential_id", rec.ID, "installation_id", rec.InstallationID, "expires_at", tok.ExpiresAt)

	return tok.Token, nil
}
