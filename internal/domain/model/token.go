package model

import "time"

// CachedToken is an installation access token plus its absolute expiry.
// Owned by the token broker; persisted only through the config store's TTL
// semantics, never beyond.
type CachedToken struct {
	InstallationID int64     `json:"installation_id"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Usable reports whether the token may still be served at time now. A token
// within 60 seconds of expiry is treated as expired so a fresh one is minted
// before the provider rejects it.
func (t *CachedToken) Usable(now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt.Add(-60*time.Second))
}
