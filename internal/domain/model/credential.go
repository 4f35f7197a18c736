package model

import "time"

// AccountType identifies the kind of GitHub account an app installation
// belongs to.
type AccountType string

const (
	AccountTypeUser         AccountType = "user"
	AccountTypeOrganization AccountType = "organization"
)

// CredentialStatus tracks where a credential record is in the app-creation
// and installation lifecycle.
type CredentialStatus string

const (
	// StatusPending: record created from a manifest, app not yet confirmed by GitHub.
	StatusPending CredentialStatus = "pending"
	// StatusRequiresInstallation: app confirmed but not installed on any account.
	StatusRequiresInstallation CredentialStatus = "requires_installation"
	// StatusInstalled: app installed; InstallationID is non-zero.
	StatusInstalled CredentialStatus = "installed"
	// StatusError: the last connection attempt failed.
	StatusError CredentialStatus = "error"
)

// CredentialRecord is one authorized binding between this system and a GitHub
// account, carrying a signing key and an installation-scoped token source.
//
// EncryptedPrivateKey and EncryptedWebhookSecret hold ciphertext (IV-prefixed,
// base64-encoded); an empty string means the secret is absent. PrivateKey and
// WebhookSecret carry decrypted plaintext at the domain boundary and are never
// persisted.
type CredentialRecord struct {
	ID      string
	Name    string
	Slug    string
	Account AccountType
	OrgSlug string

	// SigningID is the numeric GitHub App id used as the JWT issuer.
	// Zero until GitHub confirms app creation.
	SigningID      int64
	InstallationID int64

	EncryptedPrivateKey    string
	EncryptedWebhookSecret string
	PrivateKey             string
	WebhookSecret          string

	// ManagedRepositories lists "owner/repo" identifiers this installation
	// may act on, in insertion order.
	ManagedRepositories []string

	Status    CredentialStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasUsableKey reports whether the record carries a decrypted private key.
func (r *CredentialRecord) HasUsableKey() bool {
	return r.PrivateKey != ""
}

// Sanitized returns a copy safe to hand to collaborators: all secret
// material, encrypted or not, is stripped.
func (r *CredentialRecord) Sanitized() CredentialRecord {
	out := *r
	out.EncryptedPrivateKey = ""
	out.EncryptedWebhookSecret = ""
	out.PrivateKey = ""
	out.WebhookSecret = ""
	out.ManagedRepositories = append([]string(nil), r.ManagedRepositories...)
	return out
}

// ManagesRepository reports whether repo ("owner/repo") is in the record's
// managed list.
func (r *CredentialRecord) ManagesRepository(repo string) bool {
	for _, m := range r.ManagedRepositories {
		if m == repo {
			return true
		}
	}
	return false
}
