package driven

import (
	"context"
	"io"
	"time"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

// ReleaseHost defines the driven port for release metadata and archive
// retrieval against the remote repository host, authenticated as one
// installation. Implementations carry their own bearer token; callers never
// see it.
type ReleaseHost interface {
	// ListReleases returns the repository's releases newest-first, drafts
	// included (callers filter by channel).
	ListReleases(ctx context.Context, owner, repo string) ([]model.ReleaseDescriptor, error)

	// ReleaseByTag returns the release for an exact tag, or (nil, nil) when
	// the tag does not exist. A missing tag is an ordinary branch, not an
	// error.
	ReleaseByTag(ctx context.Context, owner, repo, tag string) (*model.ReleaseDescriptor, error)

	// Download streams the archive at url into w, sending the installation
	// token as authorization. Returns the number of bytes written.
	Download(ctx context.Context, url string, w io.Writer) (int64, error)

	// RateLimit reports the remaining core-API quota and its reset time.
	RateLimit(ctx context.Context) (remaining int, reset time.Time, err error)
}

// TokenExchanger defines the driven port for the two-legged app
// authentication exchange: sign an app assertion with the private key, then
// trade it for an installation access token.
type TokenExchanger interface {
	// ExchangeToken mints a signing token for signingID using privateKeyPEM
	// and exchanges it for an installation token scoped to installationID.
	ExchangeToken(ctx context.Context, privateKeyPEM string, signingID, installationID int64) (*model.CachedToken, error)
}
