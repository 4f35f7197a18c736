package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v82/github"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// signingTokenTTL is how long an app assertion stays valid. GitHub caps app
// JWTs at 10 minutes; 9 keeps clear of clock drift at the provider edge.
const signingTokenTTL = 540 * time.Second

// Compile-time interface satisfaction check.
var _ driven.TokenExchanger = (*Exchanger)(nil)

// Exchanger implements the driven.TokenExchanger port: it signs a short-lived
// RS256 assertion with an app's private key and trades it for an installation
// access token.
type Exchanger struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewExchanger creates an Exchanger against the public GitHub API. The token
// exchange rides the same retry policy as metadata calls; a transient 5xx at
// the provider must not fail a token mint outright.
func NewExchanger() *Exchanger {
	return &Exchanger{
		http: &http.Client{Transport: newRetryingTransport(15 * time.Second)},
		now:  time.Now,
	}
}

// NewExchangerWithHTTPClient creates an Exchanger against a custom base URL.
// Intended for testing with an httptest server.
func NewExchangerWithHTTPClient(httpClient *http.Client, baseURL string) *Exchanger {
	return &Exchanger{baseURL: baseURL, http: httpClient, now: time.Now}
}

// ExchangeToken performs the two-legged exchange for installationID.
func (e *Exchanger) ExchangeToken(ctx context.Context, privateKeyPEM string, signingID, installationID int64) (*model.CachedToken, error) {
	signed, err := e.mintSigningToken(privateKeyPEM, signingID)
	if err != nil {
		return nil, err
	}

	client := gh.NewClient(e.http).WithAuthToken(signed)
	if e.baseURL != "" {
		u, err := url.Parse(e.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u
	}

	tok, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, &model.AuthError{Cause: fmt.Errorf("creating installation token for %d: %w", installationID, err)}
	}

	return &model.CachedToken{
		InstallationID: installationID,
		Token:          tok.GetToken(),
		ExpiresAt:      tok.GetExpiresAt().Time,
	}, nil
}

// mintSigningToken builds the app assertion: {iat, exp = iat+540s, iss =
// signingID}, RS256-signed. A malformed key is an auth failure, never a
// panic.
func (e *Exchanger) mintSigningToken(privateKeyPEM string, signingID int64) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return "", &model.AuthError{Cause: fmt.Errorf("parsing app private key: %w", err)}
	}

	iat := e.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(signingTokenTTL)),
		Issuer:    strconv.FormatInt(signingID, 10),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", &model.AuthError{Cause: fmt.Errorf("signing app token: %w", err)}
	}
	return signed, nil
}
