// Package github implements the ReleaseHost and TokenExchanger ports using
// the go-github library.
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReleaseHost = (*Client)(nil)

// Client implements the driven.ReleaseHost port for one installation token.
// Metadata calls go through go-github; archive downloads go through a
// retrying HTTP client that carries the token itself.
type Client struct {
	gh       *gh.Client
	download *retryablehttp.Client
	token    string
}

// NewClient creates a GitHub API client with the following transport stack:
//  1. retryablehttp (3 retries with 250ms exponential backoff on timeouts/5xx)
//  2. httpcache (ETag-based conditional request caching)
//  3. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  4. go-github (GitHub REST API client with installation-token auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	// Metadata calls are small; downloads get their own, longer-lived client.
	cacheTransport.Transport = newRetryingTransport(15 * time.Second)
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{
		gh:       client,
		download: newDownloadClient(token, 5*time.Minute),
		token:    token,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient).WithAuthToken(token)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	dl := newDownloadClient(token, 30*time.Second)
	dl.HTTPClient = httpClient

	return &Client{
		gh:       client,
		download: dl,
		token:    token,
	}, nil
}

// newRetryingTransport wraps the default transport with the retry policy used
// for metadata calls: 3 retries, 250ms initial backoff, doubling, on network
// errors and 5xx responses. The timeout applies per attempt, not to the whole
// retry sequence.
func newRetryingTransport(timeout time.Duration) http.RoundTripper {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 4 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	return &retryablehttp.RoundTripper{Client: c}
}

// newDownloadClient builds the retrying client used for archive downloads:
// 3 retries, 250ms initial backoff, doubling. Non-429 4xx responses fail
// immediately (retryablehttp's default policy). The redirect hop from the API
// to object storage must not carry the bearer token; storage hosts reject
// pre-signed URLs that also carry an Authorization header.
func newDownloadClient(token string, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 4 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	c.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) > 0 && req.URL.Host != via[0].URL.Host {
			req.Header.Del("Authorization")
		}
		return nil
	}
	return c
}

// ListReleases returns the repository's releases newest-first, drafts
// included. It handles pagination automatically and maps go-github types to
// domain model types.
func (c *Client) ListReleases(ctx context.Context, owner, repo string) ([]model.ReleaseDescriptor, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var all []model.ReleaseDescriptor

	for {
		releases, resp, err := c.gh.Repositories.ListReleases(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing releases for %s/%s (page %d): %w", owner, repo, opts.Page, err)
		}

		logRateLimit(resp, owner+"/"+repo+"/releases", opts.Page, len(releases))

		for _, rel := range releases {
			all = append(all, mapRelease(rel))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ReleaseByTag returns the release for an exact tag, or (nil, nil) when the
// tag does not exist.
func (c *Client) ReleaseByTag(ctx context.Context, owner, repo, tag string) (*model.ReleaseDescriptor, error) {
	rel, resp, err := c.gh.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching release %s for %s/%s: %w", tag, owner, repo, err)
	}

	logRateLimit(resp, owner+"/"+repo+"/releases/tags", 0, 1)

	d := mapRelease(rel)
	return &d, nil
}

// Download streams the archive at rawURL into w with the installation token
// as authorization. Asset URLs require the octet-stream accept header to get
// bytes instead of JSON metadata.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.download.Do(req)
	if err != nil {
		return 0, &model.NetworkError{Op: "download " + rawURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &model.NetworkError{Op: "download " + rawURL, StatusCode: resp.StatusCode}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &model.NetworkError{Op: "download " + rawURL, Cause: err}
	}
	return n, nil
}

// RateLimit reports the remaining core-API quota and its reset time.
func (c *Client) RateLimit(ctx context.Context) (int, time.Time, error) {
	limits, resp, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("fetching rate limit: %w", err)
	}

	logRateLimit(resp, "rate_limit", 0, 0)

	core := limits.GetCore()
	if core == nil {
		return 0, time.Time{}, nil
	}
	return core.Remaining, core.Reset.Time, nil
}

// mapRelease converts a go-github RepositoryRelease to a domain descriptor.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapRelease(rel *gh.RepositoryRelease) model.ReleaseDescriptor {
	assets := make([]model.ReleaseAsset, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		assets = append(assets, model.ReleaseAsset{
			Name:        a.GetName(),
			ContentType: a.GetContentType(),
			// The API asset URL, not browser_download_url: private
			// repositories require an authorized fetch.
			URL: a.GetURL(),
		})
	}

	return model.ReleaseDescriptor{
		Tag:         rel.GetTagName(),
		Name:        rel.GetName(),
		PublishedAt: rel.GetPublishedAt().Time,
		Draft:       rel.GetDraft(),
		Prerelease:  rel.GetPrerelease(),
		Assets:      assets,
		ArchiveURL:  rel.GetZipballURL(),
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// SplitRepo splits an "owner/repo" string into its two components.
func SplitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
