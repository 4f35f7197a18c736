package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

const (
	// releaseCacheTTL keeps release lists warm across checks without letting
	// them go stale for more than a working session.
	releaseCacheTTL = 6 * time.Hour

	// quotaLowWater is the remaining-request floor under which release
	// fetches wait for the quota window to reset.
	quotaLowWater = 10

	// quotaMaxWait bounds how long a single call will wait on quota before
	// giving up.
	quotaMaxWait = 2 * time.Minute
)

func releaseCacheKey(owner, repo string) string {
	return fmt.Sprintf("wp2_releases_%s_%s", owner, repo)
}

// ReleaseService resolves release metadata for managed repositories, caching
// per (owner, repo) in the config store.
type ReleaseService struct {
	clients *ClientProvider
	cache   driven.ConfigStore
	now     func() time.Time
}

// NewReleaseService creates a ReleaseService.
func NewReleaseService(clients *ClientProvider, cache driven.ConfigStore) *ReleaseService {
	return &ReleaseService{clients: clients, cache: cache, now: time.Now}
}

// Latest returns the most recent release regardless of channel, or (nil, nil)
// when the repository has none.
func (s *ReleaseService) Latest(ctx context.Context, repository, credentialID string) (*model.ReleaseDescriptor, error) {
	releases, err := s.releases(ctx, repository, credentialID, false)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if !releases[i].Draft {
			return &releases[i], nil
		}
	}
	return nil, nil
}

// ByChannel returns the newest release matching the channel: stable wants
// non-prerelease, anything else wants prerelease. When no release matches the
// channel it falls back to Latest.
func (s *ReleaseService) ByChannel(ctx context.Context, repository string, channel model.Channel, credentialID string) (*model.ReleaseDescriptor, error) {
	releases, err := s.releases(ctx, repository, credentialID, false)
	if err != nil {
		return nil, err
	}

	for i := range releases {
		if releases[i].MatchesChannel(channel) {
			return &releases[i], nil
		}
	}
	return s.Latest(ctx, repository, credentialID)
}

// ByVersion returns the release for an exact version (leading "v" ignored),
// or (nil, nil) when no such tag exists. A missing tag is an ordinary branch.
func (s *ReleaseService) ByVersion(ctx context.Context, repository, version, credentialID string) (*model.ReleaseDescriptor, error) {
	releases, err := s.releases(ctx, repository, credentialID, false)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if releases[i].MatchesTag(version) {
			return &releases[i], nil
		}
	}

	// The cached window may predate the tag; ask the host directly before
	// concluding absence. Tags usually carry a leading "v" the caller's
	// version may lack, so both spellings are tried.
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}
	host, err := s.clients.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	for _, tag := range tagVariants(version) {
		rel, err := host.ReleaseByTag(ctx, owner, repo, tag)
		if err != nil || rel != nil {
			return rel, err
		}
	}
	return nil, nil
}

// tagVariants lists the tag spellings to try for a version: as given, then
// with the opposite "v" prefixing.
func tagVariants(version string) []string {
	if strings.HasPrefix(version, "v") {
		return []string{version, strings.TrimPrefix(version, "v")}
	}
	return []string{version, "v" + version}
}

// Previous walks releases newest-first, skips drafts, finds the entry
// matching currentVersion, and returns the next older non-draft entry. Used
// for rollback-to-previous. Returns (nil, nil) when there is nothing older.
func (s *ReleaseService) Previous(ctx context.Context, repository, currentVersion, credentialID string) (*model.ReleaseDescriptor, error) {
	releases, err := s.releases(ctx, repository, credentialID, false)
	if err != nil {
		return nil, err
	}

	seen := false
	for i := range releases {
		if releases[i].Draft {
			continue
		}
		if seen {
			return &releases[i], nil
		}
		if releases[i].MatchesTag(currentVersion) {
			seen = true
		}
	}
	return nil, nil
}

// Refresh discards the cached release list and refetches it.
func (s *ReleaseService) Refresh(ctx context.Context, repository, credentialID string) error {
	_, err := s.releases(ctx, repository, credentialID, true)
	return err
}

// InvalidateCache drops the cached release list for repository. Called when
// the channel preference changes.
func (s *ReleaseService) InvalidateCache(ctx context.Context, repository string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, releaseCacheKey(owner, repo))
}

// releases returns the repository's releases newest-first, from cache unless
// forced or missing.
func (s *ReleaseService) releases(ctx context.Context, repository, credentialID string, force bool) ([]model.ReleaseDescriptor, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}
	key := releaseCacheKey(owner, repo)

	if !force {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != "" {
			var cached []model.ReleaseDescriptor
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			// Unreadable cache entries are refetched, not fatal.
			_ = s.cache.Delete(ctx, key)
		}
	}

	host, err := s.clients.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	if err := s.waitForQuota(ctx, host); err != nil {
		return nil, err
	}

	releases, err := host.ListReleases(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(releases); err == nil {
		if err := s.cache.Set(ctx, key, string(raw), releaseCacheTTL); err != nil {
			slog.Warn("could not cache release list", "repository", repository, "error", err)
		}
	}

	return releases, nil
}

// waitForQuota blocks until the remaining API quota is above the low-water
// mark, the quota window resets, or the context is done. The wait is a
// cancellable timer, never a bare sleep, and is bounded by quotaMaxWait.
func (s *ReleaseService) waitForQuota(ctx context.Context, host driven.ReleaseHost) error {
	remaining, reset, err := host.RateLimit(ctx)
	if err != nil {
		// Quota introspection failing is not a reason to refuse the real
		// call; the transport's rate-limit middleware still protects us.
		slog.Debug("rate limit check failed", "error", err)
		return nil
	}
	if remaining >= quotaLowWater {
		return nil
	}

	wait := reset.Sub(s.now())
	if wait <= 0 {
		return nil
	}
	if wait > quotaMaxWait {
		return &model.NetworkError{Op: fmt.Sprintf("rate limited until %s", reset.Format(time.RFC3339))}
	}

	slog.Warn("api quota low, waiting for reset", "remaining", remaining, "reset_in", wait.Round(time.Second))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitRepository splits an "owner/repo" identifier.
func splitRepository(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
