package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// UpdateService is the pipeline collaborators call: it ties the repository
// resolver, release resolver, and installer together for "check for updates",
// "install version X", and rollback.
type UpdateService struct {
	creds     *CredentialService
	resolver  *RepoResolver
	releases  *ReleaseService
	installer *InstallService
	pkgs      driven.PackageStore
	broker    *TokenBroker

	mu      sync.Mutex
	channel model.Channel
}

// NewUpdateService creates an UpdateService with the given default release
// channel.
func NewUpdateService(
	creds *CredentialService,
	resolver *RepoResolver,
	releases *ReleaseService,
	installer *InstallService,
	pkgs driven.PackageStore,
	broker *TokenBroker,
	channel model.Channel,
) *UpdateService {
	if channel == "" {
		channel = model.ChannelStable
	}
	return &UpdateService{
		creds:     creds,
		resolver:  resolver,
		releases:  releases,
		installer: installer,
		pkgs:      pkgs,
		broker:    broker,
		channel:   channel,
	}
}

// CheckForUpdates scans the managed-package inventory and returns a candidate
// for every package whose channel-resolved remote version is strictly newer
// than the installed one. Per-package failures are logged and skipped so one
// unreachable repository does not mask the rest.
func (s *UpdateService) CheckForUpdates(ctx context.Context) ([]model.UpdateCandidate, error) {
	pkgs, err := s.pkgs.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.UpdateCandidate, 0)
	for _, pkg := range pkgs {
		if pkg.Repository == "" {
			continue
		}

		credID, err := s.ownerFor(ctx, pkg)
		if err != nil || credID == "" {
			if err != nil {
				slog.Warn("skipping package, owner resolution failed", "slug", pkg.Slug, "error", err)
			}
			continue
		}

		rel, err := s.releases.ByChannel(ctx, pkg.Repository, s.Channel(), credID)
		if err != nil {
			slog.Warn("skipping package, release fetch failed",
				"slug", pkg.Slug, "repository", pkg.Repository, "error", err)
			continue
		}
		if rel == nil {
			continue
		}

		if model.IsNewerVersion(rel.Tag, pkg.InstalledVersion) {
			candidates = append(candidates, model.UpdateCandidate{Package: pkg, Release: *rel})
		}
	}

	return candidates, nil
}

// InstallVersion resolves the exact release for repository and drives the
// install state machine end-to-end.
func (s *UpdateService) InstallVersion(ctx context.Context, repository, version string) (model.InstallResult, error) {
	pkg, credID, err := s.packageFor(ctx, repository)
	if err != nil {
		return model.InstallResult{Repository: repository}, err
	}

	rel, err := s.releases.ByVersion(ctx, repository, version, credID)
	if err != nil {
		return model.InstallResult{Repository: repository, Slug: pkg.Slug}, err
	}
	if rel == nil {
		return model.InstallResult{Repository: repository, Slug: pkg.Slug},
			&model.NotFoundError{Kind: "release", Key: repository + "@" + version}
	}

	return s.installer.Install(ctx, *pkg, *rel, credID)
}

// Rollback installs an older release: the named target version, or when
// targetVersion is empty, the release immediately preceding the currently
// installed one (drafts skipped). Rollback is a normal install, not a
// separate path with different guarantees.
func (s *UpdateService) Rollback(ctx context.Context, repository, targetVersion string) (model.InstallResult, error) {
	pkg, credID, err := s.packageFor(ctx, repository)
	if err != nil {
		return model.InstallResult{Repository: repository}, err
	}

	var rel *model.ReleaseDescriptor
	if targetVersion != "" {
		rel, err = s.releases.ByVersion(ctx, repository, targetVersion, credID)
	} else {
		rel, err = s.releases.Previous(ctx, repository, pkg.InstalledVersion, credID)
	}
	if err != nil {
		return model.InstallResult{Repository: repository, Slug: pkg.Slug}, err
	}
	if rel == nil {
		return model.InstallResult{Repository: repository, Slug: pkg.Slug},
			&model.NotFoundError{Kind: "release", Key: repository + " rollback target"}
	}

	return s.installer.Install(ctx, *pkg, *rel, credID)
}

// ConnectionStatus summarizes a credential's health. It always resolves to
// one of the four states; underlying failures are logged and reported as a
// generic connection error, never surfaced raw.
func (s *UpdateService) ConnectionStatus(ctx context.Context, credentialID string) model.ConnectionStatus {
	rec, err := s.creds.Find(ctx, credentialID)
	if err != nil {
		slog.Error("connection status lookup failed", "credential_id", credentialID, "error", err)
		// A repaired (corrupted) record is configured-from-scratch again.
		if rec != nil {
			return model.ConnectionStatus{
				State:   model.ConnectionNotConfigured,
				Message: "Credentials need to be set up again.",
			}
		}
		return model.ConnectionStatus{
			State:   model.ConnectionError,
			Message: "Could not read the connection settings.",
		}
	}
	if rec == nil || (rec.SigningID == 0 && !rec.HasUsableKey()) {
		return model.ConnectionStatus{
			State:   model.ConnectionNotConfigured,
			Message: "No GitHub App is configured yet.",
		}
	}
	if rec.InstallationID == 0 {
		return model.ConnectionStatus{
			State:   model.ConnectionAppCreated,
			Message: "The app exists but has not been installed on an account.",
			Details: map[string]string{"account": rec.OrgSlug},
		}
	}

	if _, err := s.broker.InstallationToken(ctx, credentialID); err != nil {
		slog.Error("connection check failed", "credential_id", credentialID, "error", err)
		return model.ConnectionStatus{
			State:   model.ConnectionError,
			Message: "Could not authenticate with GitHub.",
		}
	}

	return model.ConnectionStatus{
		State:   model.ConnectionInstalled,
		Message: "Connected.",
		Details: map[string]string{
			"account":      rec.OrgSlug,
			"repositories": fmt.Sprintf("%d", len(rec.ManagedRepositories)),
		},
	}
}

// ListManagedRepositories returns the repositories a credential may act on.
func (s *UpdateService) ListManagedRepositories(ctx context.Context, credentialID string) ([]string, error) {
	rec, err := s.creds.Find(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &model.NotFoundError{Kind: "credential", Key: credentialID}
	}
	return append([]string(nil), rec.ManagedRepositories...), nil
}

// RegisterPackage adds or updates a managed package, resolving its owning
// credential from the repository index.
func (s *UpdateService) RegisterPackage(ctx context.Context, pkg model.ManagedPackage) (model.ManagedPackage, error) {
	if pkg.Repository != "" {
		owner, err := s.resolver.ResolveOwner(ctx, pkg.Repository)
		if err != nil {
			return model.ManagedPackage{}, err
		}
		pkg.OwnerCredentialID = owner
	}
	if err := s.pkgs.Upsert(ctx, pkg); err != nil {
		return model.ManagedPackage{}, err
	}
	return pkg, nil
}

// SetChannel switches the release channel and invalidates every cached
// release list so the next check resolves against the new preference.
func (s *UpdateService) SetChannel(ctx context.Context, channel model.Channel) error {
	if channel != model.ChannelStable && channel != model.ChannelBeta {
		return fmt.Errorf("unknown channel %q", channel)
	}
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	pkgs, err := s.pkgs.List(ctx)
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		if pkg.Repository == "" {
			continue
		}
		if err := s.releases.InvalidateCache(ctx, pkg.Repository); err != nil {
			slog.Warn("could not invalidate release cache", "repository", pkg.Repository, "error", err)
		}
	}
	return nil
}

// Channel returns the active release channel. The preference can be switched
// while update checks are in flight, so reads go through the same lock as
// SetChannel.
func (s *UpdateService) Channel() model.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// ownerFor prefers the package's recorded owner, falling back to the reverse
// index.
func (s *UpdateService) ownerFor(ctx context.Context, pkg model.ManagedPackage) (string, error) {
	if pkg.OwnerCredentialID != "" {
		return pkg.OwnerCredentialID, nil
	}
	return s.resolver.ResolveOwner(ctx, pkg.Repository)
}

// packageFor finds the managed package declaring repository and its owning
// credential.
func (s *UpdateService) packageFor(ctx context.Context, repository string) (*model.ManagedPackage, string, error) {
	pkgs, err := s.pkgs.List(ctx)
	if err != nil {
		return nil, "", err
	}
	for i := range pkgs {
		if pkgs[i].Repository == repository {
			credID, err := s.ownerFor(ctx, pkgs[i])
			if err != nil {
				return nil, "", err
			}
			if credID == "" {
				return nil, "", &model.NotFoundError{Kind: "credential", Key: repository}
			}
			return &pkgs[i], credID, nil
		}
	}
	return nil, "", &model.NotFoundError{Kind: "package", Key: repository}
}
