package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// mergedListingCacheKey holds the aggregated package-listing collaborators
// read; it is invalidated after every successful install so the next read
// reflects the new version.
const mergedListingCacheKey = "wp2_packages_merged"

// markerFile returns the manifest a verified archive must contain for the
// package type.
func markerFile(t model.PackageType) string {
	if t == model.PackageTheme {
		return "theme.json"
	}
	return "plugin.json"
}

// InstallService drives one install attempt through the stages, from
// Resolving through Downloading, Verifying, and Installing to Cleanup. The
// downloaded archive and scratch directory are removed on every exit path.
// At most one install runs per repository at a time.
type InstallService struct {
	clients *ClientProvider
	host    driven.PackageHost
	pkgs    driven.PackageStore
	cache   driven.ConfigStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-repository install locks.
}

// NewInstallService creates an InstallService.
func NewInstallService(clients *ClientProvider, host driven.PackageHost, pkgs driven.PackageStore, cache driven.ConfigStore) *InstallService {
	return &InstallService{
		clients: clients,
		host:    host,
		pkgs:    pkgs,
		cache:   cache,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Install downloads, verifies, and installs the given release for the
// package. On failure the result carries the failing stage; the returned
// error is an *model.InstallError wrapping the cause.
func (s *InstallService) Install(ctx context.Context, pkg model.ManagedPackage, rel model.ReleaseDescriptor, credentialID string) (model.InstallResult, error) {
	lock := s.repoLock(pkg.Repository)
	lock.Lock()
	defer lock.Unlock()

	result := model.InstallResult{
		Repository: pkg.Repository,
		Slug:       pkg.Slug,
		Tag:        rel.Tag,
	}

	fail := func(stage model.InstallStage, cause error) (model.InstallResult, error) {
		result.FailedStage = stage
		result.Reason = cause.Error()
		slog.Error("install failed",
			"slug", pkg.Slug, "repository", pkg.Repository, "tag", rel.Tag,
			"stage", stage, "error", cause)
		return result, &model.InstallError{Stage: stage, Cause: cause}
	}

	// Resolving.
	url := rel.DownloadURL()
	if url == "" {
		return fail(model.StageResolving, fmt.Errorf("release %s has nothing installable", rel.Tag))
	}

	// Downloading.
	archive, err := os.CreateTemp("", "wp2-download-*.zip")
	if err != nil {
		return fail(model.StageDownloading, fmt.Errorf("create temp file: %w", err))
	}
	archivePath := archive.Name()
	defer os.Remove(archivePath)

	host, err := s.clients.Get(ctx, credentialID)
	if err != nil {
		archive.Close()
		return fail(model.StageDownloading, err)
	}

	n, err := host.Download(ctx, url, archive)
	if closeErr := archive.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fail(model.StageDownloading, err)
	}
	if n == 0 {
		return fail(model.StageDownloading, fmt.Errorf("empty download from %s", url))
	}

	// Verifying.
	scratch, err := os.MkdirTemp("", "wp2-verify-*")
	if err != nil {
		return fail(model.StageVerifying, fmt.Errorf("create scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	if err := s.verify(ctx, archivePath, scratch, pkg.Type); err != nil {
		return fail(model.StageVerifying, err)
	}

	// Installing. No cancellation once this begins: the swap runs to
	// completion or failure.
	if err := s.host.InstallFromArchive(context.WithoutCancel(ctx), archivePath, pkg.Slug, true); err != nil {
		return fail(model.StageInstalling, err)
	}

	// Cleanup bookkeeping: record the new version and drop the merged
	// listing so the next read sees it.
	version := model.NormalizeVersion(rel.Tag)
	if err := s.pkgs.SetInstalledVersion(ctx, pkg.Slug, version); err != nil {
		slog.Warn("installed but could not record version", "slug", pkg.Slug, "error", err)
	}
	if err := s.cache.Delete(ctx, mergedListingCacheKey); err != nil {
		slog.Warn("installed but could not invalidate listing cache", "error", err)
	}

	result.Success = true
	slog.Info("package installed", "slug", pkg.Slug, "repository", pkg.Repository, "tag", rel.Tag)
	return result, nil
}

// verify extracts the archive to scratch and enforces the structural
// contract: exactly one top-level entry, that entry a directory, and the
// type's marker manifest inside it.
func (s *InstallService) verify(ctx context.Context, archivePath, scratch string, typ model.PackageType) error {
	if err := s.host.ExtractArchive(ctx, archivePath, scratch); err != nil {
		return err
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return fmt.Errorf("read scratch dir: %w", err)
	}
	if len(entries) != 1 {
		return &model.ArchiveError{Reason: fmt.Sprintf("expected one top-level entry, found %d", len(entries))}
	}
	if !entries[0].IsDir() {
		return &model.ArchiveError{Reason: "top-level entry is not a directory"}
	}

	marker := markerFile(typ)
	if _, err := os.Stat(filepath.Join(scratch, entries[0].Name(), marker)); err != nil {
		return &model.ArchiveError{Reason: fmt.Sprintf("missing %s marker %s", typ, marker)}
	}

	return nil
}

func (s *InstallService) repoLock(repository string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[repository]; !ok {
		s.locks[repository] = &sync.Mutex{}
	}
	return s.locks[repository]
}
