// Package hostfs implements the PackageHost port on the local filesystem:
// zip extraction, atomic directory-swap installs, and version probing.
package hostfs

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// Marker manifests. Every installable package carries exactly one of these in
// its top-level directory; InstalledVersion reads the version from it.
const (
	PluginManifest = "plugin.json"
	ThemeManifest  = "theme.json"
)

// Compile-time interface satisfaction check.
var _ driven.PackageHost = (*Installer)(nil)

// Installer implements driven.PackageHost under a single packages root
// directory. Installed packages live at <root>/<slug>.
type Installer struct {
	root string
}

// NewInstaller creates an Installer rooted at dir, creating it if needed.
func NewInstaller(dir string) (*Installer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create packages root: %w", err)
	}
	return &Installer{root: dir}, nil
}

// ExtractArchive unpacks the zip at archivePath into destDir. Entries that
// would escape destDir are rejected rather than skipped: a traversal attempt
// means the archive cannot be trusted at all.
func (i *Installer) ExtractArchive(ctx context.Context, archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return &model.ArchiveError{Reason: "not a zip archive"}
	}
	defer reader.Close()

	cleanDest := filepath.Clean(destDir)
	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		destPath := filepath.Join(cleanDest, file.Name)
		if !strings.HasPrefix(destPath, cleanDest+string(os.PathSeparator)) {
			return &model.ArchiveError{Reason: fmt.Sprintf("entry %q escapes destination", file.Name)}
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("create dir %q: %w", file.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("create parent for %q: %w", file.Name, err)
		}
		if err := extractFile(file, destPath); err != nil {
			return fmt.Errorf("extract %q: %w", file.Name, err)
		}
	}

	return nil
}

func extractFile(file *zip.File, destPath string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// InstallFromArchive installs the archive at archivePath as slug. The archive
// is extracted to a staging directory next to the target; the single
// top-level directory inside is renamed over <root>/<slug>, with the previous
// installation moved aside first and restored if the swap fails.
func (i *Installer) InstallFromArchive(ctx context.Context, archivePath, slug string, overwrite bool) error {
	target := filepath.Join(i.root, slug)

	if _, err := os.Stat(target); err == nil && !overwrite {
		return &model.InstallError{Stage: model.StageInstalling, Cause: fmt.Errorf("package %q already installed", slug)}
	}

	staging, err := os.MkdirTemp(i.root, ".staging-"+slug+"-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := i.ExtractArchive(ctx, archivePath, staging); err != nil {
		return err
	}

	rootDir, err := singleRoot(staging)
	if err != nil {
		return err
	}

	backup := target + ".previous"
	hadPrevious := false
	if _, err := os.Stat(target); err == nil {
		os.RemoveAll(backup)
		if err := os.Rename(target, backup); err != nil {
			return &model.InstallError{Stage: model.StageInstalling, Cause: fmt.Errorf("move previous install aside: %w", err)}
		}
		hadPrevious = true
	}

	if err := os.Rename(rootDir, target); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(backup, target); restoreErr != nil {
				slog.Error("failed to restore previous install", "slug", slug, "error", restoreErr)
			}
		}
		return &model.InstallError{Stage: model.StageInstalling, Cause: fmt.Errorf("swap in new install: %w", err)}
	}

	if hadPrevious {
		if err := os.RemoveAll(backup); err != nil {
			slog.Warn("could not remove install backup", "slug", slug, "error", err)
		}
	}

	return nil
}

// InstalledVersion reads the version from the package's marker manifest, or
// returns "" when the package (or its manifest) is absent.
func (i *Installer) InstalledVersion(ctx context.Context, slug string) (string, error) {
	for _, marker := range []string{PluginManifest, ThemeManifest} {
		data, err := os.ReadFile(filepath.Join(i.root, slug, marker))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read manifest for %q: %w", slug, err)
		}

		var manifest struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return "", fmt.Errorf("parse manifest for %q: %w", slug, err)
		}
		return manifest.Version, nil
	}
	return "", nil
}

// singleRoot returns the path of dir's only entry if that entry is a
// directory, matching the structural contract imposed on package archives.
func singleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read staging dir: %w", err)
	}
	if len(entries) != 1 {
		return "", &model.ArchiveError{Reason: fmt.Sprintf("expected one top-level entry, found %d", len(entries))}
	}
	if !entries[0].IsDir() {
		return "", &model.ArchiveError{Reason: "top-level entry is not a directory"}
	}
	return filepath.Join(dir, entries[0].Name()), nil
}
