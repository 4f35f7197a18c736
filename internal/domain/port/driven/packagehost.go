package driven

import "context"

// PackageHost defines the driven port for the host filesystem's package
// mechanics: archive extraction, atomic installation, and version probing.
type PackageHost interface {
	// ExtractArchive unpacks the zip at archivePath into destDir, which must
	// already exist and be empty.
	ExtractArchive(ctx context.Context, archivePath, destDir string) error

	// InstallFromArchive installs the verified archive at archivePath as
	// slug, replacing any existing installation when overwrite is true. The
	// swap is atomic: on failure the previous installation is restored.
	InstallFromArchive(ctx context.Context, archivePath, slug string, overwrite bool) error

	// InstalledVersion returns the version currently on disk for slug, or
	// "" when the package is not installed.
	InstalledVersion(ctx context.Context, slug string) (string, error)
}
