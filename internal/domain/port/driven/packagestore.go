package driven

import (
	"context"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

// PackageStore defines the driven port for the managed-package inventory:
// locally installed plugins/themes whose upstream repositories are tracked
// for updates.
type PackageStore interface {
	// Upsert inserts or replaces the package with the given slug.
	Upsert(ctx context.Context, pkg model.ManagedPackage) error

	// Get returns the package for slug, or (nil, nil) if none exists.
	Get(ctx context.Context, slug string) (*model.ManagedPackage, error)

	// List returns all managed packages ordered by slug.
	List(ctx context.Context) ([]model.ManagedPackage, error)

	// SetInstalledVersion records the version now present on disk for slug.
	SetInstalledVersion(ctx context.Context, slug, version string) error

	// Delete removes the package for slug.
	Delete(ctx context.Context, slug string) error
}
