package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PackageStore = (*PackageRepo)(nil)

// PackageRepo is the SQLite implementation of the PackageStore port: the
// inventory of locally installed plugins/themes tracked for updates.
type PackageRepo struct {
	db *DB
}

// NewPackageRepo creates a new PackageRepo.
func NewPackageRepo(db *DB) *PackageRepo {
	return &PackageRepo{db: db}
}

// Upsert inserts or replaces the package with the given slug.
func (r *PackageRepo) Upsert(ctx context.Context, pkg model.ManagedPackage) error {
	const query = `
		INSERT OR REPLACE INTO packages
			(slug, type, repository, installed_version, owner_credential_id, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		pkg.Slug, string(pkg.Type), pkg.Repository, pkg.InstalledVersion, pkg.OwnerCredentialID)
	if err != nil {
		return fmt.Errorf("upsert package %q: %w", pkg.Slug, err)
	}
	return nil
}

// Get returns the package for slug, or (nil, nil) if none exists.
func (r *PackageRepo) Get(ctx context.Context, slug string) (*model.ManagedPackage, error) {
	const query = `
		SELECT slug, type, repository, installed_version, owner_credential_id, updated_at
		FROM packages WHERE slug = ?`

	pkg, err := scanPackage(r.db.Reader.QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package %q: %w", slug, err)
	}
	return pkg, nil
}

// List returns all managed packages ordered by slug.
func (r *PackageRepo) List(ctx context.Context) ([]model.ManagedPackage, error) {
	const query = `
		SELECT slug, type, repository, installed_version, owner_credential_id, updated_at
		FROM packages ORDER BY slug`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var pkgs []model.ManagedPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, *pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	return pkgs, nil
}

// SetInstalledVersion records the version now present on disk for slug.
func (r *PackageRepo) SetInstalledVersion(ctx context.Context, slug, version string) error {
	const query = `UPDATE packages SET installed_version = ?, updated_at = CURRENT_TIMESTAMP WHERE slug = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, version, slug); err != nil {
		return fmt.Errorf("set installed version for %q: %w", slug, err)
	}
	return nil
}

// Delete removes the package for slug.
func (r *PackageRepo) Delete(ctx context.Context, slug string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM packages WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("delete package %q: %w", slug, err)
	}
	return nil
}

func scanPackage(s scanner) (*model.ManagedPackage, error) {
	var pkg model.ManagedPackage
	var typ, updatedAt string

	err := s.Scan(&pkg.Slug, &typ, &pkg.Repository, &pkg.InstalledVersion, &pkg.OwnerCredentialID, &updatedAt)
	if err != nil {
		return nil, err
	}

	pkg.Type = model.PackageType(typ)
	if pkg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &pkg, nil
}
