package model

import "time"

// PackageType distinguishes the two kinds of managed packages.
type PackageType string

const (
	PackagePlugin PackageType = "plugin"
	PackageTheme  PackageType = "theme"
)

// ManagedPackage is a locally installed plugin or theme whose declared
// upstream repository is tracked for updates. OwnerCredentialID is empty when
// no credential record claims the repository.
type ManagedPackage struct {
	Slug              string
	Type              PackageType
	Repository        string
	InstalledVersion  string
	OwnerCredentialID string
	UpdatedAt         time.Time
}

// UpdateCandidate pairs a managed package with the newer release resolved for
// its channel.
type UpdateCandidate struct {
	Package ManagedPackage
	Release ReleaseDescriptor
}
