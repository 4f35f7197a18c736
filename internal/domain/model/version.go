package model

import (
	"strings"

	"golang.org/x/mod/semver"
)

// NormalizeVersion strips a leading "v" so tags and declared versions compare
// as the same value regardless of prefix style.
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonical reattaches the "v" prefix semver.Compare requires.
func canonical(v string) string {
	return "v" + NormalizeVersion(v)
}

// CompareVersions returns -1, 0, or +1 as a is older than, equal to, or newer
// than b under semantic-version ordering, after normalizing both sides.
// Invalid versions sort before valid ones, matching semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// IsNewerVersion reports whether remote is strictly greater than installed.
// Equal-after-normalization is "up to date", never an update candidate.
func IsNewerVersion(remote, installed string) bool {
	return CompareVersions(remote, installed) > 0
}
