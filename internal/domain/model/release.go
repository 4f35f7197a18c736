package model

import (
	"strings"
	"time"
)

// Channel is a release-selection policy applied when resolving "latest".
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelBeta   Channel = "beta"
)

// ReleaseAsset is one downloadable file attached to a release.
type ReleaseAsset struct {
	Name        string
	ContentType string
	URL         string
}

// ReleaseDescriptor is the metadata for one published release of a managed
// repository. ArchiveURL is the source zipball fallback used when no zip
// asset was uploaded.
type ReleaseDescriptor struct {
	Tag         string
	Name        string
	PublishedAt time.Time
	Draft       bool
	Prerelease  bool
	Assets      []ReleaseAsset
	ArchiveURL  string
}

// zip MIME types GitHub reports for uploaded archive assets.
func isZipContentType(ct string) bool {
	switch ct {
	case "application/zip", "application/x-zip-compressed", "application/octet-stream+zip":
		return true
	}
	return false
}

// DownloadURL returns the URL to fetch this release's archive from: the first
// asset with a zip content type, else the source-archive fallback. An empty
// return means nothing installable exists for this release.
func (d *ReleaseDescriptor) DownloadURL() string {
	for _, a := range d.Assets {
		if isZipContentType(a.ContentType) {
			return a.URL
		}
	}
	return d.ArchiveURL
}

// MatchesChannel reports whether this release belongs to the given channel.
// Drafts never match any channel.
func (d *ReleaseDescriptor) MatchesChannel(ch Channel) bool {
	if d.Draft {
		return false
	}
	if ch == ChannelStable {
		return !d.Prerelease
	}
	return d.Prerelease
}

// MatchesTag reports whether the release tag equals version after stripping a
// leading "v" from both sides.
func (d *ReleaseDescriptor) MatchesTag(version string) bool {
	return strings.TrimPrefix(d.Tag, "v") == strings.TrimPrefix(version, "v")
}
