package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// CredentialResponse is the JSON representation of a sanitized credential
// record. Secret material never appears here.
type CredentialResponse struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Slug                string   `json:"slug"`
	AccountType         string   `json:"account_type"`
	OrgSlug             string   `json:"org_slug"`
	SigningID           int64    `json:"signing_id"`
	InstallationID      int64    `json:"installation_id"`
	ManagedRepositories []string `json:"managed_repositories"`
	Status              string   `json:"status"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
}

func toCredentialResponse(rec model.CredentialRecord) CredentialResponse {
	repos := rec.ManagedRepositories
	if repos == nil {
		repos = []string{}
	}
	return CredentialResponse{
		ID:                  rec.ID,
		Name:                rec.Name,
		Slug:                rec.Slug,
		AccountType:         string(rec.Account),
		OrgSlug:             rec.OrgSlug,
		SigningID:           rec.SigningID,
		InstallationID:      rec.InstallationID,
		ManagedRepositories: repos,
		Status:              string(rec.Status),
		CreatedAt:           rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// PackageResponse is the JSON representation of a managed package.
type PackageResponse struct {
	Slug              string `json:"slug"`
	Type              string `json:"type"`
	Repository        string `json:"repository"`
	InstalledVersion  string `json:"installed_version"`
	OwnerCredentialID string `json:"owner_credential_id"`
}

func toPackageResponse(pkg model.ManagedPackage) PackageResponse {
	return PackageResponse{
		Slug:              pkg.Slug,
		Type:              string(pkg.Type),
		Repository:        pkg.Repository,
		InstalledVersion:  pkg.InstalledVersion,
		OwnerCredentialID: pkg.OwnerCredentialID,
	}
}

// UpdateCandidateResponse is one available update.
type UpdateCandidateResponse struct {
	Slug             string `json:"slug"`
	Repository       string `json:"repository"`
	InstalledVersion string `json:"installed_version"`
	AvailableVersion string `json:"available_version"`
	Prerelease       bool   `json:"prerelease"`
	PublishedAt      string `json:"published_at"`
}

func toUpdateCandidateResponse(c model.UpdateCandidate) UpdateCandidateResponse {
	return UpdateCandidateResponse{
		Slug:             c.Package.Slug,
		Repository:       c.Package.Repository,
		InstalledVersion: c.Package.InstalledVersion,
		AvailableVersion: model.NormalizeVersion(c.Release.Tag),
		Prerelease:       c.Release.Prerelease,
		PublishedAt:      c.Release.PublishedAt.UTC().Format(time.RFC3339),
	}
}

// InstallResultResponse reports a finished install attempt.
type InstallResultResponse struct {
	Repository  string `json:"repository"`
	Slug        string `json:"slug"`
	Tag         string `json:"tag"`
	Success     bool   `json:"success"`
	FailedStage string `json:"failed_stage,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func toInstallResultResponse(res model.InstallResult) InstallResultResponse {
	return InstallResultResponse{
		Repository:  res.Repository,
		Slug:        res.Slug,
		Tag:         res.Tag,
		Success:     res.Success,
		FailedStage: string(res.FailedStage),
		Reason:      res.Reason,
	}
}
