// Package httphandler is the HTTP driving adapter that serves the admin REST API.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ourfreewp/wp2-update/internal/application"
	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter over the update pipeline and
// credential service.
type Handler struct {
	creds    *application.CredentialService
	updates  *application.UpdateService
	pkgStore driven.PackageStore
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	creds *application.CredentialService,
	updates *application.UpdateService,
	pkgStore driven.PackageStore,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		creds:    creds,
		updates:  updates,
		pkgStore: pkgStore,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/credentials", h.SaveCredential)
	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", h.DeleteCredential)
	mux.HandleFunc("GET /api/v1/credentials/{id}/status", h.ConnectionStatus)
	mux.HandleFunc("GET /api/v1/credentials/{id}/repositories", h.ListRepositories)
	mux.HandleFunc("POST /api/v1/credentials/{id}/installation", h.CompleteInstallation)

	mux.HandleFunc("GET /api/v1/packages", h.ListPackages)
	mux.HandleFunc("POST /api/v1/packages", h.RegisterPackage)
	mux.HandleFunc("POST /api/v1/packages/{slug}/install", h.InstallPackage)
	mux.HandleFunc("POST /api/v1/packages/{slug}/rollback", h.RollbackPackage)

	mux.HandleFunc("GET /api/v1/updates", h.CheckForUpdates)
	mux.HandleFunc("PUT /api/v1/channel", h.SetChannel)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := withRecovery(logger, mux)
	wrapped = withAccessLog(logger, wrapped)

	return wrapped
}

// credentialRequest is the partial-update body for SaveCredential. Absent
// fields leave the stored value untouched.
type credentialRequest struct {
	ID                  string    `json:"id"`
	Name                *string   `json:"name"`
	Slug                *string   `json:"slug"`
	AccountType         *string   `json:"account_type"`
	OrgSlug             *string   `json:"org_slug"`
	SigningID           *int64    `json:"signing_id"`
	InstallationID      *int64    `json:"installation_id"`
	PrivateKey          *string   `json:"private_key"`
	WebhookSecret       *string   `json:"webhook_secret"`
	ManagedRepositories *[]string `json:"managed_repositories"`
}

// SaveCredential creates or partially updates a credential record. The
// response never contains secret material.
func (h *Handler) SaveCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := application.CredentialUpdate{
		ID:                  req.ID,
		Name:                req.Name,
		Slug:                req.Slug,
		OrgSlug:             req.OrgSlug,
		SigningID:           req.SigningID,
		InstallationID:      req.InstallationID,
		PrivateKey:          req.PrivateKey,
		WebhookSecret:       req.WebhookSecret,
		ManagedRepositories: req.ManagedRepositories,
	}
	if req.AccountType != nil {
		account := model.AccountType(*req.AccountType)
		if account != model.AccountTypeUser && account != model.AccountTypeOrganization {
			writeError(w, http.StatusBadRequest, "invalid account type")
			return
		}
		upd.Account = &account
	}

	rec, err := h.creds.Save(r.Context(), upd)
	if err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		h.logger.Error("failed to save credential", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(rec))
}

// ListCredentials returns all credential records, sanitized.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	recs, err := h.creds.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CredentialResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toCredentialResponse(rec.Sanitized()))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteCredential disconnects a credential record and drops its cached token.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.logger.Error("failed to delete credential", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConnectionStatus reports one of the four connection states for a credential.
func (h *Handler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	status := h.updates.ConnectionStatus(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, status)
}

// ListRepositories returns the repositories a credential manages.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.updates.ListManagedRepositories(r.Context(), r.PathValue("id"))
	if err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		h.logger.Error("failed to list repositories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if repos == nil {
		repos = []string{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// CompleteInstallation records the installation id GitHub assigned and moves
// the record to installed.
func (h *Handler) CompleteInstallation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstallationID int64 `json:"installation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InstallationID == 0 {
		writeError(w, http.StatusBadRequest, "installation_id is required")
		return
	}

	rec, err := h.creds.CompleteInstallation(r.Context(), r.PathValue("id"), req.InstallationID)
	if err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		h.logger.Error("failed to complete installation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toCredentialResponse(rec))
}

// ListPackages returns the managed-package inventory.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.pkgStore.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list packages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PackageResponse, 0, len(pkgs))
	for _, pkg := range pkgs {
		resp = append(resp, toPackageResponse(pkg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterPackage adds a locally discovered package to the inventory.
func (h *Handler) RegisterPackage(w http.ResponseWriter, r *http.Request) {
	var req PackageResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		writeError(w, http.StatusBadRequest, "slug is required")
		return
	}
	typ := model.PackageType(req.Type)
	if typ != model.PackagePlugin && typ != model.PackageTheme {
		writeError(w, http.StatusBadRequest, "type must be plugin or theme")
		return
	}

	pkg, err := h.updates.RegisterPackage(r.Context(), model.ManagedPackage{
		Slug:             req.Slug,
		Type:             typ,
		Repository:       req.Repository,
		InstalledVersion: req.InstalledVersion,
	})
	if err != nil {
		h.logger.Error("failed to register package", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toPackageResponse(pkg))
}

// InstallPackage installs a specific version of a managed package.
func (h *Handler) InstallPackage(w http.ResponseWriter, r *http.Request) {
	h.runInstall(w, r, false)
}

// RollbackPackage installs the previous (or a named older) release.
func (h *Handler) RollbackPackage(w http.ResponseWriter, r *http.Request) {
	h.runInstall(w, r, true)
}

func (h *Handler) runInstall(w http.ResponseWriter, r *http.Request, rollback bool) {
	slug := r.PathValue("slug")

	pkg, err := h.pkgStore.Get(r.Context(), slug)
	if err != nil {
		h.logger.Error("failed to load package", "slug", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if pkg == nil {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}

	var req struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !rollback {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !rollback && req.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	var result model.InstallResult
	if rollback {
		result, err = h.updates.Rollback(r.Context(), pkg.Repository, req.Version)
	} else {
		result, err = h.updates.InstallVersion(r.Context(), pkg.Repository, req.Version)
	}
	if err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, notFound.Error())
			return
		}
		// The result carries the failing stage; surface it with a 502 so the
		// caller can decide whether to retry.
		writeJSON(w, http.StatusBadGateway, toInstallResultResponse(result))
		return
	}

	writeJSON(w, http.StatusOK, toInstallResultResponse(result))
}

// CheckForUpdates returns the available update candidates.
func (h *Handler) CheckForUpdates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.updates.CheckForUpdates(r.Context())
	if err != nil {
		h.logger.Error("update check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]UpdateCandidateResponse, 0, len(candidates))
	for _, c := range candidates {
		resp = append(resp, toUpdateCandidateResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetChannel switches the release channel preference.
func (h *Handler) SetChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.updates.SetChannel(r.Context(), model.Channel(req.Channel)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
