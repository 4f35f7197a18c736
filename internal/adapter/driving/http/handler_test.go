package httphandler

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourfreewp/wp2-update/internal/adapter/driven/hostfs"
	sqliteadapter "github.com/ourfreewp/wp2-update/internal/adapter/driven/sqlite"
	"github.com/ourfreewp/wp2-update/internal/application"
	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
	"github.com/ourfreewp/wp2-update/internal/secret"
)

// stubExchanger hands out a fixed token for any credential.
type stubExchanger struct{}

func (stubExchanger) ExchangeToken(_ context.Context, _ string, _, installationID int64) (*model.CachedToken, error) {
	return &model.CachedToken{
		InstallationID: installationID,
		Token:          "ghs_stub",
		ExpiresAt:      time.Now().Add(time.Hour),
	}, nil
}

// stubHost serves canned releases and a canned archive.
type stubHost struct {
	releases []model.ReleaseDescriptor
	archive  []byte
}

func (s *stubHost) ListReleases(context.Context, string, string) ([]model.ReleaseDescriptor, error) {
	return append([]model.ReleaseDescriptor(nil), s.releases...), nil
}

func (s *stubHost) ReleaseByTag(_ context.Context, _, _, tag string) (*model.ReleaseDescriptor, error) {
	for i := range s.releases {
		if s.releases[i].Tag == tag {
			out := s.releases[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubHost) Download(_ context.Context, _ string, w io.Writer) (int64, error) {
	n, err := w.Write(s.archive)
	return int64(n), err
}

func (s *stubHost) RateLimit(context.Context) (int, time.Time, error) {
	return 5000, time.Time{}, nil
}

var (
	_ driven.TokenExchanger = stubExchanger{}
	_ driven.ReleaseHost    = (*stubHost)(nil)
)

type apiFixture struct {
	srv  *httptest.Server
	host *stubHost
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqliteadapter.NewDB(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqliteadapter.RunMigrations(db.Writer))

	configStore := sqliteadapter.NewConfigRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db)
	packageStore := sqliteadapter.NewPackageRepo(db)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	cipher, err := secret.New(key)
	require.NoError(t, err)

	installer, err := hostfs.NewInstaller(t.TempDir())
	require.NoError(t, err)

	host := &stubHost{}
	creds := application.NewCredentialService(credentialStore, cipher, configStore)
	broker := application.NewTokenBroker(creds, stubExchanger{}, configStore)
	provider := application.NewClientProvider(broker, func(string) driven.ReleaseHost { return host })
	resolver := application.NewRepoResolver(credentialStore)
	creds.SetChangeListener(resolver.Invalidate)
	releases := application.NewReleaseService(provider, configStore)
	installs := application.NewInstallService(provider, installer, packageStore, configStore)
	updates := application.NewUpdateService(creds, resolver, releases, installs, packageStore, broker, model.ChannelStable)

	handler := NewHandler(creds, updates, packageStore, logger)
	srv := httptest.NewServer(NewServeMux(handler, logger))
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, host: host}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// saveCredential creates an installed credential over the API and returns its id.
func (f *apiFixture) saveCredential(t *testing.T) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/credentials", `{
		"name": "Acme App",
		"org_slug": "acme",
		"signing_id": 1234,
		"installation_id": 42,
		"private_key": "pem material",
		"managed_repositories": ["acme/my-plugin"]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[CredentialResponse](t, resp).ID
}

func TestAPI_Health(t *testing.T) {
	fix := newAPIFixture(t)

	resp := fix.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CredentialLifecycle(t *testing.T) {
	fix := newAPIFixture(t)

	id := fix.saveCredential(t)
	require.NotEmpty(t, id)

	// The response body never carries secret material, under any name.
	resp := fix.do(t, http.MethodGet, "/api/v1/credentials", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "pem material")
	assert.NotContains(t, string(raw), "private_key")

	var list []CredentialResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "pending", list[0].Status)
	assert.Equal(t, []string{"acme/my-plugin"}, list[0].ManagedRepositories)

	// Partial update: rename without resending the key.
	resp = fix.do(t, http.MethodPost, "/api/v1/credentials", `{"id": "`+id+`", "name": "Renamed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[CredentialResponse](t, resp)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, int64(1234), updated.SigningID)

	resp = fix.do(t, http.MethodDelete, "/api/v1/credentials/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = fix.do(t, http.MethodGet, "/api/v1/credentials", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]CredentialResponse](t, resp))
}

func TestAPI_SaveCredentialValidation(t *testing.T) {
	fix := newAPIFixture(t)

	resp := fix.do(t, http.MethodPost, "/api/v1/credentials", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = fix.do(t, http.MethodPost, "/api/v1/credentials", `{"account_type": "martian"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = fix.do(t, http.MethodPost, "/api/v1/credentials", `{"id": "unknown", "name": "x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ConnectionStatus(t *testing.T) {
	fix := newAPIFixture(t)
	id := fix.saveCredential(t)

	resp := fix.do(t, http.MethodGet, "/api/v1/credentials/"+id+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[model.ConnectionStatus](t, resp)
	assert.Equal(t, model.ConnectionInstalled, status.State)

	resp = fix.do(t, http.MethodGet, "/api/v1/credentials/unknown/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = decodeBody[model.ConnectionStatus](t, resp)
	assert.Equal(t, model.ConnectionNotConfigured, status.State)
}

func TestAPI_CompleteInstallation(t *testing.T) {
	fix := newAPIFixture(t)

	resp := fix.do(t, http.MethodPost, "/api/v1/credentials", `{
		"name": "Pending App",
		"signing_id": 99,
		"private_key": "pem"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := decodeBody[CredentialResponse](t, resp).ID

	resp = fix.do(t, http.MethodPost, "/api/v1/credentials/"+id+"/installation", `{"installation_id": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = fix.do(t, http.MethodPost, "/api/v1/credentials/"+id+"/installation", `{"installation_id": 777}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[CredentialResponse](t, resp)
	assert.Equal(t, "installed", rec.Status)
	assert.Equal(t, int64(777), rec.InstallationID)
}

func TestAPI_PackageRegistrationAndUpdates(t *testing.T) {
	fix := newAPIFixture(t)
	fix.saveCredential(t)
	fix.host.releases = []model.ReleaseDescriptor{
		{Tag: "v2.0.0", ArchiveURL: "https://api.example.test/zipball/v2.0.0"},
	}

	resp := fix.do(t, http.MethodPost, "/api/v1/packages", `{
		"slug": "my-plugin",
		"type": "plugin",
		"repository": "acme/my-plugin",
		"installed_version": "1.0.0"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pkg := decodeBody[PackageResponse](t, resp)
	assert.NotEmpty(t, pkg.OwnerCredentialID, "registration resolves the owning credential")

	resp = fix.do(t, http.MethodGet, "/api/v1/updates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updates := decodeBody[[]UpdateCandidateResponse](t, resp)
	require.Len(t, updates, 1)
	assert.Equal(t, "my-plugin", updates[0].Slug)
	assert.Equal(t, "2.0.0", updates[0].AvailableVersion)
}

func TestAPI_RegisterPackageValidation(t *testing.T) {
	fix := newAPIFixture(t)

	resp := fix.do(t, http.MethodPost, "/api/v1/packages", `{"type": "plugin"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = fix.do(t, http.MethodPost, "/api/v1/packages", `{"slug": "x", "type": "widget"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_InstallPackage(t *testing.T) {
	fix := newAPIFixture(t)
	fix.saveCredential(t)
	fix.host.releases = []model.ReleaseDescriptor{
		{Tag: "v2.0.0", ArchiveURL: "https://api.example.test/zipball/v2.0.0"},
	}
	fix.host.archive = testPluginZip(t, "2.0.0")

	resp := fix.do(t, http.MethodPost, "/api/v1/packages", `{
		"slug": "my-plugin",
		"type": "plugin",
		"repository": "acme/my-plugin",
		"installed_version": "1.0.0"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = fix.do(t, http.MethodPost, "/api/v1/packages/my-plugin/install", `{"version": "2.0.0"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[InstallResultResponse](t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "v2.0.0", result.Tag)
}

func TestAPI_InstallPackageFailureCarriesStage(t *testing.T) {
	fix := newAPIFixture(t)
	fix.saveCredential(t)
	fix.host.releases = []model.ReleaseDescriptor{
		{Tag: "v2.0.0", ArchiveURL: "https://api.example.test/zipball/v2.0.0"},
	}
	fix.host.archive = []byte("not a zip")

	resp := fix.do(t, http.MethodPost, "/api/v1/packages", `{
		"slug": "my-plugin",
		"type": "plugin",
		"repository": "acme/my-plugin",
		"installed_version": "1.0.0"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = fix.do(t, http.MethodPost, "/api/v1/packages/my-plugin/install", `{"version": "2.0.0"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	result := decodeBody[InstallResultResponse](t, resp)
	assert.False(t, result.Success)
	assert.Equal(t, "verifying", result.FailedStage)
}

func TestAPI_InstallPackageNotFound(t *testing.T) {
	fix := newAPIFixture(t)

	resp := fix.do(t, http.MethodPost, "/api/v1/packages/unknown/install", `{"version": "1.0.0"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_SetChannel(t *testing.T) {
	fix := newAPIFixture(t)

	resp := fix.do(t, http.MethodPut, "/api/v1/channel", `{"channel": "beta"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = fix.do(t, http.MethodPut, "/api/v1/channel", `{"channel": "nightly"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListRepositories(t *testing.T) {
	fix := newAPIFixture(t)
	id := fix.saveCredential(t)

	resp := fix.do(t, http.MethodGet, "/api/v1/credentials/"+id+"/repositories", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"acme/my-plugin"}, decodeBody[[]string](t, resp))

	resp = fix.do(t, http.MethodGet, "/api/v1/credentials/unknown/repositories", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// testPluginZip builds a minimal well-formed plugin archive in memory.
func testPluginZip(t *testing.T, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"my-plugin/plugin.json": `{"version":"` + version + `"}`,
		"my-plugin/main.php":    "<?php",
	} {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}
