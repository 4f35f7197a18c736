package application

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// fakeConfigStore is an in-memory driven.ConfigStore with real TTL handling
// against a swappable clock.
type fakeConfigStore struct {
	mu   sync.Mutex
	data map[string]fakeConfigEntry
	now  func() time.Time
}

type fakeConfigEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry.
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{data: make(map[string]fakeConfigEntry), now: time.Now}
}

func (f *fakeConfigStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.data[key]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && !f.now().Before(entry.expiresAt) {
		delete(f.data, key)
		return "", nil
	}
	return entry.value, nil
}

func (f *fakeConfigStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := fakeConfigEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = f.now().Add(ttl)
	}
	f.data[key] = entry
	return nil
}

func (f *fakeConfigStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeConfigStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

// fakeCredentialStore is an in-memory driven.CredentialStore preserving
// insertion order for List.
type fakeCredentialStore struct {
	mu      sync.Mutex
	records map[string]model.CredentialRecord
	order   []string
	upserts int
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{records: make(map[string]model.CredentialRecord)}
}

func (f *fakeCredentialStore) Upsert(_ context.Context, rec model.CredentialRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; !ok {
		f.order = append(f.order, rec.ID)
	}
	f.records[rec.ID] = rec
	f.upserts++
	return nil
}

func (f *fakeCredentialStore) Get(_ context.Context, id string) (*model.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (f *fakeCredentialStore) List(_ context.Context) ([]model.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.CredentialRecord, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.records[id])
	}
	return out, nil
}

func (f *fakeCredentialStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	for i, other := range f.order {
		if other == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

// fakePackageStore is an in-memory driven.PackageStore.
type fakePackageStore struct {
	mu       sync.Mutex
	packages map[string]model.ManagedPackage
}

func newFakePackageStore() *fakePackageStore {
	return &fakePackageStore{packages: make(map[string]model.ManagedPackage)}
}

func (f *fakePackageStore) Upsert(_ context.Context, pkg model.ManagedPackage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[pkg.Slug] = pkg
	return nil
}

func (f *fakePackageStore) Get(_ context.Context, slug string) (*model.ManagedPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg, ok := f.packages[slug]
	if !ok {
		return nil, nil
	}
	out := pkg
	return &out, nil
}

func (f *fakePackageStore) List(_ context.Context) ([]model.ManagedPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slugs := make([]string, 0, len(f.packages))
	for slug := range f.packages {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	out := make([]model.ManagedPackage, 0, len(slugs))
	for _, slug := range slugs {
		out = append(out, f.packages[slug])
	}
	return out, nil
}

func (f *fakePackageStore) SetInstalledVersion(_ context.Context, slug, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg, ok := f.packages[slug]
	if ok {
		pkg.InstalledVersion = version
		f.packages[slug] = pkg
	}
	return nil
}

func (f *fakePackageStore) Delete(_ context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.packages, slug)
	return nil
}

// fakeExchanger is an in-memory driven.TokenExchanger counting mints.
type fakeExchanger struct {
	mu    sync.Mutex
	mints int
	token string
	ttl   time.Duration
	err   error
	now   func() time.Time
}

func newFakeExchanger(token string, ttl time.Duration) *fakeExchanger {
	return &fakeExchanger{token: token, ttl: ttl, now: time.Now}
}

func (f *fakeExchanger) ExchangeToken(_ context.Context, _ string, _, installationID int64) (*model.CachedToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.mints++
	return &model.CachedToken{
		InstallationID: installationID,
		Token:          f.token,
		ExpiresAt:      f.now().Add(f.ttl),
	}, nil
}

func (f *fakeExchanger) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mints
}

// fakeReleaseHost is an in-memory driven.ReleaseHost serving canned releases
// and archive bytes.
type fakeReleaseHost struct {
	mu        sync.Mutex
	releases  []model.ReleaseDescriptor
	archive   []byte
	listCalls int
	remaining int
	reset     time.Time
	listErr   error
	dlErr     error
}

func newFakeReleaseHost(releases ...model.ReleaseDescriptor) *fakeReleaseHost {
	return &fakeReleaseHost{releases: releases, remaining: 5000}
}

func (f *fakeReleaseHost) ListReleases(_ context.Context, _, _ string) ([]model.ReleaseDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.ReleaseDescriptor(nil), f.releases...), nil
}

func (f *fakeReleaseHost) ReleaseByTag(_ context.Context, _, _, tag string) (*model.ReleaseDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.releases {
		if f.releases[i].Tag == tag {
			out := f.releases[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeReleaseHost) Download(_ context.Context, _ string, w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dlErr != nil {
		return 0, f.dlErr
	}
	n, err := w.Write(f.archive)
	return int64(n), err
}

func (f *fakeReleaseHost) RateLimit(_ context.Context) (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining, f.reset, nil
}

func (f *fakeReleaseHost) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Compile-time checks that the fakes still satisfy their ports.
var (
	_ driven.ConfigStore     = (*fakeConfigStore)(nil)
	_ driven.CredentialStore = (*fakeCredentialStore)(nil)
	_ driven.PackageStore    = (*fakePackageStore)(nil)
	_ driven.TokenExchanger  = (*fakeExchanger)(nil)
	_ driven.ReleaseHost     = (*fakeReleaseHost)(nil)
)
