package application

import (
	"context"
	"sync"
	"time"

	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// repoIndexTTL bounds how stale the reverse index may get when no explicit
// invalidation arrives.
const repoIndexTTL = time.Minute

// RepoResolver maps a repository identifier to the credential record
// authorized to manage it, via a cached reverse index over every record's
// managed list. A repository claimed by more than one record resolves to
// whichever record is encountered first during index construction; the
// conflict is flagged at save time, not here.
type RepoResolver struct {
	store driven.CredentialStore

	mu      sync.Mutex
	index   map[string]string // repository -> credential id.
	builtAt time.Time
	now     func() time.Time
}

// NewRepoResolver creates a RepoResolver over the credential store.
func NewRepoResolver(store driven.CredentialStore) *RepoResolver {
	return &RepoResolver{store: store, now: time.Now}
}

// ResolveOwner returns the owning credential id for repository, or "" when no
// record claims it.
func (r *RepoResolver) ResolveOwner(ctx context.Context, repository string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index == nil || r.now().Sub(r.builtAt) > repoIndexTTL {
		if err := r.rebuild(ctx); err != nil {
			return "", err
		}
	}
	return r.index[repository], nil
}

// Invalidate discards the index so the next resolve rebuilds it. Called when
// any record's managed list changes.
func (r *RepoResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = nil
}

// rebuild constructs the reverse index. Records are walked in store order;
// the first claim on a repository wins.
func (r *RepoResolver) rebuild(ctx context.Context) error {
	recs, err := r.store.List(ctx)
	if err != nil {
		return err
	}

	index := make(map[string]string)
	for _, rec := range recs {
		for _, repo := range rec.ManagedRepositories {
			if _, taken := index[repo]; !taken {
				index[repo] = rec.ID
			}
		}
	}

	r.index = index
	r.builtAt = r.now()
	return nil
}
