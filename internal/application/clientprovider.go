package application

import (
	"context"
	"sync"

	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// HostFactory builds a ReleaseHost authenticated with the given installation
// token. Production wiring passes the github adapter's constructor; tests
// substitute a fake.
type HostFactory func(token string) driven.ReleaseHost

// ClientProvider hands out authenticated ReleaseHost handles per credential,
// rebuilding a handle only when its underlying token rotates. Callers never
// see raw tokens.
type ClientProvider struct {
	broker  *TokenBroker
	factory HostFactory

	mu    sync.Mutex
	hosts map[string]hostEntry // keyed by credential id.
}

type hostEntry struct {
	token string
	host  driven.ReleaseHost
}

// NewClientProvider creates a ClientProvider.
func NewClientProvider(broker *TokenBroker, factory HostFactory) *ClientProvider {
	return &ClientProvider{
		broker:  broker,
		factory: factory,
		hosts:   make(map[string]hostEntry),
	}
}

// Get returns a ReleaseHost authenticated for the credential, minting a token
// through the broker as needed.
func (p *ClientProvider) Get(ctx context.Context, credentialID string) (driven.ReleaseHost, error) {
	token, err := p.broker.InstallationToken(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.hosts[credentialID]; ok && entry.token == token {
		return entry.host, nil
	}

	host := p.factory(token)
	p.hosts[credentialID] = hostEntry{token: token, host: host}
	return host, nil
}

// Drop forgets the cached handle for a credential. Called when the credential
// is deleted or rotated.
func (p *ClientProvider) Drop(credentialID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.hosts, credentialID)
}
