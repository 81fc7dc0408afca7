package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Provider caches the loaded identity and adapts the Store to the token
// and user-id sources the realtime and api layers expect.
type Provider struct {
	store Store
	log   *slog.Logger

	mu     sync.Mutex
	id     Identity
	loaded bool
}

// NewProvider constructs a Provider over store.
func NewProvider(store Store, log *slog.Logger) *Provider {
	return &Provider{store: store, log: log}
}

// Token returns the stored bearer token, failing with ErrNoCredentials or
// ErrTokenExpired when the handshake cannot possibly succeed.
func (p *Provider) Token(ctx context.Context) (string, error) {
	id, err := p.current(ctx)
	if err != nil {
		return "", err
	}
	if id.Expired(time.Now()) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, id.ExpiresAt.Format(time.RFC3339))
	}
	return id.Token, nil
}

// CurrentUserID returns the locally known user id, or "" when logged out.
// This is the single source of truth for message ownership.
func (p *Provider) CurrentUserID() string {
	id, err := p.current(context.Background())
	if err != nil {
		return ""
	}
	return id.UserID
}

// Current returns the cached identity, loading it on first use.
func (p *Provider) Current(ctx context.Context) (Identity, error) {
	return p.current(ctx)
}

// Login derives an identity from token and persists it.
func (p *Provider) Login(ctx context.Context, token string) (Identity, error) {
	id, err := FromToken(token)
	if err != nil {
		return Identity{}, err
	}
	if err := p.store.Save(ctx, id); err != nil {
		return Identity{}, err
	}
	p.mu.Lock()
	p.id = id
	p.loaded = true
	p.mu.Unlock()
	p.log.Info("identity.login", "user_id", id.UserID)
	return id, nil
}

// Logout clears the persisted credential.
func (p *Provider) Logout(ctx context.Context) error {
	if err := p.store.Clear(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.id = Identity{}
	p.loaded = false
	p.mu.Unlock()
	p.log.Info("identity.logout")
	return nil
}

func (p *Provider) current(ctx context.Context) (Identity, error) {
	p.mu.Lock()
	if p.loaded {
		id := p.id
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	id, err := p.store.Load(ctx)
	if err != nil {
		return Identity{}, err
	}
	p.mu.Lock()
	p.id = id
	p.loaded = true
	p.mu.Unlock()
	return id, nil
}
