package identity

import "context"

// Store persists the credential between runs, mirroring the browser
// clients' persisted storage. Implementations must be safe for concurrent
// use.
type Store interface {
	// Load returns the stored identity or ErrNoCredentials.
	Load(ctx context.Context) (Identity, error)
	Save(ctx context.Context, id Identity) error
	Clear(ctx context.Context) error
}
