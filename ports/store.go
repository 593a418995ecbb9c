package ports

import (
	"context"

	"github.com/layer-3/openid/core"
)

// Store persists associations, consumed nonces and the per-installation
// auth key. Implementations must make UseNonce an atomic check-and-set
// and keep association operations linearizable per (serverURL, handle):
// the engines are shared across concurrent requests and delegate all
// consistency to the store.
type Store interface {
	// GetAssociation returns the association for serverURL with the
	// given handle, or with handle "" the most recently issued
	// unexpired one. A nil association with nil error means not found.
	GetAssociation(ctx context.Context, serverURL, handle string) (*core.Association, error)

	// StoreAssociation persists assoc under serverURL.
	StoreAssociation(ctx context.Context, serverURL string, assoc *core.Association) error

	// RemoveAssociation removes the handle and reports whether it was
	// present.
	RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error)

	// UseNonce marks nonce as used and returns true only if it had not
	// been used before. Concurrent calls with the same nonce must
	// yield exactly one true.
	UseNonce(ctx context.Context, nonce string) (bool, error)

	// AuthKey returns the installation's token-signing key, generating
	// and persisting it on first use.
	AuthKey(ctx context.Context) ([]byte, error)

	// IsDumb reports whether the store cannot hold associations, in
	// which case every verification goes through check_authentication.
	IsDumb() bool
}
