package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/ports"
)

// Associations the provider hands out to consumers live in the normal
// namespace; single-use associations minted for dumb-mode verification
// live in the dumb namespace. Keeping them apart stops a consumer from
// laundering a dumb handle through the signed-response path. The keys
// look like URLs because stores key associations by server URL.
const (
	normalKey = "http://localhost/|normal"
	dumbKey   = "http://localhost/|dumb"

	// DefaultSecretLifetime is how long issued associations stay
	// valid: 14 days.
	DefaultSecretLifetime = 14 * 24 * time.Hour
)

// signatory owns the provider's association lifecycle: minting,
// lookup, expiry-driven removal and invalidation.
type signatory struct {
	store    ports.Store
	random   *crypt.Source
	lifetime time.Duration
}

func namespaceKey(dumb bool) string {
	if dumb {
		return dumbKey
	}
	return normalKey
}

// create mints and stores a fresh association.
func (s *signatory) create(ctx context.Context, dumb bool) (*core.Association, error) {
	secret, err := s.random.Bytes(core.SecretSize)
	if err != nil {
		return nil, fmt.Errorf("generating association secret: %w", err)
	}

	handle := fmt.Sprintf("{%s}{%x}{%s}", core.AssocHMACSHA1, time.Now().Unix(), uuid.NewString())
	assoc, err := core.FromExpiresIn(s.lifetime, handle, secret, core.AssocHMACSHA1)
	if err != nil {
		return nil, err
	}

	if err := s.store.StoreAssociation(ctx, namespaceKey(dumb), assoc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
	}
	return assoc, nil
}

// get looks a handle up in the given namespace. An expired association
// is removed on sight and reported as absent.
func (s *signatory) get(ctx context.Context, handle string, dumb bool) (*core.Association, error) {
	assoc, err := s.store.GetAssociation(ctx, namespaceKey(dumb), handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
	}
	if assoc != nil && assoc.ExpiresIn(time.Now()) <= 0 {
		if _, err := s.store.RemoveAssociation(ctx, namespaceKey(dumb), handle); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
		}
		return nil, nil
	}
	return assoc, nil
}

// invalidate removes a handle from the given namespace.
func (s *signatory) invalidate(ctx context.Context, handle string, dumb bool) error {
	if _, err := s.store.RemoveAssociation(ctx, namespaceKey(dumb), handle); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
	}
	return nil
}

// sign signs the named fields of args under the association handle the
// consumer offered. An unknown or expired handle falls back to a fresh
// dumb-mode association and names the dead handle in invalidate_handle
// so the consumer drops it.
func (s *signatory) sign(ctx context.Context, fields []string, args map[string]string, handle string) error {
	var assoc *core.Association
	var err error

	if handle != "" {
		assoc, err = s.get(ctx, handle, false)
		if err != nil {
			return err
		}
		if assoc == nil {
			args["openid.invalidate_handle"] = handle
		}
	}
	if assoc == nil {
		assoc, err = s.create(ctx, true)
		if err != nil {
			return err
		}
	}

	args["openid.assoc_handle"] = assoc.Handle
	return assoc.AddSignature(fields, args, "openid.")
}
