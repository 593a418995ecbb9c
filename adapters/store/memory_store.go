package store

import (
	"context"
	"sync"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/ports"
)

// MemoryStore is an in-memory implementation of the Store interface,
// primarily intended for tests and single-process deployments. All
// operations take the mutex, which gives UseNonce its check-and-set
// atomicity.
type MemoryStore struct {
	mu      sync.Mutex
	assocs  map[string]map[string]*core.Association // serverURL -> handle
	nonces  map[string]struct{}                     // consumed nonces
	authKey []byte
	random  *crypt.Source
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assocs: make(map[string]map[string]*core.Association),
		nonces: make(map[string]struct{}),
		random: crypt.NewSource(),
	}
}

// GetAssociation returns the association for serverURL and handle, or
// with handle "" the most recently issued one.
func (s *MemoryStore) GetAssociation(ctx context.Context, serverURL, handle string) (*core.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHandle := s.assocs[serverURL]
	if byHandle == nil {
		return nil, nil
	}
	if handle != "" {
		return byHandle[handle], nil
	}

	var newest *core.Association
	for _, a := range byHandle {
		if newest == nil || a.Issued.After(newest.Issued) {
			newest = a
		}
	}
	return newest, nil
}

// StoreAssociation persists assoc under serverURL.
func (s *MemoryStore) StoreAssociation(ctx context.Context, serverURL string, assoc *core.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assocs[serverURL] == nil {
		s.assocs[serverURL] = make(map[string]*core.Association)
	}
	s.assocs[serverURL][assoc.Handle] = assoc
	return nil
}

// RemoveAssociation removes the handle and reports whether it existed.
func (s *MemoryStore) RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHandle := s.assocs[serverURL]
	if byHandle == nil {
		return false, nil
	}
	_, ok := byHandle[handle]
	delete(byHandle, handle)
	return ok, nil
}

// UseNonce consumes a nonce, returning true only on first use.
func (s *MemoryStore) UseNonce(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.nonces[nonce]; used {
		return false, nil
	}
	s.nonces[nonce] = struct{}{}
	return true, nil
}

// AuthKey returns the signing key, generating it on first use.
func (s *MemoryStore) AuthKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authKey == nil {
		key, err := s.random.Bytes(core.SecretSize)
		if err != nil {
			return nil, err
		}
		s.authKey = key
	}
	return s.authKey, nil
}

// IsDumb reports false: this store holds associations.
func (s *MemoryStore) IsDumb() bool { return false }

// Clear removes all data. Useful for resetting between tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assocs = make(map[string]map[string]*core.Association)
	s.nonces = make(map[string]struct{})
	s.authKey = nil
}

var _ ports.Store = (*MemoryStore)(nil)
