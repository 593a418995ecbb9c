package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/ports"
)

// nonceWindow is how long consumed nonces are remembered. Five hours
// covers request time plus generous clock skew; a response older than
// that fails the request-token lifetime check anyway.
const nonceWindow = 5 * time.Hour

// RedisStore is a Redis implementation of the Store interface.
// Associations are kept in one hash per server URL, serialized in the
// store's KV form; nonces rely on SET NX for their exactly-once
// semantics.
type RedisStore struct {
	client *redis.Client
	prefix string
	random *crypt.Source
}

// NewRedisStore creates a new Redis store on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "openid:",
		random: crypt.NewSource(),
	}
}

func (s *RedisStore) assocKey(serverURL string) string {
	return s.prefix + "assoc:" + serverURL
}

// GetAssociation returns the association for serverURL and handle, or
// with handle "" the most recently issued unexpired one.
func (s *RedisStore) GetAssociation(ctx context.Context, serverURL, handle string) (*core.Association, error) {
	if handle != "" {
		raw, err := s.client.HGet(ctx, s.assocKey(serverURL), handle).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get association: %w", err)
		}
		return core.DeserializeAssociation(raw)
	}

	all, err := s.client.HGetAll(ctx, s.assocKey(serverURL)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list associations: %w", err)
	}

	now := time.Now()
	var newest *core.Association
	for _, raw := range all {
		assoc, err := core.DeserializeAssociation(raw)
		if err != nil {
			// Skip entries another version wrote; they age out with
			// the key's TTL.
			continue
		}
		if assoc.ExpiresIn(now) <= 0 {
			continue
		}
		if newest == nil || assoc.Issued.After(newest.Issued) {
			newest = assoc
		}
	}
	return newest, nil
}

// StoreAssociation persists assoc and extends the hash's TTL to cover
// the association's remaining lifetime.
func (s *RedisStore) StoreAssociation(ctx context.Context, serverURL string, assoc *core.Association) error {
	raw, err := assoc.Serialize()
	if err != nil {
		return fmt.Errorf("serializing association: %w", err)
	}

	key := s.assocKey(serverURL)
	if err := s.client.HSet(ctx, key, assoc.Handle, raw).Err(); err != nil {
		return fmt.Errorf("redis: store association: %w", err)
	}
	if remaining := assoc.ExpiresIn(time.Now()); remaining > 0 {
		ttl, err := s.client.TTL(ctx, key).Result()
		if err == nil && ttl < remaining {
			s.client.Expire(ctx, key, remaining)
		}
	}
	return nil
}

// RemoveAssociation removes the handle and reports whether it existed.
func (s *RedisStore) RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error) {
	n, err := s.client.HDel(ctx, s.assocKey(serverURL), handle).Result()
	if err != nil {
		return false, fmt.Errorf("redis: remove association: %w", err)
	}
	return n > 0, nil
}

// UseNonce consumes a nonce. SET NX makes the check-and-set atomic
// across instances: exactly one caller wins a race on the same nonce.
func (s *RedisStore) UseNonce(ctx context.Context, nonce string) (bool, error) {
	fresh, err := s.client.SetNX(ctx, s.prefix+"nonce:"+nonce, "1", nonceWindow).Result()
	if err != nil {
		return false, fmt.Errorf("redis: use nonce: %w", err)
	}
	return fresh, nil
}

// AuthKey returns the installation signing key, generating it once
// with SET NX so concurrent bootstraps agree on a single key.
func (s *RedisStore) AuthKey(ctx context.Context) ([]byte, error) {
	key := s.prefix + "authkey"

	fresh, err := s.random.Bytes(core.SecretSize)
	if err != nil {
		return nil, err
	}
	if err := s.client.SetNX(ctx, key, string(fresh), 0).Err(); err != nil {
		return nil, fmt.Errorf("redis: init auth key: %w", err)
	}

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get auth key: %w", err)
	}
	return []byte(val), nil
}

// IsDumb reports false: this store holds associations.
func (s *RedisStore) IsDumb() bool { return false }

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ports.Store = (*RedisStore)(nil)
