package consumer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
)

// boundRequest is the state a request token carries across the
// redirect round trip: which attempt this is (the nonce) and which
// identity it was begun for.
type boundRequest struct {
	nonce     string
	claimedID string
	serverID  string
	serverURL string
}

// genToken binds an authentication attempt into an opaque string the
// caller keeps across the redirect: base64 of HMAC(authKey, fields)
// followed by the NUL-joined fields themselves. The timestamp bounds
// how long the attempt stays completable.
func (c *Consumer) genToken(ctx context.Context, nonce string, endpoint core.Endpoint) (string, error) {
	key, err := c.store.AuthKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: auth key: %v", core.ErrStoreFailed, err)
	}

	joined := bytes.Join([][]byte{
		[]byte(strconv.FormatInt(time.Now().Unix(), 10)),
		[]byte(nonce),
		[]byte(endpoint.ClaimedID),
		[]byte(endpoint.ServerID),
		[]byte(endpoint.ServerURL),
	}, []byte{0})

	sig := crypt.HMACSHA1(key, joined)
	return base64.StdEncoding.EncodeToString(append(sig, joined...)), nil
}

// splitToken validates a token produced by genToken and recovers the
// bound request. Tampered, truncated and expired tokens are all
// rejected.
func (c *Consumer) splitToken(ctx context.Context, token string) (*boundRequest, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, core.ErrInvalidToken
	}
	if len(raw) < core.SecretSize {
		return nil, core.ErrInvalidToken
	}

	sig, joined := raw[:core.SecretSize], raw[core.SecretSize:]
	key, err := c.store.AuthKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: auth key: %v", core.ErrStoreFailed, err)
	}
	if !hmac.Equal(sig, crypt.HMACSHA1(key, joined)) {
		return nil, core.ErrInvalidToken
	}

	parts := bytes.Split(joined, []byte{0})
	if len(parts) != 5 {
		return nil, core.ErrInvalidToken
	}

	ts, err := strconv.ParseInt(string(parts[0]), 10, 64)
	if err != nil || ts == 0 {
		return nil, core.ErrInvalidToken
	}
	if time.Unix(ts, 0).Add(c.tokenLifetime).Before(time.Now()) {
		return nil, core.ErrTokenExpired
	}

	return &boundRequest{
		nonce:     string(parts[1]),
		claimedID: string(parts[2]),
		serverID:  string(parts[3]),
		serverURL: string(parts[4]),
	}, nil
}
