package consumer

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/apex/log"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/internal/dh"
	"github.com/layer-3/openid/internal/kvform"
)

// getAssociation returns the association to use for serverURL,
// negotiating a fresh one when none is cached or the cached one expires
// before an in-flight attempt could complete. Returns nil when
// associations are disabled; nil is a valid outcome meaning dumb mode.
func (c *Consumer) getAssociation(ctx context.Context, serverURL string) (*core.Association, error) {
	if !c.useAssocs {
		return nil, nil
	}

	assoc, err := c.store.GetAssociation(ctx, serverURL, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
	}
	if assoc != nil && assoc.ExpiresIn(time.Now()) >= c.tokenLifetime {
		return assoc, nil
	}

	assoc, err = c.negotiateAssociation(ctx, serverURL)
	if err != nil {
		// A provider we cannot associate with is still usable in dumb
		// mode, so negotiation failure downgrades, not aborts.
		log.WithError(err).Warnf("associating with %s failed, falling back to dumb mode", serverURL)
		return nil, nil
	}
	return assoc, nil
}

// negotiateAssociation performs the associate exchange: a DH-SHA1
// session so the MAC key never crosses the wire in the clear.
func (c *Consumer) negotiateAssociation(ctx context.Context, serverURL string) (*core.Association, error) {
	var session *dh.Session
	var err error
	if c.dhModulus != nil {
		session, err = dh.NewCustom(c.dhModulus, c.dhGenerator, c.random)
	} else {
		session, err = dh.New(c.random)
	}
	if err != nil {
		return nil, err
	}

	args := []kvform.Pair{
		{Key: openidPrefix + "mode", Value: "associate"},
		{Key: openidPrefix + "assoc_type", Value: core.AssocHMACSHA1},
		{Key: openidPrefix + "session_type", Value: "DH-SHA1"},
		{Key: openidPrefix + "dh_consumer_public", Value: encodeLong(session.PublicKey())},
	}
	if !session.UsesDefaults() {
		args = append(args,
			kvform.Pair{Key: openidPrefix + "dh_modulus", Value: encodeLong(c.dhModulus)},
			kvform.Pair{Key: openidPrefix + "dh_gen", Value: encodeLong(c.dhGenerator)},
		)
	}

	form := url.Values{}
	for _, a := range args {
		form.Set(a.Key, a.Value)
	}

	result, err := c.fetcher.Post(ctx, serverURL, form.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFetchFailed, err)
	}

	reply := kvform.DecodeMap(string(result.Body))
	switch {
	case result.Status == 400:
		msg := reply["error"]
		if msg == "" {
			msg = "<no message from server>"
		}
		return nil, fmt.Errorf("associate refused by %s: %s", serverURL, msg)
	case result.Status != 200:
		return nil, fmt.Errorf("%w: status %d from %s", core.ErrFetchFailed, result.Status, serverURL)
	}

	assoc, err := c.parseAssociation(reply, session, serverURL)
	if err != nil {
		return nil, err
	}
	if err := c.store.StoreAssociation(ctx, serverURL, assoc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
	}
	return assoc, nil
}

// parseAssociation validates an associate reply. Only HMAC-SHA1
// associations are accepted, and only the session type that was
// requested (or the plaintext fallback the protocol allows): an
// unrequested weaker session type is a downgrade and is rejected.
func (c *Consumer) parseAssociation(reply map[string]string, session *dh.Session, serverURL string) (*core.Association, error) {
	assocType, ok := reply["assoc_type"]
	if !ok {
		return nil, fmt.Errorf("%w from %s: assoc_type", core.ErrMissingField, serverURL)
	}
	if assocType != core.AssocHMACSHA1 {
		return nil, fmt.Errorf("%w: %q from %s", core.ErrUnsupportedAssocType, assocType, serverURL)
	}

	handle, ok := reply["assoc_handle"]
	if !ok {
		return nil, fmt.Errorf("%w from %s: assoc_handle", core.ErrMissingField, serverURL)
	}

	expiresIn := 0
	if v, ok := reply["expires_in"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad expires_in from %s: %q", serverURL, v)
		}
		expiresIn = n
	}

	var secret []byte
	switch sessionType := reply["session_type"]; sessionType {
	case "":
		// Plaintext session: the MAC key comes base64 in the clear.
		raw, ok := reply["mac_key"]
		if !ok {
			return nil, fmt.Errorf("%w from %s: mac_key", core.ErrMissingField, serverURL)
		}
		var err error
		secret, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad mac_key from %s: %w", serverURL, err)
		}
	case "DH-SHA1":
		serverPub, err := decodeLong(reply["dh_server_public"])
		if err != nil {
			return nil, fmt.Errorf("bad dh_server_public from %s: %w", serverURL, err)
		}
		encKey, err := base64.StdEncoding.DecodeString(reply["enc_mac_key"])
		if err != nil {
			return nil, fmt.Errorf("bad enc_mac_key from %s: %w", serverURL, err)
		}
		secret, err = session.XORSecret(serverPub, encKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting mac key from %s: %w", serverURL, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q from %s", core.ErrUnsupportedSession, sessionType, serverURL)
	}

	return core.FromExpiresIn(time.Duration(expiresIn)*time.Second, handle, secret, assocType)
}

func encodeLong(n *big.Int) string {
	return base64.StdEncoding.EncodeToString(crypt.LongToBytes(n))
}

func decodeLong(s string) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return crypt.BytesToLong(raw)
}
