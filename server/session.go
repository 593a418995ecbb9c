package server

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/internal/dh"
	"github.com/layer-3/openid/internal/kvform"
)

// assocSession answers an associate request with the fields that carry
// the MAC key to the consumer, in whatever protection the requested
// session type affords.
type assocSession interface {
	answer(secret []byte) ([]kvform.Pair, error)
}

// plainTextSession hands the key over base64-encoded in the clear. The
// protocol allows it for transports that are already confidential.
type plainTextSession struct{}

func (plainTextSession) answer(secret []byte) ([]kvform.Pair, error) {
	return []kvform.Pair{
		{Key: "mac_key", Value: base64.StdEncoding.EncodeToString(secret)},
	}, nil
}

// dhSession masks the key with the shared secret derived from the
// consumer's public key.
type dhSession struct {
	session     *dh.Session
	consumerPub *big.Int
}

func (s *dhSession) answer(secret []byte) ([]kvform.Pair, error) {
	encKey, err := s.session.XORSecret(s.consumerPub, secret)
	if err != nil {
		return nil, err
	}
	return []kvform.Pair{
		{Key: "session_type", Value: "DH-SHA1"},
		{Key: "dh_server_public", Value: base64.StdEncoding.EncodeToString(crypt.LongToBytes(s.session.PublicKey()))},
		{Key: "enc_mac_key", Value: base64.StdEncoding.EncodeToString(encKey)},
	}, nil
}

// sessionFromArgs builds the session the associate request asked for.
// An unrecognized session type is refused outright: silently answering
// with a weaker session than requested would downgrade the exchange.
func sessionFromArgs(args map[string]string, random *crypt.Source) (assocSession, error) {
	switch sessionType := args["openid.session_type"]; sessionType {
	case "":
		return plainTextSession{}, nil
	case "DH-SHA1":
		return dhSessionFromArgs(args, random)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedSession, sessionType)
	}
}

func dhSessionFromArgs(args map[string]string, random *crypt.Source) (*dhSession, error) {
	rawMod, hasMod := args["openid.dh_modulus"]
	rawGen, hasGen := args["openid.dh_gen"]
	if hasMod != hasGen {
		return nil, fmt.Errorf("non-default dh_modulus and dh_gen must be supplied together")
	}

	mod, gen := dh.DefaultModulus(), dh.DefaultGenerator()
	if hasMod {
		var err error
		if mod, err = decodeLong(rawMod); err != nil {
			return nil, fmt.Errorf("bad dh_modulus: %w", err)
		}
		if gen, err = decodeLong(rawGen); err != nil {
			return nil, fmt.Errorf("bad dh_gen: %w", err)
		}
		if mod.Sign() == 0 || gen.Sign() == 0 {
			return nil, fmt.Errorf("dh_modulus and dh_gen must be positive")
		}
	}

	rawPub, ok := args["openid.dh_consumer_public"]
	if !ok {
		return nil, fmt.Errorf("%w: openid.dh_consumer_public", core.ErrMissingField)
	}
	consumerPub, err := decodeLong(rawPub)
	if err != nil {
		return nil, fmt.Errorf("bad dh_consumer_public: %w", err)
	}

	session, err := dh.NewCustom(mod, gen, random)
	if err != nil {
		return nil, err
	}
	return &dhSession{session: session, consumerPub: consumerPub}, nil
}

func decodeLong(s string) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return crypt.BytesToLong(raw)
}
