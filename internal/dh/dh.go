// Package dh implements the Diffie-Hellman key agreement used to
// transport association secrets without putting them on the wire. Both
// sides derive the same shared secret; the issuing side XORs the real
// MAC key with SHA1(btwoc(shared secret)) and the receiving side
// reverses the XOR.
package dh

import (
	"fmt"
	"math/big"

	"github.com/layer-3/openid/internal/crypt"
)

// defaultModulus is the well-known 1024-bit safe prime every OpenID 1.x
// implementation ships. Do not change it: peers that omit dh_modulus
// assume this exact value.
const defaultModulus = "155172898181473697471232257763715539915724801" +
	"966915404479707795314057629378541917580651227423698188993727816152646631" +
	"438561595825688188889951272158842675419950341258706556549803580104870537" +
	"681476726513255747040765857479291291572334510643245094715007229621094194" +
	"349783925984760375594985848253359305585439638443"

var one = big.NewInt(1)

// DefaultModulus returns a copy of the standard 1024-bit modulus.
func DefaultModulus() *big.Int {
	m, ok := new(big.Int).SetString(defaultModulus, 10)
	if !ok {
		panic("dh: bad default modulus constant")
	}
	return m
}

// DefaultGenerator returns the standard generator, 2.
func DefaultGenerator() *big.Int {
	return big.NewInt(2)
}

// Session holds one side's key pair for a single association exchange.
// The private exponent never leaves the session; only the public key is
// transmitted. Sessions are created fresh per exchange and discarded
// once the secret is derived.
type Session struct {
	mod  *big.Int
	gen  *big.Int
	priv *big.Int
	pub  *big.Int
}

// New creates a session over the default modulus and generator.
func New(src *crypt.Source) (*Session, error) {
	return NewCustom(DefaultModulus(), DefaultGenerator(), src)
}

// NewCustom creates a session over the given modulus and generator.
// The private exponent is drawn uniformly from [1, mod).
func NewCustom(mod, gen *big.Int, src *crypt.Source) (*Session, error) {
	if mod.Sign() <= 0 || gen.Sign() <= 0 {
		return nil, fmt.Errorf("dh: modulus and generator must be positive")
	}

	// RandRange(mod-1) is [0, mod-1); shifting by one gives [1, mod).
	r, err := src.RandRange(new(big.Int).Sub(mod, one))
	if err != nil {
		return nil, fmt.Errorf("dh: generating private key: %w", err)
	}
	priv := r.Add(r, one)

	return &Session{
		mod:  mod,
		gen:  gen,
		priv: priv,
		pub:  new(big.Int).Exp(gen, priv, mod),
	}, nil
}

// PublicKey returns the public key gen^priv mod mod.
func (s *Session) PublicKey() *big.Int {
	return s.pub
}

// UsesDefaults reports whether the session runs on the standard
// modulus and generator, in which case dh_modulus and dh_gen may be
// omitted from the associate request.
func (s *Session) UsesDefaults() bool {
	return s.mod.Cmp(DefaultModulus()) == 0 && s.gen.Cmp(DefaultGenerator()) == 0
}

// SharedSecret derives the shared secret from the peer's public key.
func (s *Session) SharedSecret(peer *big.Int) *big.Int {
	return new(big.Int).Exp(peer, s.priv, s.mod)
}

// XORSecret masks (or, run again, unmasks) secret with
// SHA1(btwoc(shared secret)). The secret must be exactly one SHA-1
// digest long.
func (s *Session) XORSecret(peer *big.Int, secret []byte) ([]byte, error) {
	shared := s.SharedSecret(peer)
	mask := crypt.SHA1(crypt.LongToBytes(shared))
	out, err := crypt.XORBytes(secret, mask)
	if err != nil {
		return nil, fmt.Errorf("dh: %w", err)
	}
	return out, nil
}
