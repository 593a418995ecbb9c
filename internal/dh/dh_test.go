package dh

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/openid/internal/crypt"
)

func TestSharedSecretAgreement(t *testing.T) {
	src := crypt.NewInsecureSource(1)

	alice, err := New(src)
	require.NoError(t, err)
	bob, err := New(src)
	require.NoError(t, err)

	sharedA := alice.SharedSecret(bob.PublicKey())
	sharedB := bob.SharedSecret(alice.PublicKey())
	assert.Zero(t, sharedA.Cmp(sharedB))
}

func TestXORSecretRoundTrip(t *testing.T) {
	src := crypt.NewInsecureSource(2)

	issuer, err := New(src)
	require.NoError(t, err)
	receiver, err := New(src)
	require.NoError(t, err)

	secret, err := src.Bytes(20)
	require.NoError(t, err)

	masked, err := issuer.XORSecret(receiver.PublicKey(), secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, masked)

	unmasked, err := receiver.XORSecret(issuer.PublicKey(), masked)
	require.NoError(t, err)
	assert.Equal(t, secret, unmasked)
}

func TestXORSecretLength(t *testing.T) {
	src := crypt.NewInsecureSource(3)

	a, err := New(src)
	require.NoError(t, err)
	b, err := New(src)
	require.NoError(t, err)

	_, err = a.XORSecret(b.PublicKey(), []byte("short"))
	assert.Error(t, err)
}

func TestCustomParams(t *testing.T) {
	src := crypt.NewInsecureSource(4)

	// Small safe prime group, fine for an exchange test.
	mod := big.NewInt(227)
	gen := big.NewInt(2)

	alice, err := NewCustom(mod, gen, src)
	require.NoError(t, err)
	bob, err := NewCustom(mod, gen, src)
	require.NoError(t, err)

	assert.False(t, alice.UsesDefaults())
	assert.Zero(t, alice.SharedSecret(bob.PublicKey()).Cmp(bob.SharedSecret(alice.PublicKey())))

	_, err = NewCustom(big.NewInt(0), gen, src)
	assert.Error(t, err)
}

func TestUsesDefaults(t *testing.T) {
	src := crypt.NewInsecureSource(5)
	s, err := New(src)
	require.NoError(t, err)
	assert.True(t, s.UsesDefaults())
}

func TestDefaultModulusShape(t *testing.T) {
	m := DefaultModulus()
	assert.Equal(t, 1024, m.BitLen())
	assert.True(t, m.ProbablyPrime(20))
}
