package crypt

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	src := NewSource()
	b, err := src.Bytes(20)
	require.NoError(t, err)
	assert.Len(t, b, 20)
}

func TestRandRangeBounds(t *testing.T) {
	src := NewInsecureSource(1)
	stop := big.NewInt(1000)
	for i := 0; i < 500; i++ {
		n, err := src.RandRange(stop)
		require.NoError(t, err)
		assert.True(t, n.Sign() >= 0)
		assert.True(t, n.Cmp(stop) < 0)
	}
	assert.Panics(t, func() { src.RandRange(big.NewInt(0)) })
}

func TestRandRangeRejectsBiasedDraws(t *testing.T) {
	// stop = 200, so candidates are single bytes and 256 mod 200 = 56:
	// draws below 56 would make residues 0..55 appear twice and must be
	// redrawn. Feed one rejected byte followed by an accepted one.
	src := NewSourceFromReader(bytes.NewReader([]byte{10, 210}))
	n, err := src.RandRange(big.NewInt(200))
	require.NoError(t, err)
	assert.Zero(t, n.Cmp(big.NewInt(10))) // 210 mod 200
}

func TestRandRangeWidth(t *testing.T) {
	// stop = 256 encodes as btwoc {1, 0} but needs exactly two candidate
	// bytes, and 65536 mod 256 = 0 means nothing is rejected.
	src := NewSourceFromReader(bytes.NewReader([]byte{0x01, 0x02}))
	n, err := src.RandRange(big.NewInt(256))
	require.NoError(t, err)
	assert.Zero(t, n.Cmp(big.NewInt(2))) // 0x0102 mod 256
}

func TestRandomString(t *testing.T) {
	const alphabet = "abcdef"

	src := NewInsecureSource(42)
	s, err := src.RandomString(32, alphabet)
	require.NoError(t, err)
	require.Len(t, s, 32)
	for _, c := range s {
		assert.True(t, strings.ContainsRune(alphabet, c))
	}

	_, err = src.RandomString(8, "")
	assert.Error(t, err)
}
