package crypt

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSHA1Vectors(t *testing.T) {
	// RFC 2202 test cases 2 and 3.
	cases := []struct {
		key  []byte
		text []byte
		hex  string
	}{
		{
			key:  []byte("Jefe"),
			text: []byte("what do ya want for nothing?"),
			hex:  "effcdf6ae5eb2fa2d27416d5f184df9c259a7c79",
		},
		{
			key:  bytes.Repeat([]byte{0xaa}, 20),
			text: bytes.Repeat([]byte{0xdd}, 50),
			hex:  "125d7342b9ac11cd91a39af48aa17b4f63f175d3",
		},
	}
	for _, tc := range cases {
		want, err := hex.DecodeString(tc.hex)
		require.NoError(t, err)
		assert.Equal(t, want, HMACSHA1(tc.key, tc.text))
	}
}

func TestHMACSHA1Properties(t *testing.T) {
	key := []byte("some twenty byte key")
	text := []byte("the quick brown fox")

	sig := HMACSHA1(key, text)
	assert.Len(t, sig, 20)
	assert.Equal(t, sig, HMACSHA1(key, text))

	otherKey := HMACSHA1([]byte("other key"), text)
	assert.NotEqual(t, sig, otherKey)

	otherText := HMACSHA1(key, []byte("the quick brown fix"))
	assert.NotEqual(t, sig, otherText)
}

func TestXORBytes(t *testing.T) {
	x := []byte{0x00, 0xff, 0x55}
	y := []byte{0xff, 0xff, 0xaa}

	out, err := XORBytes(x, y)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0xff}, out)

	back, err := XORBytes(out, y)
	require.NoError(t, err)
	assert.Equal(t, x, back)

	_, err = XORBytes(x, []byte{0x01})
	assert.Error(t, err)
}

func TestLongToBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want []byte
	}{
		{0, []byte{0}},
		{1, []byte{1}},
		{127, []byte{127}},
		{128, []byte{0, 128}},
		{255, []byte{0, 255}},
		{256, []byte{1, 0}},
		{32768, []byte{0, 128, 0}},
	}
	for _, tc := range cases {
		got := LongToBytes(big.NewInt(tc.n))
		assert.Equal(t, tc.want, got, "n=%d", tc.n)

		back, err := BytesToLong(got)
		require.NoError(t, err)
		assert.Zero(t, back.Cmp(big.NewInt(tc.n)))
	}

	assert.Panics(t, func() { LongToBytes(big.NewInt(-1)) })
}

func TestBytesToLongRejects(t *testing.T) {
	_, err := BytesToLong(nil)
	assert.Error(t, err)

	_, err = BytesToLong([]byte{0x80})
	assert.Error(t, err)
}
