// Package crypt holds the low-level cryptographic helpers shared by the
// association and verification engines: HMAC-SHA1, the btwoc big-integer
// byte encoding used on the wire, and a random source with bias-free
// range sampling.
package crypt

import (
	"crypto/hmac"
	"crypto/sha1"
	"fmt"
	"math/big"
)

// HMACSHA1 computes the RFC 2104 HMAC-SHA1 digest of text under key.
// The digest is always 20 bytes.
func HMACSHA1(key, text []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(text)
	return mac.Sum(nil)
}

// SHA1 computes the SHA-1 digest of b.
func SHA1(b []byte) []byte {
	sum := sha1.Sum(b)
	return sum[:]
}

// XORBytes returns x XOR y. The inputs must have equal length.
func XORBytes(x, y []byte) ([]byte, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("xor: length mismatch (%d != %d)", len(x), len(y))
	}
	out := make([]byte, len(x))
	for i := range x {
		out[i] = x[i] ^ y[i]
	}
	return out, nil
}

// LongToBytes converts a non-negative big integer to its big-endian
// two's complement encoding (btwoc): a leading zero byte is added when
// the high bit of the first byte is set, so the value always reads back
// as non-negative. Negative input is a caller bug.
func LongToBytes(n *big.Int) []byte {
	if n.Sign() < 0 {
		panic("crypt: LongToBytes takes only non-negative integers")
	}
	if n.Sign() == 0 {
		return []byte{0}
	}
	b := n.Bytes()
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

// BytesToLong is the inverse of LongToBytes. Input with the high bit of
// the first byte set encodes a negative number, which has no place in
// the protocol, so it is rejected.
func BytesToLong(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("crypt: empty btwoc value")
	}
	if b[0]&0x80 != 0 {
		return nil, fmt.Errorf("crypt: btwoc value is negative")
	}
	return new(big.Int).SetBytes(b), nil
}
