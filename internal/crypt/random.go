package crypt

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	mathrand "math/rand"
)

// Source produces random bytes for nonces, association secrets and
// Diffie-Hellman private keys. The default source reads from the
// platform CSPRNG; anything else must be selected explicitly.
type Source struct {
	r io.Reader
}

// NewSource returns a Source backed by crypto/rand.
func NewSource() *Source {
	return &Source{r: rand.Reader}
}

// NewInsecureSource returns a Source backed by a seeded math/rand
// generator. It exists for environments with no usable entropy source
// and for deterministic tests. Never use it where the output guards
// authentication.
func NewInsecureSource(seed int64) *Source {
	return &Source{r: mathrand.New(mathrand.NewSource(seed))}
}

// NewSourceFromReader returns a Source reading from r. Used by tests to
// inject fixed byte sequences.
func NewSourceFromReader(r io.Reader) *Source {
	return &Source{r: r}
}

// Bytes returns n random bytes.
func (s *Source) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.r, b); err != nil {
		return nil, fmt.Errorf("random source: %w", err)
	}
	return b, nil
}

// RandRange returns a uniformly distributed integer in [0, stop).
//
// Candidates are drawn as raw big-endian byte strings of the minimal
// width that covers stop. Any candidate below 256^nbytes mod stop falls
// in the range whose residues appear one extra time after reduction, so
// it is rejected and redrawn. Reducing without that rejection step
// biases the low residues.
func (s *Source) RandRange(stop *big.Int) (*big.Int, error) {
	if stop.Sign() <= 0 {
		panic("crypt: RandRange stop must be positive")
	}

	rbytes := LongToBytes(stop)
	nbytes := len(rbytes)
	if rbytes[0] == 0 {
		nbytes--
	}

	mxrand := new(big.Int).Exp(big.NewInt(256), big.NewInt(int64(nbytes)), nil)
	duplicate := new(big.Int).Mod(mxrand, stop)

	for {
		b, err := s.Bytes(nbytes)
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(b)
		if n.Cmp(duplicate) >= 0 {
			return n.Mod(n, stop), nil
		}
	}
}

// RandomString returns a string of length characters drawn uniformly
// from alphabet. The alphabet must not exceed 256 characters. Each
// character is drawn with single-byte rejection sampling, mirroring
// RandRange.
func (s *Source) RandomString(length int, alphabet string) (string, error) {
	popsize := len(alphabet)
	if popsize == 0 || popsize > 256 {
		return "", fmt.Errorf("random string: alphabet size %d out of range", popsize)
	}

	duplicate := 256 % popsize
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		for {
			b, err := s.Bytes(1)
			if err != nil {
				return "", err
			}
			if int(b[0]) < duplicate {
				continue
			}
			out[i] = alphabet[int(b[0])%popsize]
			break
		}
	}
	return string(out), nil
}
