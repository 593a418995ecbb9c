package core

import (
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/internal/kvform"
)

// AssocHMACSHA1 is the only association type currently defined by the
// protocol. Its secrets are exactly one HMAC-SHA1 key long.
const (
	AssocHMACSHA1 = "HMAC-SHA1"

	// SecretSize is the byte length of an HMAC-SHA1 association secret
	// and of the signatures it produces.
	SecretSize = 20
)

// Association is the shared secret negotiated between a consumer and an
// identity provider endpoint. It is immutable after construction; the
// store owns its persisted lifetime.
type Association struct {
	Handle   string        // opaque provider-issued identifier
	Secret   []byte        // raw MAC key
	Issued   time.Time     // when the provider issued it
	Lifetime time.Duration // validity window from Issued
	Type     string        // association type, AssocHMACSHA1
}

// NewAssociation constructs an association, rejecting unsupported
// types. An unsupported type here is a configuration error on the
// caller's side, not a protocol condition.
func NewAssociation(handle string, secret []byte, issued time.Time, lifetime time.Duration, assocType string) (*Association, error) {
	if assocType != AssocHMACSHA1 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAssocType, assocType)
	}
	return &Association{
		Handle:   handle,
		Secret:   secret,
		Issued:   issued,
		Lifetime: lifetime,
		Type:     assocType,
	}, nil
}

// FromExpiresIn constructs an association issued now and valid for
// expiresIn, the form providers report in associate responses.
func FromExpiresIn(expiresIn time.Duration, handle string, secret []byte, assocType string) (*Association, error) {
	return NewAssociation(handle, secret, time.Now(), expiresIn, assocType)
}

// ExpiresIn returns how much longer the association is valid at the
// given instant, or zero once it has expired. An expired association
// must not sign anything and must not be trusted to verify anything.
func (a *Association) ExpiresIn(now time.Time) time.Duration {
	remaining := a.Issued.Add(a.Lifetime).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Sign computes the HMAC of the KV-form encoding of the given pairs, in
// the given order. Order is protocol-significant: the verifier must
// rebuild the identical pair list from the signed field list.
func (a *Association) Sign(pairs []kvform.Pair) ([]byte, error) {
	kv, err := kvform.Encode(pairs)
	if err != nil {
		return nil, fmt.Errorf("signing pairs: %w", err)
	}
	return crypt.HMACSHA1(a.Secret, []byte(kv)), nil
}

// SignDict signs the named fields looked up as prefix+name in data, in
// the order given, and returns the base64 signature.
func (a *Association) SignDict(fields []string, data map[string]string, prefix string) (string, error) {
	pairs := make([]kvform.Pair, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, kvform.Pair{Key: f, Value: data[prefix+f]})
	}
	sig, err := a.Sign(pairs)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// AddSignature signs the named fields and writes prefix+"sig" and
// prefix+"signed" into data.
func (a *Association) AddSignature(fields []string, data map[string]string, prefix string) error {
	sig, err := a.SignDict(fields, data, prefix)
	if err != nil {
		return err
	}
	data[prefix+"sig"] = sig
	data[prefix+"signed"] = strings.Join(fields, ",")
	return nil
}

// CheckSignature recomputes the signature over the field list named by
// prefix+"signed" and compares it to prefix+"sig". The comparison is
// constant-time.
func (a *Association) CheckSignature(data map[string]string, prefix string) (bool, error) {
	signed, ok := data[prefix+"signed"]
	if !ok {
		return false, fmt.Errorf("%w: %ssigned", ErrMissingField, prefix)
	}
	sig, ok := data[prefix+"sig"]
	if !ok {
		return false, fmt.Errorf("%w: %ssig", ErrMissingField, prefix)
	}

	expected, err := a.SignDict(strings.Split(signed, ","), data, prefix)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(sig)), nil
}

// assocKeys is the serialization field order. Stores round-trip
// associations through Serialize/DeserializeAssociation and must not
// reorder them.
var assocKeys = []string{"version", "handle", "secret", "issued", "lifetime", "assoc_type"}

// Serialize encodes the association in KV form for storage.
func (a *Association) Serialize() (string, error) {
	data := map[string]string{
		"version":    "2",
		"handle":     a.Handle,
		"secret":     base64.StdEncoding.EncodeToString(a.Secret),
		"issued":     strconv.FormatInt(a.Issued.Unix(), 10),
		"lifetime":   strconv.FormatInt(int64(a.Lifetime/time.Second), 10),
		"assoc_type": a.Type,
	}
	return kvform.EncodeMap(assocKeys, data)
}

// DeserializeAssociation parses an association stored by Serialize.
func DeserializeAssociation(s string) (*Association, error) {
	pairs := kvform.Decode(s)
	if len(pairs) != len(assocKeys) {
		return nil, fmt.Errorf("association: expected %d fields, got %d", len(assocKeys), len(pairs))
	}
	for i, p := range pairs {
		if p.Key != assocKeys[i] {
			return nil, fmt.Errorf("association: unexpected field %q at position %d", p.Key, i)
		}
	}

	m := kvform.ToMap(pairs)
	if m["version"] != "2" {
		return nil, fmt.Errorf("association: unknown version %q", m["version"])
	}

	secret, err := base64.StdEncoding.DecodeString(m["secret"])
	if err != nil {
		return nil, fmt.Errorf("association: bad secret encoding: %w", err)
	}
	issued, err := strconv.ParseInt(m["issued"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("association: bad issued timestamp: %w", err)
	}
	lifetime, err := strconv.ParseInt(m["lifetime"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("association: bad lifetime: %w", err)
	}

	return NewAssociation(m["handle"], secret, time.Unix(issued, 0), time.Duration(lifetime)*time.Second, m["assoc_type"])
}
