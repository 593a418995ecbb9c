package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/openid/internal/kvform"
)

func testAssociation(t *testing.T) *Association {
	t.Helper()
	assoc, err := NewAssociation(
		"{HMAC-SHA1}{5f3a}{handle}",
		[]byte("a twenty byte secret"),
		time.Now(),
		time.Hour,
		AssocHMACSHA1,
	)
	require.NoError(t, err)
	return assoc
}

func TestNewAssociationRejectsType(t *testing.T) {
	_, err := NewAssociation("h", []byte("s"), time.Now(), time.Hour, "HMAC-SHA256")
	assert.ErrorIs(t, err, ErrUnsupportedAssocType)
}

func TestExpiresIn(t *testing.T) {
	issued := time.Now()
	assoc, err := NewAssociation("h", []byte("s"), issued, time.Hour, AssocHMACSHA1)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, assoc.ExpiresIn(issued))
	assert.Equal(t, 30*time.Minute, assoc.ExpiresIn(issued.Add(30*time.Minute)))
	assert.Zero(t, assoc.ExpiresIn(issued.Add(2*time.Hour)))
}

func TestSignDeterministic(t *testing.T) {
	assoc := testAssociation(t)
	pairs := []kvform.Pair{
		{Key: "mode", Value: "id_res"},
		{Key: "identity", Value: "http://example.com/user"},
	}

	first, err := assoc.Sign(pairs)
	require.NoError(t, err)
	assert.Len(t, first, SecretSize)

	second, err := assoc.Sign(pairs)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Order is part of the signed bytes.
	swapped, err := assoc.Sign([]kvform.Pair{pairs[1], pairs[0]})
	require.NoError(t, err)
	assert.NotEqual(t, first, swapped)
}

func TestAddAndCheckSignature(t *testing.T) {
	assoc := testAssociation(t)
	data := map[string]string{
		"openid.mode":      "id_res",
		"openid.identity":  "http://example.com/user",
		"openid.return_to": "http://rp.example.com/complete",
	}

	fields := []string{"mode", "identity", "return_to"}
	require.NoError(t, assoc.AddSignature(fields, data, "openid."))
	assert.Equal(t, "mode,identity,return_to", data["openid.signed"])
	assert.NotEmpty(t, data["openid.sig"])

	ok, err := assoc.CheckSignature(data, "openid.")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckSignatureTamper(t *testing.T) {
	assoc := testAssociation(t)
	data := map[string]string{
		"openid.mode":     "id_res",
		"openid.identity": "http://example.com/user",
	}
	require.NoError(t, assoc.AddSignature([]string{"mode", "identity"}, data, "openid."))

	data["openid.identity"] = "http://example.com/mallory"
	ok, err := assoc.CheckSignature(data, "openid.")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckSignatureWrongKey(t *testing.T) {
	assoc := testAssociation(t)
	data := map[string]string{"openid.mode": "id_res"}
	require.NoError(t, assoc.AddSignature([]string{"mode"}, data, "openid."))

	other, err := NewAssociation("h2", []byte("another 20B secret.."), time.Now(), time.Hour, AssocHMACSHA1)
	require.NoError(t, err)

	ok, err := other.CheckSignature(data, "openid.")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckSignatureMissingFields(t *testing.T) {
	assoc := testAssociation(t)

	_, err := assoc.CheckSignature(map[string]string{"openid.sig": "x"}, "openid.")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = assoc.CheckSignature(map[string]string{"openid.signed": "mode"}, "openid.")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestSerializeRoundTrip(t *testing.T) {
	assoc := testAssociation(t)

	s, err := assoc.Serialize()
	require.NoError(t, err)

	got, err := DeserializeAssociation(s)
	require.NoError(t, err)
	assert.Equal(t, assoc.Handle, got.Handle)
	assert.Equal(t, assoc.Secret, got.Secret)
	assert.Equal(t, assoc.Issued.Unix(), got.Issued.Unix())
	assert.Equal(t, assoc.Lifetime, got.Lifetime)
	assert.Equal(t, assoc.Type, got.Type)
}

func TestDeserializeRejects(t *testing.T) {
	assoc := testAssociation(t)
	s, err := assoc.Serialize()
	require.NoError(t, err)

	_, err = DeserializeAssociation("version:2\nhandle:h\n")
	assert.Error(t, err)

	_, err = DeserializeAssociation("garbage")
	assert.Error(t, err)

	// Version bump must not be silently accepted.
	_, err = DeserializeAssociation("version:3" + s[len("version:2"):])
	assert.Error(t, err)
}
