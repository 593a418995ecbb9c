package server

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/openid/adapters/store"
	"github.com/layer-3/openid/adapters/trust"
	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/internal/dh"
	"github.com/layer-3/openid/internal/kvform"
)

const (
	testServerURL = "http://op.example.com/openid"
	testIdentity  = "http://op.example.com/user/alice"
	testReturnTo  = "http://rp.example.com/complete"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	opts = append([]Option{WithRandom(crypt.NewInsecureSource(7))}, opts...)
	return New(st, trust.New(), testServerURL, opts...), st
}

func checkidQuery(mode, handle string) url.Values {
	q := url.Values{}
	q.Set("openid.mode", mode)
	q.Set("openid.identity", testIdentity)
	q.Set("openid.return_to", testReturnTo)
	q.Set("openid.trust_root", "http://rp.example.com/")
	if handle != "" {
		q.Set("openid.assoc_handle", handle)
	}
	return q
}

func redirectQuery(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query()
}

func TestAssociatePlainText(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Associate(context.Background(), url.Values{"openid.mode": {"associate"}})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Code)

	fields := kvform.DecodeMap(resp.Body)
	assert.Equal(t, core.AssocHMACSHA1, fields["assoc_type"])
	assert.True(t, strings.HasPrefix(fields["assoc_handle"], "{HMAC-SHA1}{"))

	expiresIn, err := strconv.Atoi(fields["expires_in"])
	require.NoError(t, err)
	assert.Greater(t, expiresIn, 0)

	secret, err := base64.StdEncoding.DecodeString(fields["mac_key"])
	require.NoError(t, err)
	assert.Len(t, secret, core.SecretSize)
}

func TestAssociateDH(t *testing.T) {
	srv, _ := newTestServer(t)

	consumer, err := dh.New(crypt.NewInsecureSource(11))
	require.NoError(t, err)

	q := url.Values{}
	q.Set("openid.mode", "associate")
	q.Set("openid.session_type", "DH-SHA1")
	q.Set("openid.dh_consumer_public", base64.StdEncoding.EncodeToString(crypt.LongToBytes(consumer.PublicKey())))

	resp, err := srv.Associate(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Code)

	fields := kvform.DecodeMap(resp.Body)
	assert.Equal(t, "DH-SHA1", fields["session_type"])
	assert.Empty(t, fields["mac_key"])

	rawPub, err := base64.StdEncoding.DecodeString(fields["dh_server_public"])
	require.NoError(t, err)
	serverPub, err := crypt.BytesToLong(rawPub)
	require.NoError(t, err)

	encKey, err := base64.StdEncoding.DecodeString(fields["enc_mac_key"])
	require.NoError(t, err)
	secret, err := consumer.XORSecret(serverPub, encKey)
	require.NoError(t, err)
	assert.Len(t, secret, core.SecretSize)

	// The unmasked key must verify a real assertion signed under the
	// issued handle.
	assoc, err := core.FromExpiresIn(time.Hour, fields["assoc_handle"], secret, core.AssocHMACSHA1)
	require.NoError(t, err)

	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", fields["assoc_handle"]), true)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, result.Action)

	args := map[string]string{}
	for k, vs := range redirectQuery(t, result.RedirectURL) {
		args[k] = vs[0]
	}
	ok, err := assoc.CheckSignature(args, "openid.")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAssociateRejectsUnknownAssocType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Associate(context.Background(), url.Values{
		"openid.mode":       {"associate"},
		"openid.assoc_type": {"HMAC-SHA256"},
	})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.Code)
	assert.Contains(t, kvform.DecodeMap(resp.Body)["error"], "assoc_type")
}

func TestAssociateRejectsUnknownSessionType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Associate(context.Background(), url.Values{
		"openid.mode":         {"associate"},
		"openid.session_type": {"DH-SHA256"},
	})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.Code)
	assert.NotEmpty(t, kvform.DecodeMap(resp.Body)["error"])
}

func TestAssociateDHMissingConsumerPublic(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Associate(context.Background(), url.Values{
		"openid.mode":         {"associate"},
		"openid.session_type": {"DH-SHA1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.Code)
}

func TestCheckIDRejectsBadMode(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.CheckID(context.Background(), url.Values{"openid.mode": {"associate"}}, true)
	require.NoError(t, err)
	assert.Equal(t, ActionError, result.Action)
}

func TestCheckIDMissingReturnTo(t *testing.T) {
	srv, _ := newTestServer(t)

	q := checkidQuery("checkid_setup", "")
	q.Del("openid.return_to")
	result, err := srv.CheckID(context.Background(), q, true)
	require.NoError(t, err)
	assert.Equal(t, ActionError, result.Action)
	assert.Contains(t, result.Message, "return_to")
}

func TestCheckIDMissingIdentityBouncesError(t *testing.T) {
	srv, _ := newTestServer(t)

	q := checkidQuery("checkid_setup", "")
	q.Del("openid.identity")
	result, err := srv.CheckID(context.Background(), q, true)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, result.Action)

	args := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, "error", args.Get("openid.mode"))
	assert.NotEmpty(t, args.Get("openid.error"))
}

func TestCheckIDUntrustedReturnTo(t *testing.T) {
	srv, _ := newTestServer(t)

	q := checkidQuery("checkid_setup", "")
	q.Set("openid.trust_root", "http://other.example.com/")
	result, err := srv.CheckID(context.Background(), q, true)
	require.NoError(t, err)
	assert.Equal(t, ActionError, result.Action)
}

func TestCheckIDSetupUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", ""), false)
	require.NoError(t, err)
	assert.Equal(t, ActionNeedsAuth, result.Action)
}

func TestCheckIDImmediateUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_immediate", ""), false)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, result.Action)

	args := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, "id_res", args.Get("openid.mode"))

	setupURL := args.Get("openid.user_setup_url")
	require.NotEmpty(t, setupURL)
	setupArgs := redirectQuery(t, setupURL)
	assert.Equal(t, "checkid_setup", setupArgs.Get("openid.mode"))
	assert.Equal(t, testIdentity, setupArgs.Get("openid.identity"))
	assert.True(t, strings.HasPrefix(setupURL, testServerURL))
}

func TestCheckIDUnknownHandleInvalidates(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", "stale-handle"), true)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, result.Action)

	args := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, "stale-handle", args.Get("openid.invalidate_handle"))
	assert.NotEqual(t, "stale-handle", args.Get("openid.assoc_handle"))
	assert.NotEmpty(t, args.Get("openid.sig"))
}

func TestCheckAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)

	// Dumb-mode flow: an assertion signed under a provider-private
	// handle, verified by asking the provider directly.
	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", ""), true)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, result.Action)
	args := redirectQuery(t, result.RedirectURL)

	check := url.Values{}
	check.Set("openid.mode", "check_authentication")
	for _, f := range []string{"identity", "return_to", "assoc_handle", "signed", "sig"} {
		check.Set("openid."+f, args.Get("openid."+f))
	}

	resp, err := srv.CheckAuthentication(context.Background(), check)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Code)
	assert.Equal(t, "true", kvform.DecodeMap(resp.Body)["is_valid"])

	// The dumb association is burned after one use.
	resp, err = srv.CheckAuthentication(context.Background(), check)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Code)
	assert.Equal(t, "false", kvform.DecodeMap(resp.Body)["is_valid"])
}

func TestCheckAuthenticationTamper(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", ""), true)
	require.NoError(t, err)
	args := redirectQuery(t, result.RedirectURL)

	check := url.Values{}
	check.Set("openid.mode", "check_authentication")
	for _, f := range []string{"return_to", "assoc_handle", "signed", "sig"} {
		check.Set("openid."+f, args.Get("openid."+f))
	}
	check.Set("openid.identity", "http://op.example.com/user/mallory")

	resp, err := srv.CheckAuthentication(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, "false", kvform.DecodeMap(resp.Body)["is_valid"])
}

func TestCheckAuthenticationMissingParams(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.CheckAuthentication(context.Background(), url.Values{
		"openid.mode": {"check_authentication"},
	})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.Code)
}

func TestCheckAuthenticationEchoesInvalidateHandle(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", ""), true)
	require.NoError(t, err)
	args := redirectQuery(t, result.RedirectURL)

	check := url.Values{}
	check.Set("openid.mode", "check_authentication")
	for _, f := range []string{"identity", "return_to", "assoc_handle", "signed", "sig"} {
		check.Set("openid."+f, args.Get("openid."+f))
	}
	check.Set("openid.invalidate_handle", "never-issued")

	resp, err := srv.CheckAuthentication(context.Background(), check)
	require.NoError(t, err)
	fields := kvform.DecodeMap(resp.Body)
	assert.Equal(t, "true", fields["is_valid"])
	assert.Equal(t, "never-issued", fields["invalidate_handle"])
}

func TestSignatoryExpiredHandle(t *testing.T) {
	srv, st := newTestServer(t, WithSecretLifetime(time.Millisecond))

	resp, err := srv.Associate(context.Background(), url.Values{"openid.mode": {"associate"}})
	require.NoError(t, err)
	handle := kvform.DecodeMap(resp.Body)["assoc_handle"]
	require.NotEmpty(t, handle)

	time.Sleep(5 * time.Millisecond)

	// The expired handle is invalidated and the response re-signed
	// under a fresh dumb association.
	result, err := srv.CheckID(context.Background(), checkidQuery("checkid_setup", handle), true)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, result.Action)
	args := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, handle, args.Get("openid.invalidate_handle"))

	got, err := st.GetAssociation(context.Background(), "http://localhost/|normal", handle)
	require.NoError(t, err)
	assert.Nil(t, got)
}
