package consumer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/kvform"
)

// AuthRequest is one in-flight authentication attempt, created by Begin
// and consumed by building a redirect. The Token is the only state that
// must survive the round trip; keep it in the user's session or a
// cookie and hand it back to Complete.
type AuthRequest struct {
	Token    string
	Nonce    string
	Endpoint core.Endpoint

	assoc     *core.Association
	extraArgs []kvform.Pair
}

// AssocHandle returns the handle of the association chosen for this
// attempt, or "" when the attempt runs in dumb mode.
func (r *AuthRequest) AssocHandle() string {
	if r.assoc == nil {
		return ""
	}
	return r.assoc.Handle
}

// AddExtensionArg adds an extension parameter to the redirect, e.g.
// AddExtensionArg("sreg.optional", "email") becomes
// openid.sreg.optional=email.
func (r *AuthRequest) AddExtensionArg(key, value string) {
	r.extraArgs = append(r.extraArgs, kvform.Pair{Key: openidPrefix + key, Value: value})
}

// RedirectURL builds the checkid URL to send the user's browser to.
// The attempt's nonce is appended to returnTo so Complete can match the
// response back to this request.
func (r *AuthRequest) RedirectURL(trustRoot, returnTo string, immediate bool) (string, error) {
	returnTo, err := appendArgs(returnTo, []kvform.Pair{{Key: "nonce", Value: r.Nonce}})
	if err != nil {
		return "", fmt.Errorf("building return_to: %w", err)
	}

	mode := "checkid_setup"
	if immediate {
		mode = "checkid_immediate"
	}

	args := []kvform.Pair{
		{Key: openidPrefix + "mode", Value: mode},
		{Key: openidPrefix + "identity", Value: r.Endpoint.ServerID},
		{Key: openidPrefix + "return_to", Value: returnTo},
		{Key: openidPrefix + "trust_root", Value: trustRoot},
	}
	if r.assoc != nil {
		args = append(args, kvform.Pair{Key: openidPrefix + "assoc_handle", Value: r.assoc.Handle})
	}
	args = append(args, r.extraArgs...)

	redirect, err := appendArgs(r.Endpoint.ServerURL, args)
	if err != nil {
		return "", fmt.Errorf("building redirect: %w", err)
	}
	return redirect, nil
}

// appendArgs appends query arguments to a URL, percent-encoded,
// preserving the given order.
func appendArgs(rawURL string, args []kvform.Pair) (string, error) {
	if len(args) == 0 {
		return rawURL, nil
	}
	if _, err := url.Parse(rawURL); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(rawURL)
	if strings.ContainsRune(rawURL, '?') {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for i, a := range args {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(a.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(a.Value))
	}
	return b.String(), nil
}
