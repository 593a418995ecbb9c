// Package consumer implements the relying-party side of the OpenID 1.x
// protocol: acquiring associations with identity providers, building
// checkid redirects, and verifying the signed assertions that come
// back, with a check_authentication fallback when no association is
// available.
package consumer

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/internal/kvform"
	"github.com/layer-3/openid/ports"
)

const (
	// DefaultNonceLength is the length of the one-time token appended
	// to return_to URLs.
	DefaultNonceLength = 8

	// DefaultTokenLifetime bounds how long an authentication attempt
	// stays completable. Shorter windows shrink the replay surface,
	// longer ones tolerate slower users.
	DefaultTokenLifetime = 5 * time.Minute

	nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	openidPrefix = "openid."
)

// Consumer is the relying-party protocol engine. It keeps no per-request
// state: everything mutable lives in the store or travels inside the
// signed request token, so one Consumer is safely shared across
// concurrent requests.
type Consumer struct {
	store   ports.Store
	fetcher ports.Fetcher
	events  ports.EventPublisher
	random  *crypt.Source

	nonceLength   int
	tokenLifetime time.Duration
	useAssocs     bool

	dhModulus   *big.Int
	dhGenerator *big.Int
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithNonceLength overrides the generated nonce length.
func WithNonceLength(n int) Option {
	return func(c *Consumer) { c.nonceLength = n }
}

// WithTokenLifetime overrides how long request tokens stay valid.
func WithTokenLifetime(d time.Duration) Option {
	return func(c *Consumer) { c.tokenLifetime = d }
}

// WithRandom overrides the random source. Pass an insecure source only
// when the deployment explicitly accepts non-cryptographic randomness.
func WithRandom(src *crypt.Source) Option {
	return func(c *Consumer) { c.random = src }
}

// WithoutAssociations forces dumb mode: no associations are negotiated
// and every assertion is verified via check_authentication.
func WithoutAssociations() Option {
	return func(c *Consumer) { c.useAssocs = false }
}

// WithEvents attaches a best-effort event publisher.
func WithEvents(pub ports.EventPublisher) Option {
	return func(c *Consumer) { c.events = pub }
}

// WithDHParams negotiates associations over a custom modulus and
// generator instead of the well-known defaults. Both peers must
// support the values; the defaults are the interoperable choice.
func WithDHParams(modulus, generator *big.Int) Option {
	return func(c *Consumer) {
		c.dhModulus = modulus
		c.dhGenerator = generator
	}
}

// New creates a Consumer backed by the given store and fetcher.
func New(store ports.Store, fetcher ports.Fetcher, opts ...Option) *Consumer {
	c := &Consumer{
		store:         store,
		fetcher:       fetcher,
		random:        crypt.NewSource(),
		nonceLength:   DefaultNonceLength,
		tokenLifetime: DefaultTokenLifetime,
		useAssocs:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store.IsDumb() {
		c.useAssocs = false
	}
	return c
}

// Begin starts an authentication attempt against a discovered endpoint.
// It generates the nonce, binds the attempt into a signed token, and
// obtains an association for the provider when one is usable. The
// returned AuthRequest's Token must survive until Complete.
func (c *Consumer) Begin(ctx context.Context, endpoint core.Endpoint) (*AuthRequest, error) {
	nonce, err := c.random.RandomString(c.nonceLength, nonceAlphabet)
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	token, err := c.genToken(ctx, nonce, endpoint)
	if err != nil {
		return nil, fmt.Errorf("generating request token: %w", err)
	}

	assoc, err := c.getAssociation(ctx, endpoint.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("getting association for %s: %w", endpoint.ServerURL, err)
	}

	return &AuthRequest{
		Token:    token,
		Nonce:    nonce,
		Endpoint: endpoint,
		assoc:    assoc,
	}, nil
}

// Complete interprets the provider's response to a checkid request.
// token is the value Begin returned; query holds the url-unescaped
// parameters of the redirect back to return_to. Protocol failures never
// surface as errors: every outcome is one of the four Response
// variants.
func (c *Consumer) Complete(ctx context.Context, token string, query url.Values) core.Response {
	args := flatten(query)

	switch args[openidPrefix+"mode"] {
	case "cancel":
		return core.Cancel(c.peekClaimedID(ctx, token))
	case "error":
		msg := args[openidPrefix+"error"]
		if msg == "" {
			msg = "error response from server"
		}
		return core.Failure(c.peekClaimedID(ctx, token), msg)
	case "id_res":
		return c.doIdRes(ctx, token, args)
	default:
		return core.Failure(c.peekClaimedID(ctx, token), "invalid openid.mode")
	}
}

// doIdRes verifies a positive assertion: field presence, identity
// binding, signature (locally when an association is known, via
// check_authentication otherwise) and finally single-use nonce
// consumption. The nonce is consumed exactly once on every success
// path, dumb mode included.
func (c *Consumer) doIdRes(ctx context.Context, token string, args map[string]string) core.Response {
	bound, err := c.splitToken(ctx, token)
	if err != nil {
		log.WithError(err).Warn("id_res: rejecting request token")
		return core.Failure("", core.ErrInvalidToken.Error())
	}

	if setupURL := args[openidPrefix+"user_setup_url"]; setupURL != "" {
		return core.SetupNeeded(bound.claimedID, setupURL)
	}

	returnTo := args[openidPrefix+"return_to"]
	identity := args[openidPrefix+"identity"]
	handle := args[openidPrefix+"assoc_handle"]
	if returnTo == "" || identity == "" || handle == "" {
		return core.Failure(bound.claimedID, core.ErrMissingField.Error())
	}
	if identity != bound.serverID {
		return core.Failure(bound.claimedID, core.ErrIdentityMismatch.Error())
	}

	assoc, err := c.store.GetAssociation(ctx, bound.serverURL, handle)
	if err != nil {
		log.WithError(err).Error("id_res: association lookup")
		return core.Failure(bound.claimedID, core.ErrStoreFailed.Error())
	}

	switch {
	case assoc == nil:
		// Unknown handle. Dumb mode is the only recovery path.
		if err := c.checkAuth(ctx, args, bound.serverURL); err != nil {
			return core.Failure(bound.claimedID, err.Error())
		}
	case assoc.ExpiresIn(time.Now()) <= 0:
		return core.Failure(bound.claimedID, core.ErrAssociationExpired.Error())
	default:
		ok, err := assoc.CheckSignature(args, openidPrefix)
		if err != nil {
			return core.Failure(bound.claimedID, err.Error())
		}
		if !ok {
			return core.Failure(bound.claimedID, core.ErrBadSignature.Error())
		}
	}

	// Replay protection is independent of how the signature checked
	// out: a dumb-mode is_valid answer proves authenticity, never
	// freshness.
	if err := c.checkNonce(ctx, bound.nonce, returnTo); err != nil {
		return core.Failure(bound.claimedID, err.Error())
	}

	if c.events != nil {
		if err := c.events.PublishLogin(ctx, bound.claimedID, bound.serverURL); err != nil {
			log.WithError(err).Warn("publishing login event")
		}
	}

	return core.Success(bound.claimedID, signedSubset(args))
}

// checkNonce verifies that the returned return_to carries exactly the
// nonce this attempt was begun with and consumes it. Absent, mismatched
// and replayed nonces fail with distinct messages.
func (c *Consumer) checkNonce(ctx context.Context, want, returnTo string) error {
	u, err := url.Parse(returnTo)
	if err != nil {
		return fmt.Errorf("%w: unparseable return_to", core.ErrNonceMissing)
	}
	got := u.Query().Get("nonce")
	if got == "" {
		return core.ErrNonceMissing
	}
	if got != want {
		return core.ErrNonceMismatch
	}

	fresh, err := c.store.UseNonce(ctx, got)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreFailed, err)
	}
	if !fresh {
		return core.ErrNonceUsed
	}
	return nil
}

// checkAuth verifies an assertion the dumb way: it re-POSTs the signed
// fields to the provider as a check_authentication request and trusts
// the provider's is_valid answer. An invalidate_handle in the reply
// names an association the provider no longer honors; it is dropped
// from the store.
func (c *Consumer) checkAuth(ctx context.Context, args map[string]string, serverURL string) error {
	signed, ok := args[openidPrefix+"signed"]
	if !ok {
		return fmt.Errorf("%w: %ssigned", core.ErrMissingField, openidPrefix)
	}

	allowed := append(splitFields(signed), "assoc_handle", "sig", "signed", "invalidate_handle")
	form := url.Values{}
	for _, field := range allowed {
		if v, ok := args[openidPrefix+field]; ok {
			form.Set(openidPrefix+field, v)
		}
	}
	form.Set(openidPrefix+"mode", "check_authentication")

	result, err := c.fetcher.Post(ctx, serverURL, form.Encode())
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFetchFailed, err)
	}
	if result.Status != 200 && result.Status != 400 {
		return fmt.Errorf("%w: status %d from %s", core.ErrFetchFailed, result.Status, serverURL)
	}

	reply := kvform.DecodeMap(string(result.Body))
	if reply["is_valid"] != "true" {
		if msg := reply["error"]; msg != "" {
			log.Warnf("check_authentication: error from %s: %s", serverURL, msg)
		}
		return core.ErrBadSignature
	}

	if stale := reply["invalidate_handle"]; stale != "" {
		if _, err := c.store.RemoveAssociation(ctx, serverURL, stale); err != nil {
			log.WithError(err).Warn("removing invalidated association")
		} else if c.events != nil {
			if err := c.events.PublishHandleInvalidated(ctx, serverURL, stale); err != nil {
				log.WithError(err).Warn("publishing handle invalidation")
			}
		}
	}
	return nil
}

// peekClaimedID extracts the claimed identity from a token for
// attribution on cancel/error outcomes. Best effort; an unverifiable
// token attributes to nobody.
func (c *Consumer) peekClaimedID(ctx context.Context, token string) string {
	bound, err := c.splitToken(ctx, token)
	if err != nil {
		return ""
	}
	return bound.claimedID
}

// signedSubset extracts the openid.* arguments covered by the signed
// field list.
func signedSubset(args map[string]string) map[string]string {
	out := make(map[string]string)
	for _, field := range splitFields(args[openidPrefix+"signed"]) {
		key := openidPrefix + field
		if v, ok := args[key]; ok {
			out[key] = v
		}
	}
	return out
}

func splitFields(signed string) []string {
	if signed == "" {
		return nil
	}
	return strings.Split(signed, ",")
}

// flatten keeps the first value per key, the same view the provider
// signed over.
func flatten(query url.Values) map[string]string {
	m := make(map[string]string, len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			m[k] = vs[0]
		}
	}
	return m
}
