// Package server implements the identity-provider side of the OpenID
// 1.x protocol: issuing associations, answering checkid requests with
// signed assertions, and verifying dumb-mode check_authentication
// calls.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/internal/crypt"
	"github.com/layer-3/openid/internal/kvform"
	"github.com/layer-3/openid/ports"
)

// Server is the provider protocol engine. Like the consumer it is
// stateless per request; every call is a function of the stored
// associations and the incoming query.
type Server struct {
	serverURL string
	trust     ports.TrustMatcher
	events    ports.EventPublisher
	signatory *signatory
}

// Option configures a Server.
type Option func(*Server)

// WithSecretLifetime overrides how long issued associations live.
func WithSecretLifetime(d time.Duration) Option {
	return func(s *Server) { s.signatory.lifetime = d }
}

// WithRandom overrides the random source.
func WithRandom(src *crypt.Source) Option {
	return func(s *Server) { s.signatory.random = src }
}

// WithEvents attaches a best-effort event publisher.
func WithEvents(pub ports.EventPublisher) Option {
	return func(s *Server) { s.events = pub }
}

// New creates a provider engine. serverURL is this provider's own
// endpoint, used to build user_setup_url values for immediate-mode
// retries.
func New(store ports.Store, trust ports.TrustMatcher, serverURL string, opts ...Option) *Server {
	s := &Server{
		serverURL: serverURL,
		trust:     trust,
		signatory: &signatory{
			store:    store,
			random:   crypt.NewSource(),
			lifetime: DefaultSecretLifetime,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DirectResponse is the reply to a direct (non-redirect) request: a
// KV-form body and the HTTP status it should travel with.
type DirectResponse struct {
	Code int
	Body string
}

func kvError(message string) *DirectResponse {
	body, err := kvform.Encode([]kvform.Pair{{Key: "error", Value: message}})
	if err != nil {
		// The message itself contained a newline; strip to something
		// encodable rather than fail the failure path.
		body = "error:malformed request\n"
	}
	return &DirectResponse{Code: http.StatusBadRequest, Body: body}
}

// Associate answers an openid.mode=associate request: mints an
// association in the normal namespace and replies with its handle,
// lifetime and the MAC key protected according to the requested
// session type.
func (s *Server) Associate(ctx context.Context, query url.Values) (*DirectResponse, error) {
	args := flatten(query)

	if assocType := args["openid.assoc_type"]; assocType != "" && assocType != core.AssocHMACSHA1 {
		return kvError(fmt.Sprintf("unsupported assoc_type: %s", assocType)), nil
	}

	session, err := sessionFromArgs(args, s.signatory.random)
	if err != nil {
		return kvError(err.Error()), nil
	}

	assoc, err := s.signatory.create(ctx, false)
	if err != nil {
		return nil, err
	}

	reply := []kvform.Pair{
		{Key: "assoc_type", Value: assoc.Type},
		{Key: "assoc_handle", Value: assoc.Handle},
		{Key: "expires_in", Value: strconv.FormatInt(int64(assoc.ExpiresIn(time.Now())/time.Second), 10)},
	}
	keyFields, err := session.answer(assoc.Secret)
	if err != nil {
		return kvError(err.Error()), nil
	}
	reply = append(reply, keyFields...)

	body, err := kvform.Encode(reply)
	if err != nil {
		return nil, fmt.Errorf("encoding associate reply: %w", err)
	}
	return &DirectResponse{Code: http.StatusOK, Body: body}, nil
}

// CheckIDAction says what the caller must do with a checkid outcome.
type CheckIDAction int

const (
	// ActionRedirect: send the browser to RedirectURL.
	ActionRedirect CheckIDAction = iota

	// ActionNeedsAuth: a checkid_setup request for a user the caller
	// has not authorized yet; run interactive authentication and call
	// CheckID again with authorized=true.
	ActionNeedsAuth

	// ActionError: the request was malformed in a way that has no
	// return_to to bounce an error to.
	ActionError
)

// CheckIDResult is the outcome of a checkid request.
type CheckIDResult struct {
	Action      CheckIDAction
	RedirectURL string
	Message     string
}

// CheckID answers a checkid_setup or checkid_immediate request.
// authorized reports whether the caller has established that the
// current user owns the requested identity and trusts the relying
// party.
func (s *Server) CheckID(ctx context.Context, query url.Values, authorized bool) (*CheckIDResult, error) {
	args := flatten(query)

	mode := args["openid.mode"]
	if mode != "checkid_setup" && mode != "checkid_immediate" {
		return &CheckIDResult{Action: ActionError, Message: fmt.Sprintf("invalid checkid mode %q", mode)}, nil
	}

	returnTo := args["openid.return_to"]
	if returnTo == "" {
		// Nowhere to bounce the error to.
		return &CheckIDResult{Action: ActionError, Message: "missing openid.return_to"}, nil
	}
	if _, err := url.Parse(returnTo); err != nil {
		return &CheckIDResult{Action: ActionError, Message: "malformed openid.return_to"}, nil
	}

	identity := args["openid.identity"]
	if identity == "" {
		return s.errorRedirect(returnTo, "missing openid.identity")
	}

	trustRoot := args["openid.trust_root"]
	if trustRoot == "" {
		trustRoot = returnTo
	}
	if !s.trust.Matches(trustRoot, returnTo) {
		// Never redirect to a return_to outside the declared root.
		return &CheckIDResult{Action: ActionError, Message: core.ErrUntrustedReturnTo.Error()}, nil
	}

	if !authorized {
		if mode == "checkid_immediate" {
			setupURL, err := s.setupURL(args)
			if err != nil {
				return nil, err
			}
			redirect, err := appendArgs(returnTo, []kvform.Pair{
				{Key: "openid.mode", Value: "id_res"},
				{Key: "openid.user_setup_url", Value: setupURL},
			})
			if err != nil {
				return nil, err
			}
			return &CheckIDResult{Action: ActionRedirect, RedirectURL: redirect}, nil
		}
		return &CheckIDResult{Action: ActionNeedsAuth}, nil
	}

	reply := map[string]string{
		"openid.mode":      "id_res",
		"openid.identity":  identity,
		"openid.return_to": returnTo,
	}
	if err := s.signatory.sign(ctx, []string{"mode", "identity", "return_to"}, reply, args["openid.assoc_handle"]); err != nil {
		return nil, err
	}
	if stale := reply["openid.invalidate_handle"]; stale != "" && s.events != nil {
		if err := s.events.PublishHandleInvalidated(ctx, s.serverURL, stale); err != nil {
			log.WithError(err).Warn("publishing handle invalidation")
		}
	}

	pairs := []kvform.Pair{
		{Key: "openid.mode", Value: reply["openid.mode"]},
		{Key: "openid.identity", Value: reply["openid.identity"]},
		{Key: "openid.return_to", Value: reply["openid.return_to"]},
		{Key: "openid.assoc_handle", Value: reply["openid.assoc_handle"]},
		{Key: "openid.signed", Value: reply["openid.signed"]},
		{Key: "openid.sig", Value: reply["openid.sig"]},
	}
	if stale := reply["openid.invalidate_handle"]; stale != "" {
		pairs = append(pairs, kvform.Pair{Key: "openid.invalidate_handle", Value: stale})
	}

	redirect, err := appendArgs(returnTo, pairs)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		if err := s.events.PublishLogin(ctx, identity, s.serverURL); err != nil {
			log.WithError(err).Warn("publishing login event")
		}
	}
	return &CheckIDResult{Action: ActionRedirect, RedirectURL: redirect}, nil
}

// CheckAuthentication answers a dumb-mode verification request. The
// association that signed the assertion lives in the dumb namespace
// and is deleted after one use so the request cannot be replayed.
func (s *Server) CheckAuthentication(ctx context.Context, query url.Values) (*DirectResponse, error) {
	args := flatten(query)

	for _, required := range []string{"assoc_handle", "sig", "signed"} {
		if args["openid."+required] == "" {
			return kvError(fmt.Sprintf("check_authentication request missing required parameter %s", required)), nil
		}
	}

	handle := args["openid.assoc_handle"]
	assoc, err := s.signatory.get(ctx, handle, true)
	if err != nil {
		return nil, err
	}

	valid := false
	if assoc != nil {
		// The assertion was signed as an id_res response; restore the
		// mode the signature was computed over.
		checkArgs := make(map[string]string, len(args))
		for k, v := range args {
			checkArgs[k] = v
		}
		checkArgs["openid.mode"] = "id_res"

		valid, err = assoc.CheckSignature(checkArgs, "openid.")
		if err != nil {
			log.WithError(err).Warn("check_authentication: recomputing signature")
			valid = false
		}

		if err := s.signatory.invalidate(ctx, handle, true); err != nil {
			return nil, err
		}
	}

	reply := []kvform.Pair{
		{Key: "is_valid", Value: strconv.FormatBool(valid)},
	}

	if stale := args["openid.invalidate_handle"]; stale != "" {
		known, err := s.signatory.get(ctx, stale, false)
		if err != nil {
			return nil, err
		}
		if known == nil {
			reply = append(reply, kvform.Pair{Key: "invalidate_handle", Value: stale})
		}
	}

	body, err := kvform.Encode(reply)
	if err != nil {
		return nil, fmt.Errorf("encoding check_authentication reply: %w", err)
	}
	return &DirectResponse{Code: http.StatusOK, Body: body}, nil
}

// errorRedirect bounces a field error back to the relying party.
func (s *Server) errorRedirect(returnTo, message string) (*CheckIDResult, error) {
	redirect, err := appendArgs(returnTo, []kvform.Pair{
		{Key: "openid.mode", Value: "error"},
		{Key: "openid.error", Value: message},
	})
	if err != nil {
		return nil, err
	}
	return &CheckIDResult{Action: ActionRedirect, RedirectURL: redirect}, nil
}

// setupURL rebuilds the incoming immediate request as a checkid_setup
// URL against this provider.
func (s *Server) setupURL(args map[string]string) (string, error) {
	pairs := []kvform.Pair{
		{Key: "openid.mode", Value: "checkid_setup"},
		{Key: "openid.identity", Value: args["openid.identity"]},
		{Key: "openid.return_to", Value: args["openid.return_to"]},
	}
	if trustRoot := args["openid.trust_root"]; trustRoot != "" {
		pairs = append(pairs, kvform.Pair{Key: "openid.trust_root", Value: trustRoot})
	}
	if handle := args["openid.assoc_handle"]; handle != "" {
		pairs = append(pairs, kvform.Pair{Key: "openid.assoc_handle", Value: handle})
	}
	return appendArgs(s.serverURL, pairs)
}

// appendArgs appends query arguments to a URL in the given order.
func appendArgs(rawURL string, args []kvform.Pair) (string, error) {
	if len(args) == 0 {
		return rawURL, nil
	}
	if _, err := url.Parse(rawURL); err != nil {
		return "", err
	}

	sep := "?"
	if strings.ContainsRune(rawURL, '?') {
		sep = "&"
	}

	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, url.QueryEscape(a.Key)+"="+url.QueryEscape(a.Value))
	}
	return rawURL + sep + strings.Join(parts, "&"), nil
}

// flatten keeps the first value per key.
func flatten(query url.Values) map[string]string {
	m := make(map[string]string, len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			m[k] = vs[0]
		}
	}
	return m
}
