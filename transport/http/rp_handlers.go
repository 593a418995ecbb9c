package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/layer-3/openid/consumer"
	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/ports"
)

const (
	// tokenCookie carries the pending verification token between the
	// begin redirect and the provider's return.
	tokenCookie = "openid_token"

	tokenCookieMaxAge = 300

	// SessionAudience marks JWTs minted after a verified login.
	SessionAudience = "openid:session"

	// DefaultSessionLifetime bounds a minted application session.
	DefaultSessionLifetime = 24 * time.Hour
)

// RPHandlers contains the relying-party HTTP handlers. After a
// successful verification they mint an HS256 session JWT keyed by the
// store's auth key.
type RPHandlers struct {
	consumer  *consumer.Consumer
	store     ports.Store
	trustRoot string
	returnTo  string
	lifetime  time.Duration
}

// NewRPHandlers creates relying-party handlers. trustRoot and returnTo
// are sent verbatim in every begin request; returnTo must point at the
// Complete route.
func NewRPHandlers(c *consumer.Consumer, store ports.Store, trustRoot, returnTo string) *RPHandlers {
	return &RPHandlers{
		consumer:  c,
		store:     store,
		trustRoot: trustRoot,
		returnTo:  returnTo,
		lifetime:  DefaultSessionLifetime,
	}
}

// Begin starts a login for the endpoint described by the query
// parameters claimed_id, server_id and server_url. It stashes the
// verification token in a short-lived cookie and returns the provider
// redirect URL.
func (h *RPHandlers) Begin(c *gin.Context) {
	endpoint := core.Endpoint{
		ClaimedID: c.Query("claimed_id"),
		ServerID:  c.Query("server_id"),
		ServerURL: c.Query("server_url"),
	}
	if endpoint.ClaimedID == "" || endpoint.ServerURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "claimed_id and server_url are required"})
		return
	}
	if endpoint.ServerID == "" {
		endpoint.ServerID = endpoint.ClaimedID
	}

	req, err := h.consumer.Begin(c.Request.Context(), endpoint)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not reach identity provider"})
		return
	}

	immediate := c.Query("immediate") == "true"
	redirect, err := req.RedirectURL(h.trustRoot, h.returnTo, immediate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider endpoint"})
		return
	}

	c.SetCookie(tokenCookie, req.Token, tokenCookieMaxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"redirect_url": redirect})
}

// Complete finishes a login when the provider sends the browser back.
// On success it answers with a bearer JWT for the verified identity.
func (h *RPHandlers) Complete(c *gin.Context) {
	token, err := c.Cookie(tokenCookie)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no login in progress"})
		return
	}
	c.SetCookie(tokenCookie, "", -1, "/", "", false, true)

	resp := h.consumer.Complete(c.Request.Context(), token, c.Request.URL.Query())
	switch resp.Status {
	case core.StatusSuccess:
		session, expiresIn, err := h.mintSession(c, resp.Identity)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"identity":     resp.Identity,
			"access_token": session,
			"token_type":   "Bearer",
			"expires_in":   int(expiresIn.Seconds()),
		})
	case core.StatusCancel:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case core.StatusSetupNeeded:
		c.JSON(http.StatusOK, gin.H{"status": "setup_needed", "setup_url": resp.SetupURL})
	default:
		c.JSON(http.StatusUnauthorized, gin.H{"error": resp.Message})
	}
}

// Me reports the identity bound to the session JWT. Mounted behind
// AuthMiddleware.
func (h *RPHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identity": c.GetString(identityKey)})
}

func (h *RPHandlers) mintSession(c *gin.Context, identity string) (string, time.Duration, error) {
	key, err := h.store.AuthKey(c.Request.Context())
	if err != nil {
		return "", 0, err
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   identity,
		Audience:  jwt.ClaimStrings{SessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.lifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", 0, err
	}
	return signed, h.lifetime, nil
}
