package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/openid/core"
	"github.com/layer-3/openid/ports"
)

// identityKey is the gin context key holding the verified identity URL.
const identityKey = "identity"

// AuthMiddleware creates middleware that validates session JWTs minted
// by the Complete handler.
func AuthMiddleware(store ports.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		identity, err := validateSession(c.Request.Context(), store, auth[7:])
		if err != nil {
			if errors.Is(err, core.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(identityKey, identity)

		c.Next()
	}
}

func validateSession(ctx context.Context, store ports.Store, token string) (string, error) {
	key, err := store.AuthKey(ctx)
	if err != nil {
		return "", err
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, core.ErrInvalidToken
		}
		return key, nil
	}, jwt.WithAudience(SessionAudience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", core.ErrTokenExpired
		}
		return "", core.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", core.ErrInvalidToken
	}
	identity, _ := claims["sub"].(string)
	if identity == "" {
		return "", core.ErrInvalidToken
	}
	return identity, nil
}
