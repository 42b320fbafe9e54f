package auth

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexevent/nexevent/internal/apierr"
)

const identityKey = "identity"

const (
	detailNotProvided = "Authentication credentials were not provided."
	detailInvalid     = "Authentication credentials were invalid. Please login again."
)

// RequireAuth rejects requests without a valid bearer token or session.
// The session cookie only counts for safe methods, so state-changing
// requests need a bearer token. Query tokens are never accepted here.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := a.Authenticate(c, Options{IgnoreSession: !safeMethod(c.Request.Method)})
		if err != nil {
			switch {
			case errors.Is(err, ErrNotAuthenticated):
				abortUnauthorized(c, detailNotProvided)
			case errors.Is(err, ErrInvalidToken):
				log.Printf("Authentication failed for %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				abortUnauthorized(c, detailInvalid)
			default:
				apierr.Respond(c, err)
			}
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuth attaches the identity when one resolves and lets every
// request through.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := a.Authenticate(c, Options{})
		if err == nil {
			SetIdentity(c, identity)
		} else if !errors.Is(err, ErrNotAuthenticated) && !errors.Is(err, ErrInvalidToken) {
			log.Printf("Optional authentication failed for %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		}
		c.Next()
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func abortUnauthorized(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"detail":     detail,
		"error_type": "AUTH_ERROR",
	})
}

func SetIdentity(c *gin.Context, identity *Identity) {
	c.Set(identityKey, identity)
	c.Set(apierr.UserIDKey, identity.ID)
}

// CurrentIdentity returns the identity attached by the middleware.
func CurrentIdentity(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

// MustIdentity returns the identity attached by RequireAuth. It panics when
// used on a route without it.
func MustIdentity(c *gin.Context) *Identity {
	identity, ok := CurrentIdentity(c)
	if !ok {
		panic("auth: no identity on context, route is missing RequireAuth")
	}
	return identity
}
