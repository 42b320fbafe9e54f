package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/redis"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Store keeps server-side sessions and the identity cache.
type Store interface {
	CreateSession(ctx context.Context, userID uint, ttl time.Duration) (string, error)
	GetSession(ctx context.Context, sessionID string) (uint, error)
	DeleteSession(ctx context.Context, sessionID string) error
	CacheGet(ctx context.Context, key string, dest any) error
	CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheDelete(ctx context.Context, key string) error
}

// Identity is the acting user of a request.
type Identity struct {
	ID        uint        `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      models.Role `json:"role"`
}

func (i *Identity) IsOrganizer() bool {
	return i.Role == models.RoleOrganizer
}

// Options tune a single authentication attempt.
type Options struct {
	// PermitQueryToken accepts an access token in the "token" query
	// parameter and turns it into a session. Only page routes set it.
	PermitQueryToken bool
	// IgnoreSession skips the session cookie so that only a bearer token
	// authenticates the request.
	IgnoreSession bool
}

type Authenticator struct {
	config *config.Config
	db     *gorm.DB
	store  Store
}

func NewAuthenticator(cfg *config.Config, db *gorm.DB, store Store) *Authenticator {
	return &Authenticator{
		config: cfg,
		db:     db,
		store:  store,
	}
}

// Authenticate resolves the identity of the request. A bearer header wins
// and is never ignored when invalid. Without one, the query token (if
// permitted) and then the session cookie are tried. It returns
// ErrNotAuthenticated when no credentials were presented and an
// ErrInvalidToken-wrapping error when the presented ones are bad.
func (a *Authenticator) Authenticate(c *gin.Context, opts Options) (*Identity, error) {
	ctx := c.Request.Context()

	if header := c.GetHeader("Authorization"); header != "" {
		tokenString, err := ExtractTokenFromHeader(header)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return a.identityFromToken(ctx, tokenString)
	}

	if opts.PermitQueryToken {
		if tokenString := c.Query("token"); tokenString != "" {
			identity, err := a.identityFromToken(ctx, tokenString)
			if err != nil {
				return nil, err
			}
			if err := a.StartSession(c, identity.ID); err != nil {
				return nil, err
			}
			log.Printf("Session established from query token for user %s", identity.Username)
			return identity, nil
		}
	}

	if opts.IgnoreSession {
		return nil, ErrNotAuthenticated
	}
	sessionID, err := c.Cookie(a.config.SessionCookieName)
	if err != nil || sessionID == "" {
		return nil, ErrNotAuthenticated
	}
	userID, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, redis.ErrSessionNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, err
	}
	identity, err := a.LoadIdentity(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotAuthenticated
	}
	return identity, err
}

func (a *Authenticator) identityFromToken(ctx context.Context, tokenString string) (*Identity, error) {
	claims, err := ValidateToken(a.config, tokenString, AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	identity, err := a.LoadIdentity(ctx, claims.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %d no longer exists", ErrInvalidToken, claims.UserID)
	}
	return identity, err
}

func identityCacheKey(userID uint) string {
	return fmt.Sprintf("identity:%d", userID)
}

// LoadIdentity returns the identity of userID, served from the cache when
// possible. It returns gorm.ErrRecordNotFound for unknown users.
func (a *Authenticator) LoadIdentity(ctx context.Context, userID uint) (*Identity, error) {
	var identity Identity
	err := a.store.CacheGet(ctx, identityCacheKey(userID), &identity)
	if err == nil {
		return &identity, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		log.Printf("Identity cache read failed for user %d: %v", userID, err)
	}

	var user models.User
	if err := a.db.WithContext(ctx).Preload("Profile").First(&user, userID).Error; err != nil {
		return nil, err
	}

	identity = IdentityFromUser(&user)
	if err := a.store.CacheSet(ctx, identityCacheKey(userID), identity, a.config.UserCacheTTL); err != nil {
		log.Printf("Identity cache write failed for user %d: %v", userID, err)
	}
	return &identity, nil
}

// IdentityFromUser builds an identity from a user loaded with its profile.
// Users without a profile are treated as seekers.
func IdentityFromUser(user *models.User) Identity {
	role := user.Profile.Role
	if !role.Valid() {
		role = models.RoleSeeker
	}
	return Identity{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      role,
	}
}

// StartSession creates a server-side session for userID and sets its cookie.
func (a *Authenticator) StartSession(c *gin.Context, userID uint) error {
	sessionID, err := a.store.CreateSession(c.Request.Context(), userID, a.config.SessionTTL)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.config.SessionCookieName, sessionID, int(a.config.SessionTTL.Seconds()), "/", "", a.config.SessionCookieSecure, true)
	return nil
}

// EndSession deletes the request's session, if any, and clears its cookie
// and the owner's cached identity.
func (a *Authenticator) EndSession(c *gin.Context) error {
	sessionID, err := c.Cookie(a.config.SessionCookieName)
	if err != nil || sessionID == "" {
		return nil
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.config.SessionCookieName, "", -1, "/", "", a.config.SessionCookieSecure, true)

	ctx := c.Request.Context()
	if userID, err := a.store.GetSession(ctx, sessionID); err == nil {
		if err := a.store.CacheDelete(ctx, identityCacheKey(userID)); err != nil {
			log.Printf("Identity cache delete failed for user %d: %v", userID, err)
		}
	}
	return a.store.DeleteSession(ctx, sessionID)
}
