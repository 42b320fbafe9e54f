package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/database"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/metrics"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/validation"
)

type Service struct {
	config    *config.Config
	db        *gorm.DB
	auth      *auth.Authenticator
	validator *validation.Validator
	tr        *i18n.Translator
}

func NewService(cfg *config.Config, db *gorm.DB, authenticator *auth.Authenticator, v *validation.Validator, tr *i18n.Translator) *Service {
	return &Service{
		config:    cfg,
		db:        db,
		auth:      authenticator,
		validator: v,
		tr:        tr,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	// Authentication routes
	r.POST("/api/register/", s.Register)
	r.POST("/api/login/", s.Login)
	r.POST("/api/token/refresh/", s.Refresh)
	r.POST("/api/logout/", s.auth.OptionalAuth(), s.Logout)

	r.GET("/api/user/profile/", s.auth.RequireAuth(), s.Profile)

	// Health check
	r.GET("/health", s.HealthCheck)
}

// UserView is the JSON shape of a user in authentication responses.
type UserView struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Session struct {
	User   UserView
	Role   models.Role
	Tokens auth.TokenPair
}

func userView(u *models.User) UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// SignUp creates a user and its profile in one transaction and issues
// tokens for it. Duplicate usernames and emails are field errors, whether
// caught up front or by the unique indexes.
func (s *Service) SignUp(ctx context.Context, req validation.Registration) (Session, error) {
	req.Normalize()
	if errs := s.validator.Registration(req); len(errs) > 0 {
		return Session{}, apierr.NewValidation(s.tr.Msg("ValidationFailed"), errs)
	}
	if errs := s.duplicates(ctx, req.Username, req.Email); len(errs) > 0 {
		return Session{}, apierr.NewValidation(s.tr.Msg("ValidationFailed"), errs)
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return Session{}, err
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	}
	role := models.Role(req.Role)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserProfile{UserID: user.ID, Role: role}).Error
	})
	if err != nil {
		if errs := s.duplicates(ctx, req.Username, req.Email); len(errs) > 0 || database.IsDuplicate(err) {
			if len(errs) == 0 {
				errs = validation.Errors{"username": s.tr.Msg("UsernameTaken")}
			}
			return Session{}, apierr.NewValidation(s.tr.Msg("ValidationFailed"), errs)
		}
		return Session{}, apierr.NewInternal("Registration failed", err)
	}
	metrics.UsersRegistered.WithLabelValues(string(role)).Inc()

	tokens, err := auth.GenerateTokenPair(s.config, user.ID, user.Username)
	if err != nil {
		return Session{}, err
	}
	return Session{User: userView(&user), Role: role, Tokens: tokens}, nil
}

func (s *Service) duplicates(ctx context.Context, username, email string) validation.Errors {
	errs := validation.Errors{}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err == nil && count > 0 {
		errs["username"] = s.tr.Msg("UsernameTaken")
	}
	count = 0
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err == nil && count > 0 {
		errs["email"] = s.tr.Msg("EmailTaken")
	}
	return errs
}

// SignIn checks credentials and issues tokens. Unknown users and wrong
// passwords are reported identically.
func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)

	errs := validation.Errors{}
	if username == "" {
		errs["username"] = s.tr.Msg("UsernameRequired")
	}
	if password == "" {
		errs["password"] = s.tr.Msg("PasswordRequired")
	}
	if len(errs) > 0 {
		return Session{}, apierr.NewValidation(s.tr.Msg("ValidationFailed"), errs)
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("Profile").Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		auth.CompareDummy(password)
		metrics.LoginFailures.Inc()
		return Session{}, apierr.NewAuthentication(s.tr.Msg("InvalidCredentials"))
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to fetch user %q: %w", username, err)
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		metrics.LoginFailures.Inc()
		return Session{}, apierr.NewAuthentication(s.tr.Msg("InvalidCredentials"))
	}

	tokens, err := auth.GenerateTokenPair(s.config, user.ID, user.Username)
	if err != nil {
		return Session{}, err
	}
	identity := auth.IdentityFromUser(&user)
	return Session{User: userView(&user), Role: identity.Role, Tokens: tokens}, nil
}

// RefreshAccess issues a new access token from a refresh token.
func (s *Service) RefreshAccess(ctx context.Context, refreshToken string) (string, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", apierr.NewValidation(s.tr.Msg("ValidationFailed"), map[string]string{"refresh": s.tr.Msg("RefreshRequired")})
	}

	claims, err := auth.ValidateToken(s.config, refreshToken, auth.RefreshToken)
	if err != nil {
		return "", apierr.NewAuthentication(s.tr.Msg("InvalidToken"))
	}

	identity, err := s.auth.LoadIdentity(ctx, claims.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apierr.NewAuthentication(s.tr.Msg("InvalidToken"))
	}
	if err != nil {
		return "", err
	}

	return auth.GenerateToken(s.config, identity.ID, identity.Username, auth.AccessToken)
}

func (s *Service) Register(c *gin.Context) {
	var req validation.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.NewValidation(s.tr.Msg("InvalidRequest"), map[string]string{"body": err.Error()}))
		return
	}

	session, err := s.SignUp(c.Request.Context(), req)
	if err != nil {
		if apierr.KindOf(err) == apierr.Validation {
			log.Printf("Registration validation failed for %q", req.Username)
		}
		apierr.Respond(c, err)
		return
	}

	log.Printf("User registered successfully: %s as %s", session.User.Username, session.Role)
	c.JSON(http.StatusCreated, gin.H{
		"message": s.tr.Msg("RegistrationSuccess"),
		"access":  session.Tokens.Access,
		"refresh": session.Tokens.Refresh,
		"role":    session.Role,
		"user":    session.User,
	})
}

func (s *Service) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.NewValidation(s.tr.Msg("InvalidRequest"), map[string]string{"body": err.Error()}))
		return
	}

	log.Printf("Login attempt for username: %s", strings.TrimSpace(req.Username))
	session, err := s.SignIn(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if apierr.KindOf(err) == apierr.Authentication {
			log.Printf("Failed login attempt for username: %s", strings.TrimSpace(req.Username))
		}
		apierr.Respond(c, err)
		return
	}

	log.Printf("Successful login for user: %s (ID: %d)", session.User.Username, session.User.ID)
	c.JSON(http.StatusOK, gin.H{
		"message": s.tr.Msg("LoginSuccess"),
		"access":  session.Tokens.Access,
		"refresh": session.Tokens.Refresh,
		"role":    session.Role,
		"user":    session.User,
	})
}

func (s *Service) Refresh(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.NewValidation(s.tr.Msg("InvalidRequest"), map[string]string{"body": err.Error()}))
		return
	}

	access, err := s.RefreshAccess(c.Request.Context(), req.Refresh)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": s.tr.Msg("TokenRefreshed"),
		"access":  access,
	})
}

// Logout ends the server-side session. Access tokens stay valid until they
// expire, so clients discard them.
func (s *Service) Logout(c *gin.Context) {
	username := "Anonymous"
	if identity, ok := auth.CurrentIdentity(c); ok {
		username = identity.Username
	}

	if err := s.auth.EndSession(c); err != nil {
		apierr.Respond(c, apierr.NewInternal("Logout failed", err))
		return
	}

	log.Printf("User logged out: %s", username)
	c.JSON(http.StatusOK, gin.H{
		"message": s.tr.Msg("LogoutSuccess"),
	})
}

func (s *Service) Profile(c *gin.Context) {
	identity := auth.MustIdentity(c)

	c.JSON(http.StatusOK, gin.H{
		"id":         identity.ID,
		"username":   identity.Username,
		"email":      identity.Email,
		"first_name": identity.FirstName,
		"last_name":  identity.LastName,
		"role":       identity.Role,
	})
}

func (s *Service) HealthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   "nexevent",
		"timestamp": time.Now().UTC(),
	})
}
