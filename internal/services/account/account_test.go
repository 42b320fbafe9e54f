package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/testutil"
	"github.com/nexevent/nexevent/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	cfg    *config.Config
	db     *gorm.DB
	svc    *Service
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	db := testutil.NewDB(t)
	store, _ := testutil.NewRedis(t, cfg)
	tr := i18n.NewTranslator(cfg.DefaultLocale)
	svc := NewService(cfg, db, auth.NewAuthenticator(cfg, db, store), validation.New(cfg, tr), tr)

	r := gin.New()
	svc.SetupRoutes(r)
	return &fixture{cfg: cfg, db: db, svc: svc, router: r}
}

func (f *fixture) post(t *testing.T, path string, payload any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return f.serve(t, req)
}

func (f *fixture) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func registration(username string) map[string]any {
	return map[string]any{
		"username":   username,
		"email":      username + "@example.com",
		"password":   "secret123",
		"first_name": "Alice",
		"last_name":  "Smith",
		"role":       "Organizer",
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	w, body := f.post(t, "/api/register/", registration("alice"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "User created successfully. Please login.", body["message"])
	assert.Equal(t, "Organizer", body["role"])
	assert.Equal(t, "alice", body["user"].(map[string]any)["username"])

	claims, err := auth.ValidateToken(f.cfg, body["access"].(string), auth.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	_, err = auth.ValidateToken(f.cfg, body["refresh"].(string), auth.RefreshToken)
	require.NoError(t, err)

	var users, profiles int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, f.db.Model(&models.UserProfile{}).Count(&profiles).Error)
	assert.Equal(t, int64(1), users)
	assert.Equal(t, int64(1), profiles)

	var profile models.UserProfile
	require.NoError(t, f.db.Where("user_id = ?", claims.UserID).First(&profile).Error)
	assert.Equal(t, models.RoleOrganizer, profile.Role)

	var user models.User
	require.NoError(t, f.db.First(&user, claims.UserID).Error)
	assert.NotEqual(t, "secret123", user.PasswordHash)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "secret123"))
}

func TestRegisterDefaultsToSeeker(t *testing.T) {
	f := newFixture(t)

	payload := registration("sam")
	delete(payload, "role")
	w, body := f.post(t, "/api/register/", payload)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Seeker", body["role"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newFixture(t)

	w, _ := f.post(t, "/api/register/", registration("alice"))
	require.Equal(t, http.StatusCreated, w.Code)

	payload := registration("alice")
	payload["email"] = "other@example.com"
	w, body := f.post(t, "/api/register/", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "This username is already taken", fields["username"])
	assert.NotContains(t, fields, "email")

	_, err := f.svc.SignUp(context.Background(), validation.Registration{
		Username: "bob", Email: "alice@example.com", Password: "secret123", FirstName: "Bob", LastName: "Jones",
	})
	assert.Equal(t, apierr.Validation, apierr.KindOf(err))
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "This email is already registered", apiErr.Fields["email"])

	var users int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	assert.Equal(t, int64(1), users)
}

func TestRegisterLeavesNoUserWhenProfileFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("fail_profiles", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "user_profiles" {
			tx.AddError(errors.New("profile store unavailable"))
		}
	}))

	_, err := f.svc.SignUp(context.Background(), validation.Registration{
		Username: "alice", Email: "alice@example.com", Password: "secret123", FirstName: "Alice", LastName: "Smith",
	})
	require.Error(t, err)
	assert.Equal(t, apierr.Internal, apierr.KindOf(err))

	var users, profiles int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, f.db.Model(&models.UserProfile{}).Count(&profiles).Error)
	assert.Equal(t, int64(0), users)
	assert.Equal(t, int64(0), profiles)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	payload := registration("al")
	payload["email"] = "not-an-email"
	payload["password"] = "123"
	payload["role"] = "Admin"
	payload["first_name"] = "  "

	w, body := f.post(t, "/api/register/", payload)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := body["fields"].(map[string]any)
	for _, field := range []string{"username", "email", "password", "first_name", "role"} {
		assert.Contains(t, fields, field)
	}
	assert.NotContains(t, fields, "last_name")
	assert.Equal(t, "Role must be one of: Seeker, Organizer", fields["role"])
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	user := testutil.CreateUser(t, f.db, "alice", models.RoleOrganizer)

	w, body := f.post(t, "/api/login/", map[string]string{"username": "alice", "password": testutil.Password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Organizer", body["role"])
	assert.Equal(t, float64(user.ID), body["user"].(map[string]any)["id"])
	assert.NotEmpty(t, body["access"])
	assert.NotEmpty(t, body["refresh"])
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	testutil.CreateUser(t, f.db, "alice", models.RoleSeeker)

	wrong, wrongBody := f.post(t, "/api/login/", map[string]string{"username": "alice", "password": "nope-nope"})
	unknown, unknownBody := f.post(t, "/api/login/", map[string]string{"username": "nobody", "password": "nope-nope"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrongBody, unknownBody)
	assert.Equal(t, "Invalid username or password", wrongBody["error"])

	w, body := f.post(t, "/api/login/", map[string]string{"username": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["fields"], "username")
	assert.Contains(t, body["fields"], "password")
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	user := testutil.CreateUser(t, f.db, "alice", models.RoleSeeker)
	pair, err := auth.GenerateTokenPair(f.cfg, user.ID, user.Username)
	require.NoError(t, err)

	w, body := f.post(t, "/api/token/refresh/", map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	claims, err := auth.ValidateToken(f.cfg, body["access"].(string), auth.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	w, body = f.post(t, "/api/token/refresh/", map[string]string{"refresh": pair.Access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Token is invalid or expired", body["error"])

	w, _ = f.post(t, "/api/token/refresh/", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProfileAndLogout(t *testing.T) {
	f := newFixture(t)
	user := testutil.CreateUser(t, f.db, "alice", models.RoleOrganizer)
	token, err := auth.GenerateToken(f.cfg, user.ID, user.Username, auth.AccessToken)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/user/profile/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w, body := f.serve(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "Organizer", body["role"])

	w, _ = f.serve(t, httptest.NewRequest(http.MethodGet, "/api/user/profile/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = f.serve(t, httptest.NewRequest(http.MethodPost, "/api/logout/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out successfully", body["message"])
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w, body := f.serve(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}
