// Package testutil builds throwaway stores for package tests: an in-memory
// SQLite database and a miniredis-backed client.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/database"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/redis"
)

// NewDB returns a migrated in-memory database private to t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewRedis returns a client connected to a fresh miniredis server.
func NewRedis(t *testing.T, cfg *config.Config) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := *cfg
	c.RedisHost = mr.Host()
	c.RedisPort = mr.Port()

	client := redis.NewClient(&c)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// Password is the plain-text password of every user made by CreateUser.
const Password = "password123"

// CreateUser stores a user and its profile with the given role.
func CreateUser(t *testing.T, db *gorm.DB, username string, role models.Role) models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)

	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		FirstName:    "Test",
		LastName:     username,
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.UserProfile{UserID: user.ID, Role: role}).Error)
	user.Profile = models.UserProfile{UserID: user.ID, Role: role}
	return user
}

// CreateEvent stores an event organised by organiserID, starting at start.
func CreateEvent(t *testing.T, db *gorm.DB, organiserID uint, name, category string, start time.Time, price string) models.Event {
	t.Helper()

	event := models.Event{
		Name:        name,
		Description: "Description of " + name,
		DateTime:    start.UTC(),
		Location:    "Berlin",
		Category:    category,
		TicketPrice: decimal.RequireFromString(price),
		OrganiserID: organiserID,
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}
