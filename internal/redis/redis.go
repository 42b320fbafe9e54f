package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/nexevent/nexevent/internal/config"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCacheMiss       = errors.New("cache miss")
)

type Client struct {
	rdb *redis.Client
}

func NewClient(cfg *config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// CreateSession stores a server-side session for userID and returns its id.
func (c *Client) CreateSession(ctx context.Context, userID uint, ttl time.Duration) (string, error) {
	sessionID := uuid.NewString()
	if err := c.rdb.Set(ctx, sessionKey(sessionID), userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// GetSession returns the user id owning sessionID.
func (c *Client) GetSession(ctx context.Context, sessionID string) (uint, error) {
	val, err := c.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session: %w", err)
	}

	userID, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID in session: %w", err)
	}
	return uint(userID), nil
}

// DeleteSession removes sessionID. Deleting a missing session is not an error.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

// CacheSet stores value as JSON under key for ttl.
func (c *Client) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// CacheGet decodes the JSON stored under key into dest. It returns
// ErrCacheMiss when the key is absent or expired.
func (c *Client) CacheGet(ctx context.Context, key string, dest any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

func (c *Client) CacheDelete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
