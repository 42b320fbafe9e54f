package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// Sessions and caching
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool
	UserCacheTTL        time.Duration

	// HTTP
	ServerPort     string
	AllowedOrigins []string
	DefaultLocale  string

	// Validation bounds
	UsernameMinLength         int
	UsernameMaxLength         int
	EmailMaxLength            int
	PasswordMinLength         int
	EventNameMinLength        int
	EventNameMaxLength        int
	EventDescriptionMinLength int
	EventDescriptionMaxLength int
	EventLocationMinLength    int
	EventLocationMaxLength    int
	EventCategories           []string

	// Listings
	EventsPerPage int
}

// Column widths of the bounded text fields. The models declare the same
// sizes in their gorm tags.
const (
	usernameColumn         = 150
	emailColumn            = 254
	eventNameColumn        = 200
	eventDescriptionColumn = 500
	eventLocationColumn    = 200
)

func Load() (*Config, error) {
	godotenv.Load()

	return fromEnv(os.Getenv), nil
}

// Default returns the configuration with every value at its default,
// ignoring the process environment.
func Default() *Config {
	return fromEnv(func(string) string { return "" })
}

func fromEnv(lookup func(string) string) *Config {
	e := env(lookup)

	return &Config{
		DBHost:     e.getEnv("DB_HOST", "localhost"),
		DBPort:     e.getEnv("DB_PORT", "5432"),
		DBUser:     e.getEnv("DB_USER", "postgres"),
		DBPassword: e.getEnv("DB_PASSWORD", "password"),
		DBName:     e.getEnv("DB_NAME", "nexevent"),
		DBSSLMode:  e.getEnv("DB_SSLMODE", "disable"),

		RedisHost:     e.getEnv("REDIS_HOST", "localhost"),
		RedisPort:     e.getEnv("REDIS_PORT", "6379"),
		RedisPassword: e.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       e.getEnvInt("REDIS_DB", 0),

		JWTSecret:          e.getEnv("JWT_SECRET", "your-secret-key-here"),
		AccessTokenExpiry:  parseDuration(e.getEnv("JWT_ACCESS_EXPIRY", "60m"), time.Hour),
		RefreshTokenExpiry: parseDuration(e.getEnv("JWT_REFRESH_EXPIRY", "24h"), 24*time.Hour),

		SessionTTL:          parseDuration(e.getEnv("SESSION_TTL", "336h"), 14*24*time.Hour), // two weeks
		SessionCookieName:   e.getEnv("SESSION_COOKIE_NAME", "sessionid"),
		SessionCookieSecure: e.getEnvBool("SESSION_COOKIE_SECURE", false),
		UserCacheTTL:        parseDuration(e.getEnv("USER_CACHE_TTL", "10m"), 10*time.Minute),

		ServerPort:     e.getEnv("SERVER_PORT", "8000"),
		AllowedOrigins: e.getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:8000"}),
		DefaultLocale:  e.getEnv("DEFAULT_LOCALE", "en"),

		UsernameMinLength:         e.getEnvInt("USERNAME_MIN_LENGTH", 3),
		UsernameMaxLength:         e.getEnvIntAtMost("USERNAME_MAX_LENGTH", usernameColumn),
		EmailMaxLength:            e.getEnvIntAtMost("EMAIL_MAX_LENGTH", emailColumn),
		PasswordMinLength:         e.getEnvInt("PASSWORD_MIN_LENGTH", 6),
		EventNameMinLength:        e.getEnvInt("EVENT_NAME_MIN_LENGTH", 3),
		EventNameMaxLength:        e.getEnvIntAtMost("EVENT_NAME_MAX_LENGTH", eventNameColumn),
		EventDescriptionMinLength: e.getEnvInt("EVENT_DESCRIPTION_MIN_LENGTH", 10),
		EventDescriptionMaxLength: e.getEnvIntAtMost("EVENT_DESCRIPTION_MAX_LENGTH", eventDescriptionColumn),
		EventLocationMinLength:    e.getEnvInt("EVENT_LOCATION_MIN_LENGTH", 2),
		EventLocationMaxLength:    e.getEnvIntAtMost("EVENT_LOCATION_MAX_LENGTH", eventLocationColumn),
		EventCategories:           e.getEnvList("EVENT_CATEGORIES", []string{"Tech", "Arts", "Sports", "Education"}),

		EventsPerPage: e.getEnvInt("EVENTS_PER_PAGE", 12),
	}
}

// IsCategory reports whether category is one of the configured event categories.
func (c *Config) IsCategory(category string) bool {
	for _, known := range c.EventCategories {
		if known == category {
			return true
		}
	}
	return false
}

type env func(string) string

func (e env) getEnv(key, defaultValue string) string {
	value := e(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func (e env) getEnvBool(key string, defaultValue bool) bool {
	value := e(key)
	valueBool, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return valueBool
}

func (e env) getEnvInt(key string, defaultValue int) int {
	value := e(key)
	valueInt, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return valueInt
}

// getEnvIntAtMost reads an upper bound that must fit its database column.
// Larger values are clamped to the column width.
func (e env) getEnvIntAtMost(key string, column int) int {
	value := e.getEnvInt(key, column)
	if value <= 0 || value > column {
		return column
	}
	return value
}

func (e env) getEnvList(key string, defaultValue []string) []string {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	duration, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return duration
}
