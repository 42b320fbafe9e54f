package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nexevent/nexevent/internal/config"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrWrongTokenType    = errors.New("wrong token type")
	ErrInvalidAuthHeader = errors.New("invalid authorization header")
)

type Claims struct {
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func GenerateToken(cfg *config.Config, userID uint, username string, tokenType TokenType) (string, error) {
	expiry := cfg.AccessTokenExpiry
	if tokenType == RefreshToken {
		expiry = cfg.RefreshTokenExpiry
	}

	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func GenerateTokenPair(cfg *config.Config, userID uint, username string) (TokenPair, error) {
	access, err := GenerateToken(cfg, userID, username, AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := GenerateToken(cfg, userID, username, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// ValidateToken verifies signature and expiry of tokenString and checks that
// it is of the expected type.
func ValidateToken(cfg *config.Config, tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, expected)
	}
	return claims, nil
}

func ExtractTokenFromHeader(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidAuthHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidAuthHeader
	}
	return token, nil
}
