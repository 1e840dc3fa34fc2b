package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// TokenConfig configures outbound bearer tokens.
type TokenConfig struct {
	Secret   string
	TTL      time.Duration
	Issuer   string
	Reviewer string
}

// TokenService mints HS256 tokens identifying the reviewer. A token is reused
// until less than a fifth of its lifetime remains.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &TokenService{cfg: cfg, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (s *TokenService) Enabled() bool {
	return s != nil && s.cfg.Secret != ""
}

// Token returns a valid bearer token, or "" when signing is disabled.
func (s *TokenService) Token(_ context.Context) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && s.expires.Sub(now) > s.cfg.TTL/5 {
		return s.cached, nil
	}

	expiresAt := now.Add(s.cfg.TTL)
	claims := models.ReviewerClaims{
		Reviewer: s.cfg.Reviewer,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   s.cfg.Reviewer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign access token")
	}
	s.cached = signed
	s.expires = expiresAt
	return signed, nil
}

// Validate parses a token minted with the same secret.
func (s *TokenService) Validate(tokenString string) (*models.ReviewerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.ReviewerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.ReviewerClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}
