package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession indicates no authenticated session is present.
	ErrNoSession = errors.New("session: no session present")
	// ErrSessionExpired indicates the stored session token has lapsed.
	ErrSessionExpired = errors.New("session: token expired")
)

// Provider exposes the externally-managed authenticated session to the engine.
// The engine only asks whether a session is present; the token itself is
// forwarded to the remote store.
type Provider interface {
	SessionToken(ctx context.Context) (string, error)
}

// TokenSourceConfig configures a JWT-backed token source.
type TokenSourceConfig struct {
	Clock func() time.Time
}

// TokenSource holds the session JWT handed to the process by the
// authentication flow. Expiry is read from the token's registered claims
// locally so a lapsed session reports ErrSessionExpired without a network
// round-trip; signature verification stays with the remote store.
type TokenSource struct {
	clock func() time.Time

	mu    sync.RWMutex
	token string
}

// NewTokenSource constructs an empty token source.
func NewTokenSource(cfg TokenSourceConfig) *TokenSource {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenSource{clock: clock}
}

// SetToken installs or replaces the session token. An empty value clears the
// session.
func (s *TokenSource) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

// SessionToken returns the current session token, or ErrNoSession /
// ErrSessionExpired.
func (s *TokenSource) SessionToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNoSession
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		// Opaque (non-JWT) session tokens carry no readable expiry; presence
		// is all the engine can check.
		return token, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.clock()) {
		return "", ErrSessionExpired
	}
	return token, nil
}
