package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionTokenIssuer is the issuer claim stamped into every session cookie.
	SessionTokenIssuer = "letters-api"
	defaultSessionTTL  = 7 * 24 * time.Hour
)

var (
	ErrMissingSessionID = errors.New("session issuer: session id required")
	errMissingUserID    = errors.New("session issuer: user id required")
)

// SessionIssuerConfig configures the session cookie signer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	TTL           time.Duration
	Clock         func() time.Time
}

// SessionIssuer signs HS256 session tokens that reference a server-side session row.
type SessionIssuer struct {
	signingSecret []byte
	ttl           time.Duration
	clock         func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// TTL reports the lifetime of issued sessions.
func (i *SessionIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the user and session pair and returns its expiry.
func (i *SessionIssuer) Issue(userID, sessionID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errMissingUserID
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, ErrMissingSessionID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    SessionTokenIssuer,
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
