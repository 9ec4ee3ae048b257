package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrMissingToken indicates the login carried no delegated access token.
	ErrMissingToken = errors.New("users: delegated access token required")
	// ErrSessionNotFound covers missing, expired and foreign sessions alike.
	ErrSessionNotFound = errors.New("users: session not found")
	// ErrProfileNotFound indicates no profile exists for the user id.
	ErrProfileNotFound = errors.New("users: profile not found")
)

// ServiceConfig describes the dependencies required for profile and session management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages user profiles and server-side login sessions.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// LoginRecord is the outcome of a completed OAuth callback.
type LoginRecord struct {
	Claims     auth.GoogleClaims
	Token      *oauth2.Token
	SessionTTL time.Duration
}

// RecordLogin upserts the caller's profile and opens a new session holding the
// delegated token.
func (s *Service) RecordLogin(ctx context.Context, record LoginRecord) (Session, error) {
	userID := normalize(record.Claims.Subject)
	if userID == "" {
		return Session{}, ErrInvalidIdentity
	}
	if record.Token == nil || normalize(record.Token.AccessToken) == "" {
		return Session{}, ErrMissingToken
	}

	now := s.now().UTC()
	session := Session{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		AccessToken:  record.Token.AccessToken,
		RefreshToken: record.Token.RefreshToken,
		TokenType:    record.Token.TokenType,
		TokenExpiry:  record.Token.Expiry.UTC(),
		ExpiresAt:    now.Add(record.SessionTTL),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertProfile(tx, record.Claims, now); err != nil {
			return err
		}
		return tx.Create(&session).Error
	})
	if err != nil {
		s.logger.Error("failed to record login", zap.String("user_id", userID), zap.Error(err))
		return Session{}, err
	}
	return session, nil
}

func upsertProfile(tx *gorm.DB, claims auth.GoogleClaims, now time.Time) error {
	userID := normalize(claims.Subject)
	var profile Profile
	err := tx.Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&Profile{
			UserID:      userID,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			AvatarURL:   normalize(claims.Picture),
			LastSeenAt:  now,
		}).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"last_seen_at": now}
	if email := normalize(claims.Email); email != "" && email != profile.Email {
		updates["user_email"] = email
	}
	if name := normalize(claims.Name); name != "" && name != profile.DisplayName {
		updates["user_display_name"] = name
	}
	if avatar := normalize(claims.Picture); avatar != "" && avatar != profile.AvatarURL {
		updates["user_avatar_url"] = avatar
	}
	return tx.Model(&Profile{}).Where("user_id = ?", userID).Updates(updates).Error
}

// ResolveSession loads an unexpired session that belongs to userID.
func (s *Service) ResolveSession(ctx context.Context, sessionID, userID string) (Session, error) {
	sessionID = normalize(sessionID)
	userID = normalize(userID)
	if sessionID == "" || userID == "" {
		return Session{}, ErrSessionNotFound
	}

	var session Session
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if !session.ExpiresAt.After(s.now()) {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// UpdateSessionToken persists a refreshed delegated token.
func (s *Service) UpdateSessionToken(ctx context.Context, sessionID string, token *oauth2.Token) error {
	if token == nil || normalize(token.AccessToken) == "" {
		return ErrMissingToken
	}
	updates := map[string]interface{}{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"token_expiry": token.Expiry.UTC(),
	}
	if token.RefreshToken != "" {
		updates["refresh_token"] = token.RefreshToken
	}
	result := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("session_id = ?", normalize(sessionID)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// EndSession removes the session. Ending an unknown session is not an error.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).
		Where("session_id = ?", normalize(sessionID)).
		Delete(&Session{}).Error
}

// Profile returns the stored profile for userID.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}
