package users

import (
	"time"

	"golang.org/x/oauth2"
)

// Session is a server-side login session. The browser only holds a signed
// reference to it; the delegated drive token stays here.
type Session struct {
	SessionID    string    `gorm:"column:session_id;primaryKey;size:190;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	AccessToken  string    `gorm:"column:access_token;type:text;not null"`
	RefreshToken string    `gorm:"column:refresh_token;type:text"`
	TokenType    string    `gorm:"column:token_type;size:32"`
	TokenExpiry  time.Time `gorm:"column:token_expiry"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing login sessions.
func (Session) TableName() string {
	return "user_sessions"
}

// OAuthToken rebuilds the delegated token stored on the session.
func (s Session) OAuthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.TokenExpiry,
	}
}

// Identity returns the request-scoped identity for this session.
func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, AccessToken: s.AccessToken}
}
