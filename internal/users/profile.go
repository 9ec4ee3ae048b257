package users

import (
	"strings"
	"time"
)

// Profile is the persisted view of a Google account that signed in.
type Profile struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"id"`
	Email       string    `gorm:"column:user_email;size:320" json:"email"`
	DisplayName string    `gorm:"column:user_display_name;size:320" json:"displayName"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512" json:"avatarUrl"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at" json:"-"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

// Identity is the authenticated caller of a single request. It is built by the
// session gate and passed explicitly to every letters operation.
type Identity struct {
	UserID      string
	AccessToken string
}

// Valid reports whether the identity can act on letters and the drive mirror.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.UserID) != "" && strings.TrimSpace(i.AccessToken) != ""
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
