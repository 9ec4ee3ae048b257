package letters

import (
	"errors"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrLetterNotFound covers both missing letters and letters owned by someone else.
	ErrLetterNotFound = errors.New("letters: letter not found")
	// ErrInvalidLetter indicates a save without a title or content.
	ErrInvalidLetter = errors.New("letters: title and content are required")
	// ErrUnauthorized indicates an operation without a usable identity.
	ErrUnauthorized = errors.New("letters: unauthorized")
)

// Letter is the persisted letter record. GoogleDriveID references the mirrored
// Google Docs file and stays empty until the mirror succeeded.
type Letter struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID        string    `gorm:"column:user_id;size:190;not null;index:idx_letters_user_updated,priority:1" json:"userId"`
	Title         string    `gorm:"column:title;type:text;not null" json:"title"`
	Content       string    `gorm:"column:content;type:text;not null" json:"content"`
	GoogleDriveID string    `gorm:"column:google_drive_id;size:190" json:"googleDriveId,omitempty"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_letters_user_updated,priority:2" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Letter) TableName() string {
	return "letters"
}

// SaveRequest is either a CreateLetter or an UpdateLetter.
type SaveRequest interface {
	validate() error
}

// CreateLetter asks for a new letter and a new mirrored file.
type CreateLetter struct {
	Title   string
	Content string
}

func (r CreateLetter) validate() error {
	return validateBody(r.Title, r.Content)
}

// UpdateLetter overwrites the title and content of an existing letter.
type UpdateLetter struct {
	ID      string
	Title   string
	Content string
}

func (r UpdateLetter) validate() error {
	return validateBody(r.Title, r.Content)
}

// NewSaveRequest decides between create and update from the optional id sent
// by the client. An empty id means create.
func NewSaveRequest(id, title, content string) SaveRequest {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return CreateLetter{Title: title, Content: content}
	}
	return UpdateLetter{ID: trimmedID, Title: title, Content: content}
}

// SaveResult is the outcome of a successful save.
type SaveResult struct {
	Letter  Letter
	DriveID string
	Created bool
}

func validateBody(title, content string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return ErrInvalidLetter
	}
	return nil
}

func validLetterID(id string) bool {
	trimmed := strings.TrimSpace(id)
	return trimmed != "" && len(trimmed) <= maxIdentifierLength
}
