package letters

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Store persists letters. Every query is scoped by owner so that a letter of
// another user is indistinguishable from a missing one.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a GORM handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// List returns the owner's letters, most recently updated first.
func (s *Store) List(ctx context.Context, ownerID string) ([]Letter, error) {
	letters := make([]Letter, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&letters).Error
	if err != nil {
		return nil, err
	}
	return letters, nil
}

// Get loads one letter of the owner.
func (s *Store) Get(ctx context.Context, id, ownerID string) (Letter, error) {
	var letter Letter
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, ownerID).
		Take(&letter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Letter{}, ErrLetterNotFound
	}
	if err != nil {
		return Letter{}, err
	}
	return letter, nil
}

// Create inserts a new letter.
func (s *Store) Create(ctx context.Context, letter *Letter) error {
	return s.db.WithContext(ctx).Create(letter).Error
}

// Update applies title, content, drive reference and updated_at to the
// owner's letter. ID, owner and created_at are never touched.
func (s *Store) Update(ctx context.Context, letter Letter) (Letter, error) {
	result := s.db.WithContext(ctx).
		Model(&Letter{}).
		Where("id = ? AND user_id = ?", letter.ID, letter.UserID).
		Updates(map[string]interface{}{
			"title":           letter.Title,
			"content":         letter.Content,
			"google_drive_id": letter.GoogleDriveID,
			"updated_at":      letter.UpdatedAt,
		})
	if result.Error != nil {
		return Letter{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Letter{}, ErrLetterNotFound
	}
	return s.Get(ctx, letter.ID, letter.UserID)
}

// Delete removes the owner's letter.
func (s *Store) Delete(ctx context.Context, id, ownerID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, ownerID).
		Delete(&Letter{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLetterNotFound
	}
	return nil
}
