package letters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingMirror     = errors.New("file mirror is required")
	errMissingIDProvider = errors.New("id provider is required")
	errUnsupportedSave   = errors.New("unsupported save request")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "letters.service.new"
	opList       = "letters.list"
	opGet        = "letters.get"
	opSave       = "letters.save"
	opDelete     = "letters.delete"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// FileMirror is the drive-side collaborator. Every call carries the caller's
// delegated access token.
type FileMirror interface {
	ResolveLettersFolder(ctx context.Context, accessToken string) (string, error)
	CreateFile(ctx context.Context, accessToken, folderID, title, content string) (string, error)
	UpdateFile(ctx context.Context, accessToken, fileID, title, content string) error
	DeleteFile(ctx context.Context, accessToken, fileID string) error
}

type ServiceConfig struct {
	Database   *gorm.DB
	Mirror     FileMirror
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service composes the letter store and the drive mirror.
type Service struct {
	store      *Store
	mirror     FileMirror
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Mirror == nil {
		return nil, newServiceError(opServiceNew, "missing_mirror", errMissingMirror)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      NewStore(cfg.Database),
		mirror:     cfg.Mirror,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// List returns every letter owned by the identity.
func (s *Service) List(ctx context.Context, identity users.Identity) ([]Letter, error) {
	if identity.UserID == "" {
		return nil, newServiceError(opList, "unauthorized", ErrUnauthorized)
	}
	letters, err := s.store.List(ctx, identity.UserID)
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", identity.UserID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return letters, nil
}

// Get returns one letter of the identity.
func (s *Service) Get(ctx context.Context, identity users.Identity, letterID string) (Letter, error) {
	if identity.UserID == "" {
		return Letter{}, newServiceError(opGet, "unauthorized", ErrUnauthorized)
	}
	if !validLetterID(letterID) {
		return Letter{}, newServiceError(opGet, "not_found", ErrLetterNotFound)
	}
	letter, err := s.store.Get(ctx, letterID, identity.UserID)
	if errors.Is(err, ErrLetterNotFound) {
		return Letter{}, newServiceError(opGet, "not_found", err)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("user_id", identity.UserID), zap.String("letter_id", letterID))
		return Letter{}, newServiceError(opGet, "query_failed", err)
	}
	return letter, nil
}

// Save creates or updates a letter. The drive mirror is always written before
// the store, so a mirror failure leaves the store untouched. A store failure
// after a successful mirror write leaves the remote file behind.
func (s *Service) Save(ctx context.Context, identity users.Identity, request SaveRequest) (SaveResult, error) {
	if !identity.Valid() {
		return SaveResult{}, newServiceError(opSave, "unauthorized", ErrUnauthorized)
	}
	if request == nil {
		return SaveResult{}, newServiceError(opSave, "invalid_request", errUnsupportedSave)
	}
	if err := request.validate(); err != nil {
		return SaveResult{}, newServiceError(opSave, "invalid_letter", err)
	}

	// Once the mirror is touched the write runs to completion even if the
	// client goes away, so the store never lags a file that already exists.
	mirrorCtx := context.WithoutCancel(ctx)

	switch typed := request.(type) {
	case CreateLetter:
		return s.create(ctx, mirrorCtx, identity, typed)
	case UpdateLetter:
		return s.update(ctx, mirrorCtx, identity, typed)
	default:
		return SaveResult{}, newServiceError(opSave, "invalid_request", errUnsupportedSave)
	}
}

func (s *Service) create(ctx, mirrorCtx context.Context, identity users.Identity, request CreateLetter) (SaveResult, error) {
	letterID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSave, "id_generation_failed", err, zap.String("user_id", identity.UserID))
		return SaveResult{}, newServiceError(opSave, "id_generation_failed", err)
	}

	driveID, err := s.mirrorNewFile(mirrorCtx, identity, request.Title, request.Content)
	if err != nil {
		return SaveResult{}, err
	}

	now := s.timestamp()
	letter := Letter{
		ID:            letterID,
		UserID:        identity.UserID,
		Title:         request.Title,
		Content:       request.Content,
		GoogleDriveID: driveID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(mirrorCtx, &letter); err != nil {
		s.logger.Warn("letter not stored after drive file creation; drive file orphaned",
			zap.String("user_id", identity.UserID),
			zap.String("drive_id", driveID),
			zap.Error(err))
		return SaveResult{}, newServiceError(opSave, "store_create_failed", err)
	}
	return SaveResult{Letter: letter, DriveID: driveID, Created: true}, nil
}

func (s *Service) update(ctx, mirrorCtx context.Context, identity users.Identity, request UpdateLetter) (SaveResult, error) {
	if !validLetterID(request.ID) {
		return SaveResult{}, newServiceError(opSave, "not_found", ErrLetterNotFound)
	}
	existing, err := s.store.Get(ctx, request.ID, identity.UserID)
	if errors.Is(err, ErrLetterNotFound) {
		return SaveResult{}, newServiceError(opSave, "not_found", err)
	}
	if err != nil {
		s.logError(opSave, "query_failed", err, zap.String("user_id", identity.UserID), zap.String("letter_id", request.ID))
		return SaveResult{}, newServiceError(opSave, "query_failed", err)
	}

	driveID := existing.GoogleDriveID
	if driveID == "" {
		driveID, err = s.mirrorNewFile(mirrorCtx, identity, request.Title, request.Content)
		if err != nil {
			return SaveResult{}, err
		}
	} else if err := s.mirror.UpdateFile(mirrorCtx, identity.AccessToken, driveID, request.Title, request.Content); err != nil {
		s.logError(opSave, "mirror_update_failed", err, zap.String("user_id", identity.UserID), zap.String("drive_id", driveID))
		return SaveResult{}, newServiceError(opSave, "mirror_update_failed", err)
	}

	updated, err := s.store.Update(mirrorCtx, Letter{
		ID:            existing.ID,
		UserID:        existing.UserID,
		Title:         request.Title,
		Content:       request.Content,
		GoogleDriveID: driveID,
		UpdatedAt:     s.nextTimestamp(existing.UpdatedAt),
	})
	if errors.Is(err, ErrLetterNotFound) {
		return SaveResult{}, newServiceError(opSave, "not_found", err)
	}
	if err != nil {
		s.logError(opSave, "store_update_failed", err, zap.String("user_id", identity.UserID), zap.String("letter_id", request.ID))
		return SaveResult{}, newServiceError(opSave, "store_update_failed", err)
	}
	return SaveResult{Letter: updated, DriveID: driveID}, nil
}

func (s *Service) mirrorNewFile(ctx context.Context, identity users.Identity, title, content string) (string, error) {
	folderID, err := s.mirror.ResolveLettersFolder(ctx, identity.AccessToken)
	if err != nil {
		s.logError(opSave, "folder_resolve_failed", err, zap.String("user_id", identity.UserID))
		return "", newServiceError(opSave, "folder_resolve_failed", err)
	}
	driveID, err := s.mirror.CreateFile(ctx, identity.AccessToken, folderID, title, content)
	if err != nil {
		s.logError(opSave, "mirror_create_failed", err, zap.String("user_id", identity.UserID), zap.String("folder_id", folderID))
		return "", newServiceError(opSave, "mirror_create_failed", err)
	}
	return driveID, nil
}

// Delete removes the identity's letter. Removing the mirrored file is best
// effort: a drive failure is logged and the local delete proceeds.
func (s *Service) Delete(ctx context.Context, identity users.Identity, letterID string) error {
	if !identity.Valid() {
		return newServiceError(opDelete, "unauthorized", ErrUnauthorized)
	}
	if !validLetterID(letterID) {
		return newServiceError(opDelete, "not_found", ErrLetterNotFound)
	}
	existing, err := s.store.Get(ctx, letterID, identity.UserID)
	if errors.Is(err, ErrLetterNotFound) {
		return newServiceError(opDelete, "not_found", err)
	}
	if err != nil {
		s.logError(opDelete, "query_failed", err, zap.String("user_id", identity.UserID), zap.String("letter_id", letterID))
		return newServiceError(opDelete, "query_failed", err)
	}

	mirrorCtx := context.WithoutCancel(ctx)
	if existing.GoogleDriveID != "" {
		if err := s.mirror.DeleteFile(mirrorCtx, identity.AccessToken, existing.GoogleDriveID); err != nil {
			s.logger.Warn("drive file deletion failed; drive file orphaned",
				zap.String("user_id", identity.UserID),
				zap.String("letter_id", letterID),
				zap.String("drive_id", existing.GoogleDriveID),
				zap.Error(err))
		}
	}

	err = s.store.Delete(mirrorCtx, letterID, identity.UserID)
	if errors.Is(err, ErrLetterNotFound) {
		return newServiceError(opDelete, "not_found", err)
	}
	if err != nil {
		s.logError(opDelete, "store_delete_failed", err, zap.String("user_id", identity.UserID), zap.String("letter_id", letterID))
		return newServiceError(opDelete, "store_delete_failed", err)
	}
	return nil
}

func (s *Service) timestamp() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// nextTimestamp keeps updated_at strictly increasing even when the clock has
// not advanced past the previous write.
func (s *Service) nextTimestamp(previous time.Time) time.Time {
	now := s.timestamp()
	if !now.After(previous) {
		return previous.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("letters service error", attrs...)
}
