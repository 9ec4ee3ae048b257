package drive

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	// LettersFolderName is the well-known folder letters are mirrored into.
	LettersFolderName = "Letters"

	folderMimeType   = "application/vnd.google-apps.folder"
	documentMimeType = "application/vnd.google-apps.document"
	contentMimeType  = "text/html"
)

var lettersFolderQuery = fmt.Sprintf(
	"name='%s' and mimeType='%s' and 'root' in parents and trashed=false",
	LettersFolderName, folderMimeType,
)

// Mirror keeps a Google Docs copy of each letter in the owner's drive.
// Every method takes the caller's delegated access token.
type Mirror struct {
	clients *ClientFactory
	logger  *zap.Logger
}

// NewMirror constructs a Mirror on top of the client factory.
func NewMirror(clients *ClientFactory, logger *zap.Logger) *Mirror {
	if clients == nil {
		clients = NewClientFactory(ClientFactoryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{clients: clients, logger: logger}
}

// ResolveLettersFolder returns the id of the "Letters" folder at the drive
// root, creating it when absent. The first match returned by Drive wins.
func (m *Mirror) ResolveLettersFolder(ctx context.Context, accessToken string) (string, error) {
	service, err := m.clients.Service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	listing, err := service.Files.List().
		Q(lettersFolderQuery).
		Fields("files(id, name)").
		Spaces("drive").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive: list letters folder: %w", err)
	}
	if len(listing.Files) > 0 {
		folderID := listing.Files[0].Id
		m.logger.Debug("found letters folder", zap.String("folder_id", folderID))
		return folderID, nil
	}

	folder, err := service.Files.Create(&drivev3.File{
		Name:     LettersFolderName,
		MimeType: folderMimeType,
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive: create letters folder: %w", err)
	}
	m.logger.Info("created letters folder", zap.String("folder_id", folder.Id))
	return folder.Id, nil
}

// CreateFile uploads content as a new Google Docs file inside folderID.
func (m *Mirror) CreateFile(ctx context.Context, accessToken, folderID, title, content string) (string, error) {
	service, err := m.clients.Service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	metadata := &drivev3.File{
		Name:     title,
		MimeType: documentMimeType,
		Parents:  []string{folderID},
	}
	created, err := service.Files.Create(metadata).
		Media(strings.NewReader(content), googleapi.ContentType(contentMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive: create file: %w", err)
	}
	return created.Id, nil
}

// UpdateFile renames fileID and replaces its body.
func (m *Mirror) UpdateFile(ctx context.Context, accessToken, fileID, title, content string) error {
	service, err := m.clients.Service(ctx, accessToken)
	if err != nil {
		return err
	}
	_, err = service.Files.Update(fileID, &drivev3.File{Name: title}).
		Media(strings.NewReader(content), googleapi.ContentType(contentMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("drive: update file %s: %w", fileID, err)
	}
	return nil
}

// DeleteFile permanently removes fileID.
func (m *Mirror) DeleteFile(ctx context.Context, accessToken, fileID string) error {
	service, err := m.clients.Service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("drive: delete file %s: %w", fileID, err)
	}
	return nil
}
