// Package drive publishes generated context files to a Google Drive folder
// that downstream consumers index.
package drive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultFolder   = "RIC_AI_INDEX"
	DefaultFileName = "sites_context.txt"

	folderMimeType = "application/vnd.google-apps.folder"
)

// ErrNoCredentials is returned when no service account JSON is configured.
var ErrNoCredentials = errors.New("google service account credentials not configured")

// NewService builds a Drive client authenticated as the service account in
// credentialsJSON, limited to files the account creates.
func NewService(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*drive.Service, error) {
	if len(strings.TrimSpace(string(credentialsJSON))) == 0 {
		return nil, ErrNoCredentials
	}
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithCredentials(creds)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}

// Uploader writes named files into named folders.
type Uploader struct {
	Service *drive.Service
}

// Result reports what Upsert did.
type Result struct {
	FolderID string
	FileID   string
	Created  bool
}

// FindOrCreateFolder returns the id of the first non-trashed folder called
// name, creating it when absent.
func (u *Uploader) FindOrCreateFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMimeType)
	list, err := u.Service.Files.List().Q(q).Spaces("drive").Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list folders: %w", err)
	}
	if len(list.Files) > 0 {
		log.Debug().Str("folder", name).Str("id", list.Files[0].Id).Msg("drive folder found")
		return list.Files[0].Id, nil
	}
	f, err := u.Service.Files.Create(&drive.File{Name: name, MimeType: folderMimeType}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	log.Warn().Str("folder", name).Str("id", f.Id).Msg("drive folder missing, created")
	return f.Id, nil
}

// Upsert replaces the content of fileName inside folderName, or creates the
// file and shares it read-only with anyone holding the link.
func (u *Uploader) Upsert(ctx context.Context, folderName string, fileName string, content string) (Result, error) {
	folderID, err := u.FindOrCreateFolder(ctx, folderName)
	if err != nil {
		return Result{}, err
	}
	res := Result{FolderID: folderID}

	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQuery(fileName), escapeQuery(folderID))
	list, err := u.Service.Files.List().Q(q).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return res, fmt.Errorf("list files: %w", err)
	}
	media := strings.NewReader(content)
	if len(list.Files) > 0 {
		id := list.Files[0].Id
		if _, err := u.Service.Files.Update(id, &drive.File{Name: fileName}).
			Media(media, googleapi.ContentType("text/plain")).Context(ctx).Do(); err != nil {
			return res, fmt.Errorf("update %s: %w", fileName, err)
		}
		res.FileID = id
		log.Info().Str("file", fileName).Str("id", id).Msg("drive file updated")
		return res, nil
	}

	f, err := u.Service.Files.Create(&drive.File{Name: fileName, Parents: []string{folderID}}).
		Media(media, googleapi.ContentType("text/plain")).Fields("id").Context(ctx).Do()
	if err != nil {
		return res, fmt.Errorf("create %s: %w", fileName, err)
	}
	res.FileID, res.Created = f.Id, true
	if _, err := u.Service.Permissions.Create(f.Id, &drive.Permission{Type: "anyone", Role: "reader"}).Context(ctx).Do(); err != nil {
		return res, fmt.Errorf("share %s: %w", fileName, err)
	}
	log.Info().Str("file", fileName).Str("id", f.Id).Msg("drive file created")
	return res, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
