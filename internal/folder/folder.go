package folder

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the folder package.
var (
	ErrNotFound         = errors.New("folder file not found")
	ErrNameLength       = errors.New("file name must be between 1 and 255 characters")
	ErrBlockedExtension = errors.New("file extension is not allowed")
	ErrFileTooLarge     = errors.New("file exceeds the maximum upload size")
	ErrEmptyFile        = errors.New("file is empty")
)

// blockedExtensions lists extensions refused for folder uploads. The hub serves a closed community, so the list only
// covers things a browser or OS would execute directly.
var blockedExtensions = map[string]bool{
	".exe": true,
	".msi": true,
	".bat": true,
	".cmd": true,
	".com": true,
	".scr": true,
	".pif": true,
	".ps1": true,
	".vbs": true,
	".vbe": true,
	".js":  true,
	".jse": true,
	".wsf": true,
	".wsh": true,
	".hta": true,
	".cpl": true,
	".jar": true,
	".sh":  true,
	".dll": true,
	".app": true,
	".dmg": true,
	".deb": true,
	".rpm": true,
}

// File is one uploaded file in a folder channel. StorageProvider records which backend holds the bytes; MigratedAt is
// set when a background migration moved the file off the original backend.
type File struct {
	ID               uuid.UUID
	ChannelID        uuid.UUID
	OriginalName     string
	StorageName      string
	StorageProvider  string
	StorageKey       *string
	MimeType         *string
	SizeBytes        int64
	UploaderUserID   uuid.UUID
	UploaderUsername string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	MigratedAt       *time.Time
}

// SanitizeName reduces a client-supplied file name to its base component and validates its length. Path separators
// and traversal sequences are stripped so the name is safe to use inside a storage key.
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = filepath.Base(name)
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == ".." || name == "/" {
		return "", ErrNameLength
	}
	if n := utf8.RuneCountInString(name); n < 1 || n > 255 {
		return "", ErrNameLength
	}
	return name, nil
}

// ValidateExtension rejects names carrying an executable extension.
func ValidateExtension(name string) error {
	if blockedExtensions[strings.ToLower(filepath.Ext(name))] {
		return ErrBlockedExtension
	}
	return nil
}

// CreateParams groups the inputs for recording an uploaded file.
type CreateParams struct {
	ChannelID       uuid.UUID
	OriginalName    string
	StorageName     string
	StorageProvider string
	StorageKey      *string
	MimeType        *string
	SizeBytes       int64
	UploaderUserID  uuid.UUID
}

// Repository defines the data-access contract for folder files.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*File, error)
	GetByID(ctx context.Context, id uuid.UUID) (*File, error)

	// ListByChannel returns files oldest first, the order they were uploaded in.
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]File, error)

	// ListByProvider returns files still held by the named backend, used by storage migration.
	ListByProvider(ctx context.Context, provider string) ([]File, error)

	// MarkMigrated records that the file now lives on the named backend under the given key.
	MarkMigrated(ctx context.Context, id uuid.UUID, provider string, key string) error

	Delete(ctx context.Context, id uuid.UUID) error
}
