package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Storage provider constants matching the database CHECK constraint.
const (
	StorageLocalDir     = "local_dir"
	StorageRemoteObject = "remote_object_store"
)

// Sentinel errors for the server package.
var ErrNotFound = errors.New("server not found")

// S3Config holds the remote object store configuration persisted on the server row. Secrets stay server-side; the
// gateway redacts SecretKey before echoing settings to admins.
type S3Config struct {
	Endpoint  string  `json:"endpoint"`
	Region    string  `json:"region"`
	Bucket    string  `json:"bucket"`
	AccessKey string  `json:"access_key"`
	SecretKey string  `json:"secret_key"`
	Prefix    *string `json:"prefix,omitempty"`
	ForcePath bool    `json:"force_path_style,omitempty"`
}

// Server is the singleton hub configuration row. Exactly one row exists after bootstrap.
type Server struct {
	ID               uuid.UUID
	Name             string
	Title            string
	RulesChannelID   *uuid.UUID
	WelcomeChannelID *uuid.UUID
	IconRef          *string
	StorageType      string
	S3               *S3Config
	StorageLastError *string
	StorageUpdatedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SettingsParams groups the mutable settings fields. Nil pointers mean "no change"; SetIconNull distinguishes
// "remove icon" from "leave icon alone".
type SettingsParams struct {
	Title            *string
	RulesChannelID   *uuid.UUID
	SetRulesNull     bool
	WelcomeChannelID *uuid.UUID
	SetWelcomeNull   bool
	IconRef          *string
	SetIconNull      bool
}

// Repository defines the data-access contract for the server row.
type Repository interface {
	// Get returns the singleton server row, creating it with defaults on first call.
	Get(ctx context.Context) (*Server, error)

	UpdateSettings(ctx context.Context, id uuid.UUID, params SettingsParams) (*Server, error)

	// UpdateStorage persists a validated storage configuration and clears storage_last_error.
	UpdateStorage(ctx context.Context, id uuid.UUID, storageType string, s3 *S3Config) (*Server, error)

	// SetStorageError records a validation or migration failure without touching the active configuration.
	SetStorageError(ctx context.Context, id uuid.UUID, message string) error

	SetWelcomeChannel(ctx context.Context, id uuid.UUID, channelID uuid.UUID) error
}
