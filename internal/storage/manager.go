package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/folder"
	"github.com/corvid-chat/corvid-server/internal/server"
)

// validateTimeout bounds the probe of a candidate backend so a dead endpoint cannot hang a settings request.
const validateTimeout = 15 * time.Second

// migrateFileTimeout bounds the transfer of a single file during background migration.
const migrateFileTimeout = 5 * time.Minute

// ErrS3ConfigRequired is returned when the remote provider is selected without a configuration.
var ErrS3ConfigRequired = errors.New("remote object store requires an s3 configuration")

// Manager owns the active storage backend. The local backend always exists and doubles as the migration source when
// the hub switches to a remote store; candidate configurations are validated before activation, and a failed probe
// leaves the previous backend in place.
type Manager struct {
	local   *LocalBackend
	servers server.Repository
	files   folder.Repository
	log     zerolog.Logger

	mu     sync.RWMutex
	active Backend
	prefix string

	migrating sync.Mutex
}

// NewManager creates a manager serving from the local backend until Restore or Reconfigure activates a remote one.
func NewManager(local *LocalBackend, servers server.Repository, files folder.Repository, logger zerolog.Logger) *Manager {
	return &Manager{
		local:   local,
		servers: servers,
		files:   files,
		log:     logger.With().Str("component", "storage").Logger(),
		active:  local,
	}
}

// Restore re-activates the persisted storage configuration at startup. A remote configuration that no longer
// validates is recorded as a storage error and the hub falls back to the local directory.
func (m *Manager) Restore(ctx context.Context) error {
	srv, err := m.servers.Get(ctx)
	if err != nil {
		return fmt.Errorf("load server storage config: %w", err)
	}
	if srv.StorageType != server.StorageRemoteObject || srv.S3 == nil {
		return nil
	}

	backend, err := m.buildRemote(ctx, *srv.S3)
	if err != nil {
		m.log.Warn().Err(err).Msg("persisted remote storage failed validation, serving from local directory")
		if setErr := m.servers.SetStorageError(ctx, srv.ID, err.Error()); setErr != nil {
			m.log.Error().Err(setErr).Msg("record storage error")
		}
		return nil
	}

	m.activate(backend, prefixOf(srv.S3))
	m.log.Info().Str("endpoint", srv.S3.Endpoint).Str("bucket", srv.S3.Bucket).Msg("remote storage restored")
	return nil
}

// Active returns the backend new uploads go to.
func (m *Manager) Active() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Provider returns the active backend's provider constant.
func (m *Manager) Provider() string {
	return m.Active().Provider()
}

// Prefix returns the key prefix of the active configuration.
func (m *Manager) Prefix() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefix
}

// backendFor maps a stored provider to the backend that can serve it. Rows still marked local are always served from
// the local directory, even after a switch to remote storage, until migration rewrites them.
func (m *Manager) backendFor(provider string) Backend {
	if provider == server.StorageLocalDir {
		return m.local
	}
	return m.Active()
}

// Reconfigure validates and activates a new storage configuration. On success the persisted row is updated, the
// error field is cleared, and a switch to remote storage kicks off background migration of local files. On failure
// the error is recorded on the server row and the previous backend stays active.
func (m *Manager) Reconfigure(ctx context.Context, serverID uuid.UUID, storageType string, cfg *server.S3Config) (*server.Server, error) {
	switch storageType {
	case server.StorageLocalDir:
		srv, err := m.servers.UpdateStorage(ctx, serverID, server.StorageLocalDir, nil)
		if err != nil {
			return nil, err
		}
		m.activate(m.local, "")
		m.log.Info().Msg("storage switched to local directory")
		return srv, nil

	case server.StorageRemoteObject:
		if cfg == nil {
			return nil, ErrS3ConfigRequired
		}
		backend, err := m.buildRemote(ctx, *cfg)
		if err != nil {
			if setErr := m.servers.SetStorageError(ctx, serverID, err.Error()); setErr != nil {
				m.log.Error().Err(setErr).Msg("record storage error")
			}
			return nil, fmt.Errorf("validate remote storage: %w", err)
		}

		srv, err := m.servers.UpdateStorage(ctx, serverID, server.StorageRemoteObject, cfg)
		if err != nil {
			return nil, err
		}
		m.activate(backend, prefixOf(cfg))
		m.log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("storage switched to remote object store")

		go m.migrateLocalFiles(backend, prefixOf(cfg))
		return srv, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageType)
	}
}

func (m *Manager) buildRemote(ctx context.Context, cfg server.S3Config) (*S3Backend, error) {
	backend, err := NewS3Backend(cfg)
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := backend.Validate(probeCtx); err != nil {
		return nil, err
	}
	return backend, nil
}

func (m *Manager) activate(b Backend, prefix string) {
	m.mu.Lock()
	m.active = b
	m.prefix = prefix
	m.mu.Unlock()
}

func prefixOf(cfg *server.S3Config) string {
	if cfg == nil || cfg.Prefix == nil {
		return ""
	}
	return *cfg.Prefix
}

// StoreFile writes an upload through the active backend and returns the provider and key to record on the row.
func (m *Manager) StoreFile(ctx context.Context, channelID uuid.UUID, storageName string, r io.Reader, size int64, contentType string) (string, string, error) {
	m.mu.RLock()
	backend, prefix := m.active, m.prefix
	m.mu.RUnlock()

	key := FileKey(prefix, channelID, storageName)
	if err := backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", "", err
	}
	return backend.Provider(), key, nil
}

// OpenFile opens a stored file from whichever backend holds it.
func (m *Manager) OpenFile(ctx context.Context, f *folder.File) (io.ReadCloser, error) {
	return m.backendFor(f.StorageProvider).Get(ctx, fileKeyOf(f))
}

// DeleteFile removes a stored file's bytes from whichever backend holds them.
func (m *Manager) DeleteFile(ctx context.Context, f *folder.File) error {
	return m.backendFor(f.StorageProvider).Delete(ctx, fileKeyOf(f))
}

// StoreIcon writes the server icon through the active backend and returns its key.
func (m *Manager) StoreIcon(ctx context.Context, serverID uuid.UUID, ext string, r io.Reader, size int64, contentType string) (string, error) {
	m.mu.RLock()
	backend, prefix := m.active, m.prefix
	m.mu.RUnlock()

	key := IconKey(prefix, serverID, ext)
	if err := backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// OpenIcon opens the icon by key, falling back to the local directory for icons uploaded before a storage switch.
func (m *Manager) OpenIcon(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := m.Active().Get(ctx, key)
	if err == nil || !errors.Is(err, ErrKeyNotFound) {
		return rc, err
	}
	return m.local.Get(ctx, key)
}

// fileKeyOf prefers the recorded key and falls back to deriving one for rows written before keys were persisted.
func fileKeyOf(f *folder.File) string {
	if f.StorageKey != nil && *f.StorageKey != "" {
		return *f.StorageKey
	}
	return FileKey("", f.ChannelID, f.StorageName)
}

// migrateLocalFiles copies every file still held locally to the remote backend, rewrites its row, and removes the
// local copy. Failures skip the file and leave it served from the local directory; the next switch retries it.
func (m *Manager) migrateLocalFiles(dest Backend, prefix string) {
	m.migrating.Lock()
	defer m.migrating.Unlock()

	ctx := context.Background()
	files, err := m.files.ListByProvider(ctx, server.StorageLocalDir)
	if err != nil {
		m.log.Error().Err(err).Msg("list files for migration")
		return
	}
	if len(files) == 0 {
		return
	}

	m.log.Info().Int("count", len(files)).Msg("migrating local files to remote storage")
	migrated := 0
	for i := range files {
		if err := m.migrateOne(ctx, dest, prefix, &files[i]); err != nil {
			m.log.Warn().Err(err).Str("file", files[i].ID.String()).Msg("file migration failed")
			continue
		}
		migrated++
	}
	m.log.Info().Int("migrated", migrated).Int("failed", len(files)-migrated).Msg("storage migration finished")
}

func (m *Manager) migrateOne(parent context.Context, dest Backend, prefix string, f *folder.File) error {
	ctx, cancel := context.WithTimeout(parent, migrateFileTimeout)
	defer cancel()

	srcKey := fileKeyOf(f)
	rc, err := m.local.Get(ctx, srcKey)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	if f.MimeType != nil {
		contentType = *f.MimeType
	}
	destKey := FileKey(prefix, f.ChannelID, f.StorageName)
	if err := dest.Put(ctx, destKey, rc, f.SizeBytes, contentType); err != nil {
		return fmt.Errorf("upload to remote: %w", err)
	}
	if err := m.files.MarkMigrated(ctx, f.ID, dest.Provider(), destKey); err != nil {
		return fmt.Errorf("rewrite file row: %w", err)
	}
	if err := m.local.Delete(ctx, srcKey); err != nil {
		m.log.Warn().Err(err).Str("key", srcKey).Msg("remove local copy after migration")
	}
	return nil
}
