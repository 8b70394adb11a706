package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/corvid-chat/corvid-server/internal/server"
)

// LocalBackend stores files under a root directory on the local filesystem. All operations go through os.Root, which
// guarantees that no key can escape the base directory via traversal sequences or symbolic links.
type LocalBackend struct {
	root *os.Root
}

// NewLocalBackend opens a backend rooted at basePath, creating the directory if needed.
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", basePath, err)
	}
	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("open storage root %s: %w", basePath, err)
	}
	return &LocalBackend{root: root}, nil
}

// Close releases the underlying root directory handle.
func (b *LocalBackend) Close() error {
	return b.root.Close()
}

// Provider identifies rows stored through this backend.
func (b *LocalBackend) Provider() string {
	return server.StorageLocalDir
}

// Put writes the contents of r to the file identified by key. Parent directories are created automatically. If the
// write fails partway through, the partially written file is removed.
func (b *LocalBackend) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	dir := filepath.Dir(key)
	if dir != "." {
		if err := b.root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage directory: %w", err)
		}
	}

	f, err := b.root.Create(key)
	if err != nil {
		return fmt.Errorf("create storage file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = b.root.Remove(key)
		return fmt.Errorf("write storage file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = b.root.Remove(key)
		return fmt.Errorf("close storage file: %w", err)
	}
	return nil
}

// Get opens the file identified by key for reading. Returns ErrKeyNotFound when the file does not exist.
func (b *LocalBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := b.root.Open(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("open storage file: %w", err)
	}
	return f, nil
}

// Delete removes the file at key. If the file does not exist, no error is returned.
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	if err := b.root.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete storage file: %w", err)
	}
	return nil
}

// Validate round-trips a probe file through the root directory.
func (b *LocalBackend) Validate(ctx context.Context) error {
	const probe = ".storage-probe"
	payload := []byte("probe")

	if err := b.Put(ctx, probe, bytes.NewReader(payload), int64(len(payload)), "text/plain"); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	rc, err := b.Get(ctx, probe)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	_, readErr := io.ReadAll(rc)
	_ = rc.Close()
	if readErr != nil {
		return fmt.Errorf("probe read: %w", readErr)
	}
	if err := b.Delete(ctx, probe); err != nil {
		return fmt.Errorf("probe delete: %w", err)
	}
	return nil
}
