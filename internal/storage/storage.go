package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors for storage operations.
var (
	ErrKeyNotFound = errors.New("storage key not found")
	ErrInvalidKey  = errors.New("storage key contains invalid segments")
)

// Backend abstracts where uploaded bytes live so the hub can swap between a local directory and a remote object
// store without changing business logic.
type Backend interface {
	// Provider returns the provider constant recorded on file rows stored through this backend.
	Provider() string

	// Put writes size bytes from r under key. size is required up front because remote stores need it for the
	// request signature.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object at key. The caller must close the returned ReadCloser. Returns ErrKeyNotFound when the
	// key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Missing keys are not treated as errors.
	Delete(ctx context.Context, key string) error

	// Validate probes the backend with a small write/read/delete round trip. A configuration is only activated
	// after Validate succeeds.
	Validate(ctx context.Context) error
}

// safeSegment restricts identifier segments inside storage keys. UUIDs and the fixed path words all match it.
var safeSegment = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// joinKey builds a slash-separated key from an optional prefix and path segments.
func joinKey(prefix string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, segments...)
	return strings.Join(parts, "/")
}

// FileKey derives the storage key for a folder channel file.
func FileKey(prefix string, channelID uuid.UUID, storageName string) string {
	return joinKey(prefix, "channels", channelID.String(), storageName)
}

// IconKey derives the storage key for the server icon. Icons live under the channels/ namespace alongside file
// uploads so one prefix covers everything a hub stores.
func IconKey(prefix string, serverID uuid.UUID, ext string) string {
	return joinKey(prefix, "channels", "server-icons", serverID.String(), "icon."+NormalizeIconExt(ext))
}

// iconExts maps accepted icon extensions to their canonical form.
var iconExts = map[string]string{
	"png":  "png",
	"jpg":  "jpg",
	"jpeg": "jpg",
	"webp": "webp",
	"gif":  "gif",
}

// NormalizeIconExt canonicalizes an icon file extension (without the dot); jpeg collapses to jpg. Unknown
// extensions fall back to png, the format icons are re-encoded to when the source type is unrecognized.
func NormalizeIconExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if canonical, ok := iconExts[ext]; ok {
		return canonical
	}
	return "png"
}

// ValidateIDSegment rejects identifier path segments carrying anything beyond letters, digits, and dashes. HTTP
// handlers call this on client-supplied ids before touching a backend.
func ValidateIDSegment(seg string) error {
	if !safeSegment.MatchString(seg) {
		return ErrInvalidKey
	}
	return nil
}
