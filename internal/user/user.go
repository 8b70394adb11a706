package user

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role constants matching the database CHECK constraint.
const (
	RoleUser   = "user"
	RoleMod    = "mod"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
	RoleBot    = "bot"
	RoleSystem = "system"
)

// Names and sentinel identity keys of the two synthetic users that always exist. Their public keys are not real SPKI
// material; the auth path never matches them because clients submit DER-derived keys.
const (
	SystemUsername  = "System"
	SystemPublicKey = "internal:system"
	RSSBotUsername  = "RSS Bot"
	RSSBotPublicKey = "internal:rss-bot"
)

// Sentinel errors for the user package.
var (
	ErrNotFound       = errors.New("user not found")
	ErrUsernameLength = errors.New("username must be between 1 and 32 characters")
)

// User holds the fields read from the database. PublicKey is the stable identity; username is mutable.
type User struct {
	ID        uuid.UUID
	Username  string
	PublicKey string
	AvatarURL *string
	LastIP    *string
	Role      string
	CreatedAt time.Time
}

// CanPostToRSS reports whether the role may author messages in rss channels.
func (u *User) CanPostToRSS() bool {
	switch u.Role {
	case RoleAdmin, RoleOwner, RoleMod, RoleBot, RoleSystem:
		return true
	}
	return false
}

// CanModerate reports whether the role may issue kick and ban commands.
func (u *User) CanModerate() bool {
	switch u.Role {
	case RoleAdmin, RoleOwner, RoleMod:
		return true
	}
	return false
}

// IsAdmin reports whether the role may manage channels, server settings, and folder uploads.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleOwner
}

// ValidateUsername checks that a username is between 1 and 32 characters (runes) after trimming whitespace and returns
// the trimmed result.
func ValidateUsername(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 32 {
		return "", ErrUsernameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPublicKey(ctx context.Context, publicKey string) (*User, error)

	// Create inserts a user keyed by public key with the default role. The auth path calls this lazily on first
	// sight of a new key.
	Create(ctx context.Context, username, publicKey string) (*User, error)

	UpdateUsername(ctx context.Context, id uuid.UUID, username string) error
	UpdateLastIP(ctx context.Context, id uuid.UUID, ip string) error
	SetRole(ctx context.Context, id uuid.UUID, role string) error
	List(ctx context.Context) ([]User, error)

	// EnsureSynthetic inserts the named synthetic user if it does not exist and returns it either way.
	EnsureSynthetic(ctx context.Context, username, publicKey, role string) (*User, error)
}
