package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PageSize is the fixed number of messages returned per history page.
const PageSize = 25

// Delete mode constants for moderation purges.
const (
	DeleteModeNone  = "none"
	DeleteModeHours = "hours"
	DeleteModeAll   = "all"
)

// Sentinel errors for the message package.
var (
	ErrNotFound      = errors.New("message not found")
	ErrEmptyContent  = errors.New("message content must not be empty")
	ErrContentLength = errors.New("message content must be 4000 characters or fewer")
)

// Message holds the fields read from the database, with joined author information for fan-out payloads.
type Message struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	UserID    uuid.UUID
	Content   string
	CreatedAt time.Time

	AuthorUsername string
	AuthorRole     string
}

// MaxContentLength is the upper bound on message content, in runes.
const MaxContentLength = 4000

// ValidateContent trims surrounding whitespace and enforces the length bounds, returning the trimmed content.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentLength
	}
	return trimmed, nil
}

// Cursor identifies a position in the (created_at DESC, id DESC) ordering. A page fetch returns messages strictly
// less than the cursor in that order.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Tail is the newest message of a channel, used for unread derivation and read-state seeding.
type Tail struct {
	ChannelID uuid.UUID
	MessageID uuid.UUID
	CreatedAt time.Time
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	Create(ctx context.Context, channelID, userID uuid.UUID, content string) (*Message, error)

	// List returns up to limit+1 messages before the cursor (or the newest when cursor is nil), newest first. The
	// caller derives has_more from the overflow row and reverses the page to chronological order.
	List(ctx context.Context, channelID uuid.UUID, cursor *Cursor, limit int) ([]Message, error)

	// PurgeByUser deletes the user's messages per the given mode. For DeleteModeHours the cutoff NOW() - hours is
	// computed inside the database so the purge shares the store's time basis. Returns the number of rows removed.
	PurgeByUser(ctx context.Context, userID uuid.UUID, mode string, hours int) (int64, error)

	// Tails returns the newest message per channel for channels that have any.
	Tails(ctx context.Context) ([]Tail, error)
}
