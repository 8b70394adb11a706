package channel

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Channel type constants matching the database CHECK constraint.
const (
	TypeText   = "text"
	TypeVoice  = "voice"
	TypeRSS    = "rss"
	TypeFolder = "folder"
)

// validTypes is the set of allowed channel types.
var validTypes = map[string]bool{
	TypeText:   true,
	TypeVoice:  true,
	TypeRSS:    true,
	TypeFolder: true,
}

// Sentinel errors for the channel package.
var (
	ErrNotFound      = errors.New("channel not found")
	ErrNameLength    = errors.New("channel name must be between 1 and 100 characters")
	ErrInvalidType   = errors.New("invalid channel type")
	ErrFeedURL       = errors.New("rss channels require a valid http(s) feed url")
	ErrFeedURLUnused = errors.New("only rss channels may carry a feed url")
)

// Channel holds the fields read from the database. FeedURL is set only for rss channels.
type Channel struct {
	ID         uuid.UUID
	CategoryID *uuid.UUID
	Name       string
	Type       string
	Position   int
	FeedURL    *string
	CreatedAt  time.Time
}

// HasMessages reports whether the channel type persists messages. Voice channels carry no history and folder channels
// carry only files.
func (c *Channel) HasMessages() bool {
	return c.Type == TypeText || c.Type == TypeRSS
}

// CreateParams groups the inputs for creating a new channel.
type CreateParams struct {
	CategoryID *uuid.UUID
	Name       string
	Type       string
	FeedURL    *string
}

// Validate checks name, type, and the feed URL rule: required iff type is rss, and it must parse as http(s). The
// name is trimmed in place.
func (p *CreateParams) Validate() error {
	trimmed := strings.TrimSpace(p.Name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return ErrNameLength
	}
	p.Name = trimmed

	if !validTypes[p.Type] {
		return ErrInvalidType
	}

	if p.Type == TypeRSS {
		if p.FeedURL == nil {
			return ErrFeedURL
		}
		u, err := url.Parse(strings.TrimSpace(*p.FeedURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrFeedURL
		}
		normalized := u.String()
		p.FeedURL = &normalized
	} else if p.FeedURL != nil {
		return ErrFeedURLUnused
	}

	return nil
}

// Repository defines the data-access contract for channel operations.
type Repository interface {
	List(ctx context.Context) ([]Channel, error)
	ListByType(ctx context.Context, channelType string) ([]Channel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Channel, error)
	Create(ctx context.Context, params CreateParams) (*Channel, error)

	// Delete removes the channel; messages, read states, RSS dedupe rows, and folder file rows cascade at the
	// database. Byte payload cleanup for folder files is the caller's job.
	Delete(ctx context.Context, id uuid.UUID) error

	// NextPosition returns one past the highest position within the given category (nil for uncategorized).
	NextPosition(ctx context.Context, categoryID *uuid.UUID) (int, error)
}
