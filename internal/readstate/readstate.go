package readstate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReadState is one user's read cursor for one channel. The cursor is the (created_at, id) pair of the newest message
// the user has seen; it only ever advances.
type ReadState struct {
	UserID            uuid.UUID
	ChannelID         uuid.UUID
	LastReadMessageID *uuid.UUID
	LastReadCreatedAt *time.Time
	UpdatedAt         time.Time
}

// ChannelUnread is the per-channel unread flag reported to clients alongside the channel list. Only text and rss
// channels are reported; voice and folder channels have no history to be unread.
type ChannelUnread struct {
	ChannelID         uuid.UUID
	Unread            bool
	LastReadMessageID *uuid.UUID
}

// Repository defines the data-access contract for read-state tracking.
type Repository interface {
	// SeedForUser backfills a read-state row for every text and rss channel the user has not observed yet, seeded
	// to the channel's current tail so existing history does not appear unread.
	SeedForUser(ctx context.Context, userID uuid.UUID) error

	// SeedForChannel backfills a row at the channel's current tail for every user, used when a channel is created.
	SeedForChannel(ctx context.Context, channelID uuid.UUID) error

	// Advance moves the cursor forward. Updates with a cursor below the stored (created_at, id) pair are no-ops,
	// so late or duplicate acknowledgements cannot rewind the state.
	Advance(ctx context.Context, userID, channelID, messageID uuid.UUID, createdAt time.Time) error

	// UnreadForUser derives the unread flag per text/rss channel against each channel's newest message.
	UnreadForUser(ctx context.Context, userID uuid.UUID) ([]ChannelUnread, error)
}
