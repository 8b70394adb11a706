package readstate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tailJoin selects each channel's newest message by the same (created_at DESC, id DESC) order the pagination cursor
// uses, so "unread" and "has more history" agree on what the newest message is.
const tailJoin = `LEFT JOIN LATERAL (
	SELECT id, created_at FROM messages
	WHERE channel_id = c.id
	ORDER BY created_at DESC, id DESC
	LIMIT 1
) t ON TRUE`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db *pgxpool.Pool
}

// NewPGRepository creates a new PostgreSQL-backed read-state repository.
func NewPGRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

// SeedForUser inserts a row at each channel's tail for channels the user has no row for yet.
func (r *PGRepository) SeedForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO channel_read_states (user_id, channel_id, last_read_message_id, last_read_created_at)
		 SELECT $1, c.id, t.id, t.created_at
		 FROM channels c `+tailJoin+`
		 WHERE c.type IN ('text', 'rss')
		 ON CONFLICT (user_id, channel_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("seed read states for user: %w", err)
	}
	return nil
}

// SeedForChannel inserts a row at the channel's tail for every user without one.
func (r *PGRepository) SeedForChannel(ctx context.Context, channelID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO channel_read_states (user_id, channel_id, last_read_message_id, last_read_created_at)
		 SELECT u.id, c.id, t.id, t.created_at
		 FROM users u
		 CROSS JOIN channels c `+tailJoin+`
		 WHERE c.id = $1 AND c.type IN ('text', 'rss')
		 ON CONFLICT (user_id, channel_id) DO NOTHING`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("seed read states for channel: %w", err)
	}
	return nil
}

// Advance upserts the cursor; the WHERE clause on the conflict update enforces monotonicity inside the database, so
// concurrent acknowledgements resolve to the furthest cursor without a read-modify-write race.
func (r *PGRepository) Advance(ctx context.Context, userID, channelID, messageID uuid.UUID, createdAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO channel_read_states (user_id, channel_id, last_read_message_id, last_read_created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, channel_id) DO UPDATE
		 SET last_read_message_id = EXCLUDED.last_read_message_id,
		     last_read_created_at = EXCLUDED.last_read_created_at,
		     updated_at = NOW()
		 WHERE channel_read_states.last_read_created_at IS NULL
		    OR (EXCLUDED.last_read_created_at, EXCLUDED.last_read_message_id)
		       >= (channel_read_states.last_read_created_at, channel_read_states.last_read_message_id)`,
		userID, channelID, messageID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("advance read state: %w", err)
	}
	return nil
}

// UnreadForUser computes unread flags server-side: a channel is unread when it has a newest message and the stored
// cursor is missing or behind it.
func (r *PGRepository) UnreadForUser(ctx context.Context, userID uuid.UUID) ([]ChannelUnread, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.id,
		        t.id IS NOT NULL AND (
		            rs.last_read_created_at IS NULL
		            OR (t.created_at, t.id) > (rs.last_read_created_at, rs.last_read_message_id)
		        ) AS unread,
		        rs.last_read_message_id
		 FROM channels c
		 LEFT JOIN channel_read_states rs ON rs.channel_id = c.id AND rs.user_id = $1
		 `+tailJoin+`
		 WHERE c.type IN ('text', 'rss')
		 ORDER BY c.position, c.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query unread states: %w", err)
	}
	defer rows.Close()

	var states []ChannelUnread
	for rows.Next() {
		var s ChannelUnread
		if err := rows.Scan(&s.ChannelID, &s.Unread, &s.LastReadMessageID); err != nil {
			return nil, fmt.Errorf("scan unread state: %w", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread states: %w", err)
	}
	return states, nil
}
