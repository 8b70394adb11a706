package message

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/postgres"
)

const selectColumns = `m.id, m.channel_id, m.user_id, m.content, m.created_at, u.username, u.role`

const baseJoin = `FROM messages m JOIN users u ON u.id = m.user_id`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.CreatedAt, &m.AuthorUsername, &m.AuthorRole)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a message and returns it with joined author information. The author columns are read inside the
// insert's transaction so a concurrent username change cannot split the persisted row from the fan-out view.
func (r *PGRepository) Create(ctx context.Context, channelID, userID uuid.UUID, content string) (*Message, error) {
	var m Message
	m.ChannelID = channelID
	m.UserID = userID
	m.Content = content

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (channel_id, user_id, content)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at`,
			channelID, userID, content,
		).Scan(&m.ID, &m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if err := tx.QueryRow(ctx,
			`SELECT username, role FROM users WHERE id = $1`, userID,
		).Scan(&m.AuthorUsername, &m.AuthorRole); err != nil {
			return fmt.Errorf("fetch author info: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns messages newest first, strictly before the cursor when one is given. The row-value comparison
// (created_at, id) < ($2, $3) matches the pagination index. One row past limit is fetched so the caller can tell
// whether older history remains.
func (r *PGRepository) List(ctx context.Context, channelID uuid.UUID, cursor *Cursor, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	fetch := limit + 1
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` `+baseJoin+`
			 WHERE m.channel_id = $1 AND (m.created_at, m.id) < ($2, $3)
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $4`,
			channelID, cursor.CreatedAt, cursor.ID, fetch,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` `+baseJoin+`
			 WHERE m.channel_id = $1
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $2`,
			channelID, fetch,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// PurgeByUser deletes the user's messages per mode. DeleteModeNone is a no-op so moderation callers need no special
// casing.
func (r *PGRepository) PurgeByUser(ctx context.Context, userID uuid.UUID, mode string, hours int) (int64, error) {
	switch mode {
	case DeleteModeNone:
		return 0, nil
	case DeleteModeAll:
		tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE user_id = $1`, userID)
		if err != nil {
			return 0, fmt.Errorf("purge all messages: %w", err)
		}
		return tag.RowsAffected(), nil
	case DeleteModeHours:
		if hours < 1 {
			return 0, fmt.Errorf("purge hours must be at least 1, got %d", hours)
		}
		tag, err := r.db.Exec(ctx,
			`DELETE FROM messages WHERE user_id = $1 AND created_at > NOW() - make_interval(hours => $2)`,
			userID, hours,
		)
		if err != nil {
			return 0, fmt.Errorf("purge recent messages: %w", err)
		}
		return tag.RowsAffected(), nil
	default:
		return 0, fmt.Errorf("unknown delete mode %q", mode)
	}
}

// Tails returns the newest message per channel using DISTINCT ON over the pagination index.
func (r *PGRepository) Tails(ctx context.Context) ([]Tail, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (channel_id) channel_id, id, created_at
		 FROM messages
		 ORDER BY channel_id, created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channel tails: %w", err)
	}
	defer rows.Close()

	var tails []Tail
	for rows.Next() {
		var t Tail
		if err := rows.Scan(&t.ChannelID, &t.MessageID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel tail: %w", err)
		}
		tails = append(tails, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel tails: %w", err)
	}
	return tails, nil
}
