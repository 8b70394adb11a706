package rss

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvid-chat/corvid-server/internal/postgres"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db *pgxpool.Pool
}

// NewPGRepository creates a new PostgreSQL-backed RSS dedupe repository.
func NewPGRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

// Reserve claims the item. ON CONFLICT DO NOTHING covers a repeated item key; the partial unique index on
// (channel_id, content_fingerprint) raises a unique violation for a repeated fingerprint under a fresh key, which is
// treated as an already-claimed item rather than an error.
func (r *PGRepository) Reserve(ctx context.Context, channelID uuid.UUID, itemKey, fingerprint string) (bool, error) {
	var fp *string
	if fingerprint != "" {
		fp = &fingerprint
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO rss_channel_items (channel_id, item_key, content_fingerprint)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, item_key) DO NOTHING`,
		channelID, itemKey, fp,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("reserve rss item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetMessageID records the published message on the reservation.
func (r *PGRepository) SetMessageID(ctx context.Context, channelID uuid.UUID, itemKey string, messageID uuid.UUID) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE rss_channel_items SET message_id = $3 WHERE channel_id = $1 AND item_key = $2`,
		channelID, itemKey, messageID,
	); err != nil {
		return fmt.Errorf("record rss message: %w", err)
	}
	return nil
}

// Release drops a reservation so the item is retried later.
func (r *PGRepository) Release(ctx context.Context, channelID uuid.UUID, itemKey string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM rss_channel_items WHERE channel_id = $1 AND item_key = $2`,
		channelID, itemKey,
	); err != nil {
		return fmt.Errorf("release rss item: %w", err)
	}
	return nil
}
