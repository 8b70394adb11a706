package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectColumns = `id, category_id, name, type, position, feed_url, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db *pgxpool.Pool
}

// NewPGRepository creates a new PostgreSQL-backed channel repository.
func NewPGRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

func scanChannel(row pgx.Row) (*Channel, error) {
	var c Channel
	err := row.Scan(&c.ID, &c.CategoryID, &c.Name, &c.Type, &c.Position, &c.FeedURL, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all channels ordered by (position, id).
func (r *PGRepository) List(ctx context.Context) ([]Channel, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM channels ORDER BY position, id`)
}

// ListByType returns channels of one type ordered by (position, id).
func (r *PGRepository) ListByType(ctx context.Context, channelType string) ([]Channel, error) {
	return r.list(ctx,
		`SELECT `+selectColumns+` FROM channels WHERE type = $1 ORDER BY position, id`, channelType)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Channel, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

// GetByID returns a single channel.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Channel, error) {
	c, err := scanChannel(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by id: %w", err)
	}
	return c, nil
}

// Create inserts a new channel at the next position within its category.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Channel, error) {
	position, err := r.NextPosition(ctx, params.CategoryID)
	if err != nil {
		return nil, err
	}

	c, err := scanChannel(r.db.QueryRow(ctx,
		`INSERT INTO channels (category_id, name, type, position, feed_url)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+selectColumns,
		params.CategoryID, params.Name, params.Type, position, params.FeedURL,
	))
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return c, nil
}

// Delete removes the channel row. Dependent rows cascade.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextPosition returns one past the highest position in the category.
func (r *PGRepository) NextPosition(ctx context.Context, categoryID *uuid.UUID) (int, error) {
	var next int
	var err error
	if categoryID != nil {
		err = r.db.QueryRow(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM channels WHERE category_id = $1`, *categoryID,
		).Scan(&next)
	} else {
		err = r.db.QueryRow(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM channels WHERE category_id IS NULL`,
		).Scan(&next)
	}
	if err != nil {
		return 0, fmt.Errorf("query next channel position: %w", err)
	}
	return next, nil
}
