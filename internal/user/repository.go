package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *User. Every method that scans into a User must
// select these columns in this exact order.
const selectColumns = `id, username, public_key, avatar_url, last_ip, role, created_at`

// scanUser scans a single row into a *User.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PublicKey, &u.AvatarURL, &u.LastIP, &u.Role, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetByID returns the user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByPublicKey returns the user matching the given public key. This serves the authentication path.
func (r *PGRepository) GetByPublicKey(ctx context.Context, publicKey string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM users WHERE public_key = $1`, publicKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by public key: %w", err)
	}
	return u, nil
}

// Create inserts a new user with the default role. A concurrent insert of the same public key is resolved by
// re-reading the winning row.
func (r *PGRepository) Create(ctx context.Context, username, publicKey string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (username, public_key) VALUES ($1, $2) RETURNING `+selectColumns,
		username, publicKey,
	))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return r.GetByPublicKey(ctx, publicKey)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UpdateUsername sets a new username on the user.
func (r *PGRepository) UpdateUsername(ctx context.Context, id uuid.UUID, username string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET username = $1 WHERE id = $2`, username, id)
	if err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastIP records the remote address observed at the most recent successful authentication.
func (r *PGRepository) UpdateLastIP(ctx context.Context, id uuid.UUID, ip string) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET last_ip = $1 WHERE id = $2`, ip, id); err != nil {
		return fmt.Errorf("update last ip: %w", err)
	}
	return nil
}

// SetRole changes the user's role.
func (r *PGRepository) SetRole(ctx context.Context, id uuid.UUID, role string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every user ordered by creation time.
func (r *PGRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// EnsureSynthetic inserts the synthetic user if missing and returns it. ON CONFLICT keeps the call idempotent across
// restarts.
func (r *PGRepository) EnsureSynthetic(ctx context.Context, username, publicKey, role string) (*User, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (username, public_key, role) VALUES ($1, $2, $3)
		 ON CONFLICT (public_key) DO NOTHING`,
		username, publicKey, role,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure synthetic user %s: %w", username, err)
	}
	return r.GetByPublicKey(ctx, publicKey)
}
