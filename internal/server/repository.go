package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, name, title, rules_channel_id, welcome_channel_id, icon_ref, storage_type, s3_config,
	storage_last_error, storage_updated_at, created_at, updated_at`

// defaultServerName is used when the row is bootstrapped on first read.
const defaultServerName = "Corvid"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed server repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanServer(row pgx.Row) (*Server, error) {
	var s Server
	var s3Raw []byte
	err := row.Scan(
		&s.ID, &s.Name, &s.Title, &s.RulesChannelID, &s.WelcomeChannelID, &s.IconRef,
		&s.StorageType, &s3Raw, &s.StorageLastError, &s.StorageUpdatedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(s3Raw) > 0 {
		var cfg S3Config
		if err := json.Unmarshal(s3Raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode s3 config: %w", err)
		}
		s.S3 = &cfg
	}
	return &s, nil
}

// Get returns the singleton server row. On an empty table it inserts the default row first, so every caller observes
// exactly one server.
func (r *PGRepository) Get(ctx context.Context) (*Server, error) {
	s, err := scanServer(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM servers ORDER BY created_at LIMIT 1`))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query server: %w", err)
	}

	s, err = scanServer(r.db.QueryRow(ctx,
		`INSERT INTO servers (name, title) VALUES ($1, $1) RETURNING `+selectColumns, defaultServerName))
	if err != nil {
		return nil, fmt.Errorf("bootstrap server row: %w", err)
	}
	r.log.Info().Stringer("server_id", s.ID).Msg("Bootstrapped server row")
	return s, nil
}

// UpdateSettings applies the given settings and returns the updated row.
func (r *PGRepository) UpdateSettings(ctx context.Context, id uuid.UUID, params SettingsParams) (*Server, error) {
	s, err := r.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	title := s.Title
	if params.Title != nil {
		title = *params.Title
	}
	rules := s.RulesChannelID
	if params.SetRulesNull {
		rules = nil
	} else if params.RulesChannelID != nil {
		rules = params.RulesChannelID
	}
	welcome := s.WelcomeChannelID
	if params.SetWelcomeNull {
		welcome = nil
	} else if params.WelcomeChannelID != nil {
		welcome = params.WelcomeChannelID
	}
	icon := s.IconRef
	if params.SetIconNull {
		icon = nil
	} else if params.IconRef != nil {
		icon = params.IconRef
	}

	s, err = scanServer(r.db.QueryRow(ctx,
		`UPDATE servers
		 SET title = $1, rules_channel_id = $2, welcome_channel_id = $3, icon_ref = $4, updated_at = NOW()
		 WHERE id = $5
		 RETURNING `+selectColumns,
		title, rules, welcome, icon, id,
	))
	if err != nil {
		return nil, fmt.Errorf("update server settings: %w", err)
	}
	return s, nil
}

// UpdateStorage persists the storage provider selection and clears the last error.
func (r *PGRepository) UpdateStorage(ctx context.Context, id uuid.UUID, storageType string, s3 *S3Config) (*Server, error) {
	var s3Raw []byte
	if s3 != nil {
		var err error
		s3Raw, err = json.Marshal(s3)
		if err != nil {
			return nil, fmt.Errorf("encode s3 config: %w", err)
		}
	}

	s, err := scanServer(r.db.QueryRow(ctx,
		`UPDATE servers
		 SET storage_type = $1, s3_config = $2, storage_last_error = NULL, storage_updated_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $3
		 RETURNING `+selectColumns,
		storageType, s3Raw, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update server storage: %w", err)
	}
	return s, nil
}

// SetStorageError records why the most recent storage operation failed.
func (r *PGRepository) SetStorageError(ctx context.Context, id uuid.UUID, message string) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE servers SET storage_last_error = $1, updated_at = NOW() WHERE id = $2`, message, id,
	); err != nil {
		return fmt.Errorf("set storage error: %w", err)
	}
	return nil
}

// SetWelcomeChannel points the welcome channel at the given channel.
func (r *PGRepository) SetWelcomeChannel(ctx context.Context, id uuid.UUID, channelID uuid.UUID) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE servers SET welcome_channel_id = $1, updated_at = NOW() WHERE id = $2`, channelID, id,
	); err != nil {
		return fmt.Errorf("set welcome channel: %w", err)
	}
	return nil
}

func (r *PGRepository) getByID(ctx context.Context, id uuid.UUID) (*Server, error) {
	s, err := scanServer(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM servers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query server by id: %w", err)
	}
	return s, nil
}
