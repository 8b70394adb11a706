package folder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectColumns = `f.id, f.channel_id, f.original_name, f.storage_name, f.storage_provider, f.storage_key,
	f.mime_type, f.size_bytes, f.uploader_user_id, u.username, f.created_at, f.updated_at, f.migrated_at`

const baseJoin = `FROM folder_channel_files f JOIN users u ON u.id = f.uploader_user_id`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db *pgxpool.Pool
}

// NewPGRepository creates a new PostgreSQL-backed folder file repository.
func NewPGRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

func scanFile(row pgx.Row) (*File, error) {
	var f File
	err := row.Scan(
		&f.ID, &f.ChannelID, &f.OriginalName, &f.StorageName, &f.StorageProvider, &f.StorageKey,
		&f.MimeType, &f.SizeBytes, &f.UploaderUserID, &f.UploaderUsername, &f.CreatedAt, &f.UpdatedAt, &f.MigratedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a file record and returns it with the uploader's username joined.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*File, error) {
	f := File{
		ChannelID:       params.ChannelID,
		OriginalName:    params.OriginalName,
		StorageName:     params.StorageName,
		StorageProvider: params.StorageProvider,
		StorageKey:      params.StorageKey,
		MimeType:        params.MimeType,
		SizeBytes:       params.SizeBytes,
		UploaderUserID:  params.UploaderUserID,
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO folder_channel_files
		     (channel_id, original_name, storage_name, storage_provider, storage_key, mime_type, size_bytes,
		      uploader_user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		params.ChannelID, params.OriginalName, params.StorageName, params.StorageProvider, params.StorageKey,
		params.MimeType, params.SizeBytes, params.UploaderUserID,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert folder file: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT username FROM users WHERE id = $1`, params.UploaderUserID,
	).Scan(&f.UploaderUsername)
	if err != nil {
		return nil, fmt.Errorf("fetch uploader info: %w", err)
	}
	return &f, nil
}

// GetByID fetches one file record.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*File, error) {
	f, err := scanFile(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` `+baseJoin+` WHERE f.id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get folder file: %w", err)
	}
	return f, nil
}

// ListByChannel returns the channel's files oldest first.
func (r *PGRepository) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]File, error) {
	return r.list(ctx,
		`SELECT `+selectColumns+` `+baseJoin+` WHERE f.channel_id = $1 ORDER BY f.created_at, f.id`,
		channelID,
	)
}

// ListByProvider returns files still held by the named backend.
func (r *PGRepository) ListByProvider(ctx context.Context, provider string) ([]File, error) {
	return r.list(ctx,
		`SELECT `+selectColumns+` `+baseJoin+` WHERE f.storage_provider = $1 ORDER BY f.created_at, f.id`,
		provider,
	)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]File, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query folder files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folder files: %w", err)
	}
	return files, nil
}

// MarkMigrated flips the record to its new backend and key.
func (r *PGRepository) MarkMigrated(ctx context.Context, id uuid.UUID, provider string, key string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE folder_channel_files
		 SET storage_provider = $2, storage_key = $3, migrated_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id, provider, key,
	)
	if err != nil {
		return fmt.Errorf("mark folder file migrated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record. The caller deletes the stored bytes separately.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM folder_channel_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete folder file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
