package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const actionColumns = `id, target_user_id, moderator_user_id, action_type, reason, delete_mode, delete_hours,
	blacklist_identity, blacklist_ip, target_ip, enforced, created_at, enforced_at`

const banColumns = `id, target_user_id, target_public_key, target_ip, blacklist_identity, blacklist_ip, reason,
	moderator_user_id, active, created_at, revoked_at`

// PGActionRepository implements ActionRepository using PostgreSQL.
type PGActionRepository struct {
	db *pgxpool.Pool
}

// NewPGActionRepository creates a new PostgreSQL-backed moderation action repository.
func NewPGActionRepository(db *pgxpool.Pool) *PGActionRepository {
	return &PGActionRepository{db: db}
}

func scanAction(row pgx.Row) (*Action, error) {
	var a Action
	err := row.Scan(
		&a.ID, &a.TargetUserID, &a.ModeratorUserID, &a.ActionType, &a.Reason, &a.DeleteMode, &a.DeleteHours,
		&a.BlacklistIdentity, &a.BlacklistIP, &a.TargetIP, &a.Enforced, &a.CreatedAt, &a.EnforcedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a moderation action. When Enforced is set, enforced_at is stamped in the same statement so the
// enforced/enforced_at invariant holds at every point in time.
func (r *PGActionRepository) Create(ctx context.Context, params CreateActionParams) (*Action, error) {
	a, err := scanAction(r.db.QueryRow(ctx,
		`INSERT INTO moderation_actions
		     (target_user_id, moderator_user_id, action_type, reason, delete_mode, delete_hours,
		      blacklist_identity, blacklist_ip, target_ip, enforced, enforced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CASE WHEN $10 THEN NOW() END)
		 RETURNING `+actionColumns,
		params.TargetUserID, params.ModeratorUserID, params.ActionType, params.Reason,
		params.DeleteMode, params.DeleteHours, params.BlacklistIdentity, params.BlacklistIP,
		params.TargetIP, params.Enforced,
	))
	if err != nil {
		return nil, fmt.Errorf("insert moderation action: %w", err)
	}
	return a, nil
}

// PendingForUser returns unenforced actions for the user, oldest first.
func (r *PGActionRepository) PendingForUser(ctx context.Context, userID uuid.UUID) ([]Action, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+actionColumns+` FROM moderation_actions
		 WHERE target_user_id = $1 AND NOT enforced
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending moderation actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan moderation action: %w", err)
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation actions: %w", err)
	}
	return actions, nil
}

// MarkEnforced flips the enforced bit once; the NOT enforced guard keeps it write-once.
func (r *PGActionRepository) MarkEnforced(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE moderation_actions SET enforced = TRUE, enforced_at = NOW() WHERE id = $1 AND NOT enforced`, id,
	); err != nil {
		return fmt.Errorf("mark moderation action enforced: %w", err)
	}
	return nil
}

// PGBanRepository implements BanRepository using PostgreSQL.
type PGBanRepository struct {
	db *pgxpool.Pool
}

// NewPGBanRepository creates a new PostgreSQL-backed ban rule repository.
func NewPGBanRepository(db *pgxpool.Pool) *PGBanRepository {
	return &PGBanRepository{db: db}
}

func scanBan(row pgx.Row) (*BanRule, error) {
	var b BanRule
	err := row.Scan(
		&b.ID, &b.TargetUserID, &b.TargetPublicKey, &b.TargetIP, &b.BlacklistIdentity, &b.BlacklistIP,
		&b.Reason, &b.ModeratorUserID, &b.Active, &b.CreatedAt, &b.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a ban rule.
func (r *PGBanRepository) Create(ctx context.Context, params CreateBanParams) (*BanRule, error) {
	b, err := scanBan(r.db.QueryRow(ctx,
		`INSERT INTO ban_rules
		     (target_user_id, target_public_key, target_ip, blacklist_identity, blacklist_ip, reason,
		      moderator_user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+banColumns,
		params.TargetUserID, params.TargetPublicKey, params.TargetIP, params.BlacklistIdentity,
		params.BlacklistIP, params.Reason, params.ModeratorUserID,
	))
	if err != nil {
		return nil, fmt.Errorf("insert ban rule: %w", err)
	}
	return b, nil
}

// Match returns the most recent active rule hitting the identity (user id or public key) or the network address.
func (r *PGBanRepository) Match(ctx context.Context, userID *uuid.UUID, publicKey, ip string) (*BanRule, error) {
	b, err := scanBan(r.db.QueryRow(ctx,
		`SELECT `+banColumns+` FROM ban_rules
		 WHERE active AND (
		     (blacklist_identity AND (
		         (target_user_id IS NOT NULL AND target_user_id = $1)
		         OR (target_public_key IS NOT NULL AND target_public_key = $2)
		     ))
		     OR (blacklist_ip AND target_ip IS NOT NULL AND target_ip = $3)
		 )
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID, publicKey, ip,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("match ban rules: %w", err)
	}
	return b, nil
}
