package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action type constants matching the database CHECK constraint.
const (
	ActionKick = "kick"
	ActionBan  = "ban"
)

// Sentinel errors for the moderation package.
var (
	ErrNotPermitted   = errors.New("caller may not issue moderation commands")
	ErrSelfTarget     = errors.New("moderators cannot target themselves")
	ErrTargetNotFound = errors.New("target user not found")
	ErrNoBlacklist    = errors.New("ban requires identity or ip blacklisting")
	ErrNoKnownIP      = errors.New("ip blacklist requires a known target address")
	ErrInvalidHours   = errors.New("delete hours must be at least 1")
)

// Action is one kick or ban record. enforced flips to true exactly once: immediately when the target is online, or
// at the target's next successful authentication.
type Action struct {
	ID                uuid.UUID
	TargetUserID      uuid.UUID
	ModeratorUserID   uuid.UUID
	ActionType        string
	Reason            *string
	DeleteMode        string
	DeleteHours       *int
	BlacklistIdentity bool
	BlacklistIP       bool
	TargetIP          *string
	Enforced          bool
	CreatedAt         time.Time
	EnforcedAt        *time.Time
}

// BanRule gates future authentications. Identity and network blacklists are orthogonal; either or both may be set.
type BanRule struct {
	ID                uuid.UUID
	TargetUserID      *uuid.UUID
	TargetPublicKey   *string
	TargetIP          *string
	BlacklistIdentity bool
	BlacklistIP       bool
	Reason            *string
	ModeratorUserID   *uuid.UUID
	Active            bool
	CreatedAt         time.Time
	RevokedAt         *time.Time
}

// CreateActionParams groups the inputs for recording a moderation action.
type CreateActionParams struct {
	TargetUserID      uuid.UUID
	ModeratorUserID   uuid.UUID
	ActionType        string
	Reason            *string
	DeleteMode        string
	DeleteHours       *int
	BlacklistIdentity bool
	BlacklistIP       bool
	TargetIP          *string
	Enforced          bool
}

// CreateBanParams groups the inputs for writing a ban rule.
type CreateBanParams struct {
	TargetUserID      *uuid.UUID
	TargetPublicKey   *string
	TargetIP          *string
	BlacklistIdentity bool
	BlacklistIP       bool
	Reason            *string
	ModeratorUserID   *uuid.UUID
}

// ActionRepository defines the data-access contract for moderation actions.
type ActionRepository interface {
	Create(ctx context.Context, params CreateActionParams) (*Action, error)

	// PendingForUser returns unenforced actions for the user, oldest first.
	PendingForUser(ctx context.Context, userID uuid.UUID) ([]Action, error)

	// MarkEnforced sets the write-once enforced bit. Already-enforced rows are left untouched.
	MarkEnforced(ctx context.Context, id uuid.UUID) error
}

// BanRepository defines the data-access contract for ban rules.
type BanRepository interface {
	Create(ctx context.Context, params CreateBanParams) (*BanRule, error)

	// Match evaluates active rules against the connecting identity and address and returns the most recent hit, or
	// nil when nothing matches. userID is nil at the pre-auth evaluation when only the public key is known.
	Match(ctx context.Context, userID *uuid.UUID, publicKey, ip string) (*BanRule, error)
}
