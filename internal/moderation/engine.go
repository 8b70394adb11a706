package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/message"
	"github.com/corvid-chat/corvid-server/internal/user"
)

// Event names emitted by the engine through its Notifier.
const (
	EventActionEnforced = "moderation_action_enforced"
	EventMessagesPurged = "messages_purged"
)

// EnforcementPayload is sent to the target right before its sessions are closed.
type EnforcementPayload struct {
	ActionType string  `json:"actionType"`
	Reason     *string `json:"reason,omitempty"`
}

// PurgePayload is broadcast when a moderation action deleted messages, so connected clients drop them from view.
type PurgePayload struct {
	UserID     uuid.UUID `json:"userId"`
	DeleteMode string    `json:"deleteMode"`
	Deleted    int64     `json:"deleted"`
}

// Notifier is the slice of the connection hub the engine needs. Keeping it an interface here avoids a dependency on
// the gateway package and lets tests observe enforcement order.
type Notifier interface {
	Broadcast(event string, payload any)
	SendToUser(userID uuid.UUID, event string, payload any)
	CloseUserSessions(userID uuid.UUID)
	IsOnline(userID uuid.UUID) bool
	SessionIP(userID uuid.UUID) (string, bool)
}

// MessagePurger is the slice of the message repository the engine needs.
type MessagePurger interface {
	PurgeByUser(ctx context.Context, userID uuid.UUID, mode string, hours int) (int64, error)
}

// KickParams are the caller-supplied inputs for a kick.
type KickParams struct {
	TargetUserID uuid.UUID
	Reason       *string
	DeleteMode   string
	DeleteHours  int
}

// BanParams are the caller-supplied inputs for a ban.
type BanParams struct {
	TargetUserID      uuid.UUID
	Reason            *string
	DeleteMode        string
	DeleteHours       int
	BlacklistIdentity bool
	BlacklistIP       bool
}

// Engine executes moderation commands: it validates the caller, purges messages, records the action, writes ban
// rules, and disconnects online targets. Purging always happens before the target's sessions are closed, and ban
// rules are written before the target is notified, so a reconnect race can never slip past either.
type Engine struct {
	actions  ActionRepository
	bans     BanRepository
	users    user.Repository
	messages MessagePurger
	notifier Notifier
	log      zerolog.Logger
}

// NewEngine creates a moderation engine.
func NewEngine(actions ActionRepository, bans BanRepository, users user.Repository, messages MessagePurger, notifier Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		actions:  actions,
		bans:     bans,
		users:    users,
		messages: messages,
		notifier: notifier,
		log:      logger.With().Str("component", "moderation").Logger(),
	}
}

func validDeleteMode(mode string, hours int) error {
	switch mode {
	case message.DeleteModeNone, message.DeleteModeAll:
		return nil
	case message.DeleteModeHours:
		if hours < 1 {
			return ErrInvalidHours
		}
		return nil
	default:
		return fmt.Errorf("unknown delete mode %q", mode)
	}
}

func (e *Engine) resolveTarget(ctx context.Context, moderator *user.User, targetID uuid.UUID) (*user.User, error) {
	if !moderator.CanModerate() {
		return nil, ErrNotPermitted
	}
	if targetID == moderator.ID {
		return nil, ErrSelfTarget
	}
	target, err := e.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("resolve moderation target: %w", err)
	}
	if target.Role == user.RoleOwner {
		return nil, ErrNotPermitted
	}
	if target.IsAdmin() && !moderator.IsAdmin() {
		return nil, ErrNotPermitted
	}
	return target, nil
}

func (e *Engine) purge(ctx context.Context, targetID uuid.UUID, mode string, hours int) (int64, error) {
	deleted, err := e.messages.PurgeByUser(ctx, targetID, mode, hours)
	if err != nil {
		return 0, fmt.Errorf("purge target messages: %w", err)
	}
	if deleted > 0 {
		e.notifier.Broadcast(EventMessagesPurged, PurgePayload{UserID: targetID, DeleteMode: mode, Deleted: deleted})
	}
	return deleted, nil
}

// disconnect notifies the target and tears its sessions down. Only called for online targets.
func (e *Engine) disconnect(targetID uuid.UUID, actionType string, reason *string) {
	e.notifier.SendToUser(targetID, EventActionEnforced, EnforcementPayload{ActionType: actionType, Reason: reason})
	e.notifier.CloseUserSessions(targetID)
}

// Kick purges per the delete mode, records the action, and disconnects the target if online. Offline targets get a
// pending action enforced at their next authentication.
func (e *Engine) Kick(ctx context.Context, moderator *user.User, params KickParams) (*Action, error) {
	target, err := e.resolveTarget(ctx, moderator, params.TargetUserID)
	if err != nil {
		return nil, err
	}
	if err := validDeleteMode(params.DeleteMode, params.DeleteHours); err != nil {
		return nil, err
	}

	deleted, err := e.purge(ctx, target.ID, params.DeleteMode, params.DeleteHours)
	if err != nil {
		return nil, err
	}

	online := e.notifier.IsOnline(target.ID)
	var hours *int
	if params.DeleteMode == message.DeleteModeHours {
		hours = &params.DeleteHours
	}
	action, err := e.actions.Create(ctx, CreateActionParams{
		TargetUserID:    target.ID,
		ModeratorUserID: moderator.ID,
		ActionType:      ActionKick,
		Reason:          params.Reason,
		DeleteMode:      params.DeleteMode,
		DeleteHours:     hours,
		Enforced:        online,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("target", target.ID.String()).
		Str("moderator", moderator.ID.String()).
		Int64("deleted", deleted).
		Bool("online", online).
		Msg("kick issued")

	if online {
		e.disconnect(target.ID, ActionKick, params.Reason)
	}
	return action, nil
}

// Ban does everything Kick does and additionally writes a ban rule. The rule is committed before the target is
// notified or disconnected.
func (e *Engine) Ban(ctx context.Context, moderator *user.User, params BanParams) (*Action, error) {
	target, err := e.resolveTarget(ctx, moderator, params.TargetUserID)
	if err != nil {
		return nil, err
	}
	if err := validDeleteMode(params.DeleteMode, params.DeleteHours); err != nil {
		return nil, err
	}
	if !params.BlacklistIdentity && !params.BlacklistIP {
		return nil, ErrNoBlacklist
	}

	// Prefer the live session address over the stored one; a user can reconnect from elsewhere between visits.
	var targetIP *string
	if ip, ok := e.notifier.SessionIP(target.ID); ok {
		targetIP = &ip
	} else if target.LastIP != nil {
		targetIP = target.LastIP
	}
	if params.BlacklistIP && targetIP == nil {
		return nil, ErrNoKnownIP
	}

	deleted, err := e.purge(ctx, target.ID, params.DeleteMode, params.DeleteHours)
	if err != nil {
		return nil, err
	}

	banIP := targetIP
	if !params.BlacklistIP {
		banIP = nil
	}
	if _, err := e.bans.Create(ctx, CreateBanParams{
		TargetUserID:      &target.ID,
		TargetPublicKey:   &target.PublicKey,
		TargetIP:          banIP,
		BlacklistIdentity: params.BlacklistIdentity,
		BlacklistIP:       params.BlacklistIP,
		Reason:            params.Reason,
		ModeratorUserID:   &moderator.ID,
	}); err != nil {
		return nil, err
	}

	online := e.notifier.IsOnline(target.ID)
	var hours *int
	if params.DeleteMode == message.DeleteModeHours {
		hours = &params.DeleteHours
	}
	action, err := e.actions.Create(ctx, CreateActionParams{
		TargetUserID:      target.ID,
		ModeratorUserID:   moderator.ID,
		ActionType:        ActionBan,
		Reason:            params.Reason,
		DeleteMode:        params.DeleteMode,
		DeleteHours:       hours,
		BlacklistIdentity: params.BlacklistIdentity,
		BlacklistIP:       params.BlacklistIP,
		TargetIP:          targetIP,
		Enforced:          online,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("target", target.ID.String()).
		Str("moderator", moderator.ID.String()).
		Int64("deleted", deleted).
		Bool("identity", params.BlacklistIdentity).
		Bool("ip", params.BlacklistIP).
		Bool("online", online).
		Msg("ban issued")

	if online {
		e.disconnect(target.ID, ActionBan, params.Reason)
	}
	return action, nil
}

// EvaluateBan checks the connecting identity and address against active rules. A nil rule means the connection may
// proceed.
func (e *Engine) EvaluateBan(ctx context.Context, userID *uuid.UUID, publicKey, ip string) (*BanRule, error) {
	return e.bans.Match(ctx, userID, publicKey, ip)
}

// DrainPending marks all unenforced actions for the user as enforced and returns them, oldest first. The gateway
// calls this after a successful authentication; a non-empty result means the session must be rejected.
func (e *Engine) DrainPending(ctx context.Context, userID uuid.UUID) ([]Action, error) {
	actions, err := e.actions.PendingForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if err := e.actions.MarkEnforced(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	if len(actions) > 0 {
		e.log.Info().Str("target", userID.String()).Int("count", len(actions)).Msg("pending moderation actions enforced")
	}
	return actions, nil
}
