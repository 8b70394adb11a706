package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/moderation"
)

type kickMemberPayload struct {
	TargetUserID uuid.UUID `json:"targetUserId"`
	Reason       *string   `json:"reason,omitempty"`
	DeleteMode   string    `json:"deleteMode"`
	DeleteHours  int       `json:"deleteHours,omitempty"`
}

type banMemberPayload struct {
	TargetUserID      uuid.UUID `json:"targetUserId"`
	Reason            *string   `json:"reason,omitempty"`
	DeleteMode        string    `json:"deleteMode"`
	DeleteHours       int       `json:"deleteHours,omitempty"`
	BlacklistIdentity *bool     `json:"blacklistIdentity,omitempty"`
	BlacklistIP       bool      `json:"blacklistIp,omitempty"`
}

type actionAppliedPayload struct {
	ActionID     uuid.UUID `json:"actionId"`
	ActionType   string    `json:"actionType"`
	TargetUserID uuid.UUID `json:"targetUserId"`
	Enforced     bool      `json:"enforced"`
}

type memberRemovedPayload struct {
	UserID     uuid.UUID `json:"userId"`
	ActionType string    `json:"actionType"`
}

func (h *Hub) handleKickMember(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}

	var req kickMemberPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	action, err := h.mod.Kick(ctx, u, moderation.KickParams{
		TargetUserID: req.TargetUserID,
		Reason:       req.Reason,
		DeleteMode:   req.DeleteMode,
		DeleteHours:  req.DeleteHours,
	})
	if err != nil {
		h.moderationError(c, err)
		return
	}
	h.finishModeration(c, action)
}

func (h *Hub) handleBanMember(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}

	var req banMemberPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	// Identity blacklisting is the default; a ban that names neither list is rejected by the engine.
	blacklistIdentity := true
	if req.BlacklistIdentity != nil {
		blacklistIdentity = *req.BlacklistIdentity
	}

	action, err := h.mod.Ban(ctx, u, moderation.BanParams{
		TargetUserID:      req.TargetUserID,
		Reason:            req.Reason,
		DeleteMode:        req.DeleteMode,
		DeleteHours:       req.DeleteHours,
		BlacklistIdentity: blacklistIdentity,
		BlacklistIP:       req.BlacklistIP,
	})
	if err != nil {
		h.moderationError(c, err)
		return
	}
	h.finishModeration(c, action)
}

// finishModeration acknowledges the moderator and tells the roster the target is gone.
func (h *Hub) finishModeration(c *Client, action *moderation.Action) {
	c.sendEvent(EventModerationApplied, actionAppliedPayload{
		ActionID:     action.ID,
		ActionType:   action.ActionType,
		TargetUserID: action.TargetUserID,
		Enforced:     action.Enforced,
	})
	h.BroadcastToAuthenticated(EventMemberRemoved, memberRemovedPayload{
		UserID:     action.TargetUserID,
		ActionType: action.ActionType,
	})
}

// moderationError echoes the engine's command-validation errors and masks everything else.
func (h *Hub) moderationError(c *Client, err error) {
	switch {
	case errors.Is(err, moderation.ErrNotPermitted),
		errors.Is(err, moderation.ErrSelfTarget),
		errors.Is(err, moderation.ErrTargetNotFound),
		errors.Is(err, moderation.ErrInvalidHours),
		errors.Is(err, moderation.ErrNoBlacklist),
		errors.Is(err, moderation.ErrNoKnownIP):
		c.sendError(err.Error())
	default:
		h.log.Error().Err(err).Msg("moderation command failed")
		c.sendError("moderation command failed")
	}
}
