package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/auth"
	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/moderation"
	"github.com/corvid-chat/corvid-server/internal/user"
)

type authRequestPayload struct {
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

type authResponsePayload struct {
	Signature string `json:"signature"`
}

type authChallengePayload struct {
	Challenge string `json:"challenge"`
}

type authBannedPayload struct {
	Reason            *string `json:"reason,omitempty"`
	BlacklistIdentity bool    `json:"blacklistIdentity"`
	BlacklistIP       bool    `json:"blacklistIp"`
	TargetIP          *string `json:"targetIp,omitempty"`
}

type authenticatedPayload struct {
	User   userView   `json:"user"`
	Server serverView `json:"server"`
}

type memberListPayload struct {
	Members []userView `json:"members"`
}

// handleAuthRequest begins the challenge exchange: it evaluates ban rules against the submitted identity and the
// session address, looks up or creates the user, and stashes a fresh challenge on the session.
func (h *Hub) handleAuthRequest(ctx context.Context, c *Client, payload json.RawMessage) {
	if c.IsAuthenticated() {
		c.sendError("already authenticated")
		return
	}

	var req authRequestPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	username, err := user.ValidateUsername(req.Username)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	pubKey, identity, err := auth.ParsePublicKey(req.PublicKey)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	ip := auth.NormalizeIP(c.remoteAddr)
	if h.rejectIfBanned(ctx, c, nil, identity, ip) {
		return
	}

	u, isNew, err := h.lookupOrCreateUser(ctx, username, identity)
	if err != nil {
		h.log.Error().Err(err).Msg("resolve auth user")
		c.sendError("authentication failed")
		return
	}

	challenge, err := auth.NewChallenge()
	if err != nil {
		h.log.Error().Err(err).Msg("generate challenge")
		c.sendError("authentication failed")
		return
	}

	c.mu.Lock()
	c.challenge = challenge
	c.pubKey = pubKey
	c.identity = identity
	c.pendingUser = u
	c.isNewUser = isNew
	c.mu.Unlock()

	c.sendEvent(EventAuthChallenge, authChallengePayload{Challenge: challenge})
}

// handleAuthResponse verifies the challenge signature and finishes authentication: last-seen address update, a second
// ban evaluation now that the user id is known, pending moderation enforcement, then the authenticated snapshot.
func (h *Hub) handleAuthResponse(ctx context.Context, c *Client, payload json.RawMessage) {
	if c.IsAuthenticated() {
		c.sendError("already authenticated")
		return
	}

	var resp authResponsePayload
	if !decodeInto(c, payload, &resp) {
		return
	}

	c.mu.RLock()
	challenge, pubKey, identity := c.challenge, c.pubKey, c.identity
	u, isNew := c.pendingUser, c.isNewUser
	c.mu.RUnlock()
	if challenge == "" || pubKey == nil || u == nil {
		c.sendError("no pending challenge")
		return
	}

	if err := auth.VerifyChallenge(pubKey, challenge, resp.Signature); err != nil {
		c.sendError("signature verification failed")
		return
	}

	ip := auth.NormalizeIP(c.remoteAddr)
	if err := h.users.UpdateLastIP(ctx, u.ID, ip); err != nil {
		h.log.Warn().Err(err).Str("user", u.ID.String()).Msg("record last ip")
	}

	if h.rejectIfBanned(ctx, c, &u.ID, identity, ip) {
		return
	}

	pending, err := h.mod.DrainPending(ctx, u.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user", u.ID.String()).Msg("drain pending moderation actions")
		c.sendError("authentication failed")
		return
	}
	if len(pending) > 0 {
		for _, a := range pending {
			c.sendEvent(EventModerationEnforced, moderation.EnforcementPayload{ActionType: a.ActionType, Reason: a.Reason})
		}
		c.closeWithCode(CloseModerationEnforced, "Moderation action enforced")
		return
	}

	srv, err := h.servers.Get(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("load server row")
		c.sendError("authentication failed")
		return
	}

	firstSession := !h.IsOnline(u.ID)

	c.mu.Lock()
	c.authed = true
	c.userID = u.ID
	c.challenge = ""
	c.pubKey = nil
	c.pendingUser = nil
	c.mu.Unlock()
	h.bindUser(c, u.ID)

	c.sendEvent(EventAuthenticated, authenticatedPayload{User: newUserView(u, true), Server: newServerView(srv)})

	if err := h.readstates.SeedForUser(ctx, u.ID); err != nil {
		h.log.Warn().Err(err).Str("user", u.ID.String()).Msg("seed read states")
	}

	h.sendRoster(ctx, c)
	h.sendVoiceSnapshot(ctx, c)

	if firstSession {
		h.BroadcastToAuthenticated(EventUserOnline, newUserView(u, true))
	}
	if isNew {
		h.postWelcomeMessage(ctx, srv.WelcomeChannelID, u.Username)
	}

	h.log.Info().Str("user", u.ID.String()).Str("username", u.Username).Bool("new", isNew).Msg("session authenticated")
}

// rejectIfBanned evaluates ban rules and, on a match, sends auth:banned and terminates the session. Returns true when
// the session was rejected.
func (h *Hub) rejectIfBanned(ctx context.Context, c *Client, userID *uuid.UUID, identity, ip string) bool {
	rule, err := h.mod.EvaluateBan(ctx, userID, identity, ip)
	if err != nil {
		h.log.Error().Err(err).Msg("evaluate ban rules")
		c.sendError("authentication failed")
		return true
	}
	if rule == nil {
		return false
	}
	c.sendEvent(EventAuthBanned, authBannedPayload{
		Reason:            rule.Reason,
		BlacklistIdentity: rule.BlacklistIdentity,
		BlacklistIP:       rule.BlacklistIP,
		TargetIP:          rule.TargetIP,
	})
	c.closeWithCode(CloseModerationEnforced, "Moderation action enforced")
	return true
}

func (h *Hub) lookupOrCreateUser(ctx context.Context, username, identity string) (*user.User, bool, error) {
	u, err := h.users.GetByPublicKey(ctx, identity)
	if errors.Is(err, user.ErrNotFound) {
		created, createErr := h.users.Create(ctx, username, identity)
		if createErr != nil {
			return nil, false, fmt.Errorf("create user: %w", createErr)
		}
		return created, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("look up user: %w", err)
	}
	if u.Username != username {
		if err := h.users.UpdateUsername(ctx, u.ID, username); err != nil {
			return nil, false, fmt.Errorf("update username: %w", err)
		}
		u.Username = username
		h.BroadcastToAuthenticated(EventUserUpdated, newUserView(u, true))
	}
	return u, false, nil
}

// sendRoster delivers the full member list with live online flags to one session.
func (h *Hub) sendRoster(ctx context.Context, c *Client) {
	users, err := h.users.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list users for roster")
		return
	}
	members := make([]userView, 0, len(users))
	for i := range users {
		members = append(members, newUserView(&users[i], h.IsOnline(users[i].ID)))
	}
	c.sendEvent(EventMemberList, memberListPayload{Members: members})
}

// sendVoiceSnapshot delivers the current participants of every occupied voice room to one session.
func (h *Hub) sendVoiceSnapshot(ctx context.Context, c *Client) {
	voiceChannels, err := h.channels.ListByType(ctx, channel.TypeVoice)
	if err != nil {
		h.log.Error().Err(err).Msg("list voice channels")
		return
	}
	for i := range voiceChannels {
		peers := h.rooms.Peers(voiceChannels[i].ID)
		if len(peers) == 0 {
			continue
		}
		c.sendEvent(EventVoiceParticipantsList, voiceParticipantsPayload{
			ChannelID:    voiceChannels[i].ID,
			Participants: peerViews(peers),
		})
	}
}

// postWelcomeMessage greets a first-time user in the welcome channel, signed by the System user.
func (h *Hub) postWelcomeMessage(ctx context.Context, welcomeChannelID *uuid.UUID, username string) {
	if welcomeChannelID == nil {
		return
	}
	system, err := h.users.EnsureSynthetic(ctx, user.SystemUsername, user.SystemPublicKey, user.RoleSystem)
	if err != nil {
		h.log.Error().Err(err).Msg("resolve system user")
		return
	}
	m, err := h.messages.Create(ctx, *welcomeChannelID, system.ID, fmt.Sprintf("Welcome %s to the server!", username))
	if err != nil {
		h.log.Error().Err(err).Msg("post welcome message")
		return
	}
	h.BroadcastMessage(m)
}

type adminKeyPayload struct {
	Key string `json:"key"`
}

type roleUpdatedPayload struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role"`
}

// handleSubmitAdminKey elevates the caller to admin when the submitted key matches the process-scoped admin key.
func (h *Hub) handleSubmitAdminKey(ctx context.Context, c *Client, payload json.RawMessage) {
	var req adminKeyPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if !auth.VerifyAdminKey(req.Key, h.adminKey) {
		c.sendError("invalid admin key")
		return
	}

	userID := c.UserID()
	if err := h.users.SetRole(ctx, userID, user.RoleAdmin); err != nil {
		h.log.Error().Err(err).Str("user", userID.String()).Msg("elevate role")
		c.sendError("role update failed")
		return
	}
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user", userID.String()).Msg("reload elevated user")
		return
	}

	h.log.Info().Str("user", userID.String()).Msg("admin key accepted")
	h.BroadcastToAuthenticated(EventUserUpdated, newUserView(u, true))
	h.BroadcastToAuthenticated(EventRoleUpdated, roleUpdatedPayload{UserID: userID, Role: u.Role})
}

// sessionUser loads the caller's current user row. Roles can change mid-session, so permission checks always read
// the row rather than trusting state captured at auth time.
func (h *Hub) sessionUser(ctx context.Context, c *Client) (*user.User, bool) {
	u, err := h.users.GetByID(ctx, c.UserID())
	if err != nil {
		h.log.Error().Err(err).Str("user", c.UserID().String()).Msg("load session user")
		c.sendError("internal error")
		return nil, false
	}
	return u, true
}
