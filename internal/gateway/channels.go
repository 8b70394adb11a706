package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/channel"
)

// Names used when the hub boots with an empty channel list.
const (
	defaultCategoryName = "Text Channels"
	defaultChannelName  = "general"
)

type channelsListPayload struct {
	Categories   []categoryView `json:"categories"`
	Channels     []channelView  `json:"channels"`
	UnreadStates []unreadView   `json:"unreadStates"`
}

type createChannelPayload struct {
	CategoryID *uuid.UUID `json:"categoryId,omitempty"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	FeedURL    *string    `json:"feedUrl,omitempty"`
}

type deleteChannelPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type channelDeletedPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
}

// handleGetChannels replies with the category and channel trees plus the caller's unread flags, then snapshots the
// occupied voice rooms so a reconnecting client can render who is in voice without waiting for membership events.
func (h *Hub) handleGetChannels(ctx context.Context, c *Client) {
	channels, err := h.channels.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list channels")
		c.sendError("internal error")
		return
	}
	if len(channels) == 0 {
		channels, err = h.seedDefaultChannels(ctx)
		if err != nil {
			h.log.Error().Err(err).Msg("seed default channels")
			c.sendError("internal error")
			return
		}
	}

	categories, err := h.categories.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list categories")
		c.sendError("internal error")
		return
	}
	unread, err := h.readstates.UnreadForUser(ctx, c.UserID())
	if err != nil {
		h.log.Error().Err(err).Str("user", c.UserID().String()).Msg("derive unread states")
		c.sendError("internal error")
		return
	}

	payload := channelsListPayload{
		Categories:   make([]categoryView, 0, len(categories)),
		Channels:     make([]channelView, 0, len(channels)),
		UnreadStates: make([]unreadView, 0, len(unread)),
	}
	for i := range categories {
		payload.Categories = append(payload.Categories, newCategoryView(&categories[i]))
	}
	for i := range channels {
		payload.Channels = append(payload.Channels, newChannelView(&channels[i]))
	}
	for i := range unread {
		payload.UnreadStates = append(payload.UnreadStates, newUnreadView(&unread[i]))
	}
	c.sendEvent(EventChannelsList, payload)

	h.sendVoiceSnapshot(ctx, c)
}

// seedDefaultChannels creates the "Text Channels" category with a "general" text channel and marks it as the welcome
// channel. Runs at most once, on the first channel listing against an empty hub.
func (h *Hub) seedDefaultChannels(ctx context.Context) ([]channel.Channel, error) {
	cat, err := h.categories.Create(ctx, defaultCategoryName, 0)
	if err != nil {
		return nil, err
	}
	general, err := h.channels.Create(ctx, channel.CreateParams{
		CategoryID: &cat.ID,
		Name:       defaultChannelName,
		Type:       channel.TypeText,
	})
	if err != nil {
		return nil, err
	}

	srv, err := h.servers.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.servers.SetWelcomeChannel(ctx, srv.ID, general.ID); err != nil {
		return nil, err
	}

	h.log.Info().Str("channel", general.ID.String()).Msg("seeded default channels")
	return h.channels.List(ctx)
}

// handleCreateChannel creates a channel at the end of its category. Admin only.
func (h *Hub) handleCreateChannel(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}
	if !u.IsAdmin() {
		c.sendError("admin role required")
		return
	}

	var req createChannelPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	if req.CategoryID != nil {
		if _, err := h.categories.GetByID(ctx, *req.CategoryID); err != nil {
			c.sendError("category not found")
			return
		}
	}

	params := channel.CreateParams{
		CategoryID: req.CategoryID,
		Name:       req.Name,
		Type:       req.Type,
		FeedURL:    req.FeedURL,
	}
	if err := params.Validate(); err != nil {
		c.sendError(err.Error())
		return
	}

	created, err := h.channels.Create(ctx, params)
	if err != nil {
		h.log.Error().Err(err).Msg("create channel")
		c.sendError("channel creation failed")
		return
	}

	if created.HasMessages() {
		if err := h.readstates.SeedForChannel(ctx, created.ID); err != nil {
			h.log.Warn().Err(err).Str("channel", created.ID.String()).Msg("seed read states for new channel")
		}
	}

	h.log.Info().Str("channel", created.ID.String()).Str("type", created.Type).Msg("channel created")
	h.BroadcastToAuthenticated(EventChannelCreated, newChannelView(created))
}

// handleDeleteChannel removes a channel and everything hanging off it: voice occupants are evicted, folder file bytes
// are removed from storage, and the row cascade takes care of messages, read states, and feed dedupe entries.
func (h *Hub) handleDeleteChannel(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}
	if !u.IsAdmin() {
		c.sendError("admin role required")
		return
	}

	var req deleteChannelPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	ch, err := h.channels.GetByID(ctx, req.ChannelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			c.sendError("channel not found")
			return
		}
		h.log.Error().Err(err).Msg("load channel for deletion")
		c.sendError("internal error")
		return
	}

	switch ch.Type {
	case channel.TypeVoice:
		h.evictVoiceRoom(ch.ID)
	case channel.TypeFolder:
		h.deleteFolderBytes(ctx, ch.ID)
	}

	if err := h.channels.Delete(ctx, ch.ID); err != nil {
		h.log.Error().Err(err).Str("channel", ch.ID.String()).Msg("delete channel")
		c.sendError("channel deletion failed")
		return
	}

	h.log.Info().Str("channel", ch.ID.String()).Str("type", ch.Type).Msg("channel deleted")
	h.BroadcastToAuthenticated(EventChannelDeleted, channelDeletedPayload{ChannelID: ch.ID})
}

// evictVoiceRoom drops every occupant of a voice channel that is about to disappear.
func (h *Hub) evictVoiceRoom(channelID uuid.UUID) {
	for _, userID := range h.rooms.Members(channelID) {
		closed, _, err := h.rooms.Leave(channelID, userID)
		if err != nil {
			continue
		}
		for _, producerID := range closed {
			h.sendToRoom(channelID, userID, EventProducerClosed, producerClosedPayload{ProducerID: producerID, UserID: userID})
		}
		h.BroadcastToAuthenticated(EventUserLeftVoice, voiceMembershipPayload{ChannelID: channelID, UserID: userID})
	}
}

// deleteFolderBytes removes the stored payload of every file in a folder channel. Row cleanup rides the channel
// delete cascade; a failed byte delete only logs, since the rows are going away regardless.
func (h *Hub) deleteFolderBytes(ctx context.Context, channelID uuid.UUID) {
	files, err := h.files.ListByChannel(ctx, channelID)
	if err != nil {
		h.log.Warn().Err(err).Str("channel", channelID.String()).Msg("list folder files for deletion")
		return
	}
	for i := range files {
		if err := h.store.DeleteFile(ctx, &files[i]); err != nil {
			h.log.Warn().Err(err).Str("file", files[i].ID.String()).Msg("delete stored file")
		}
	}
}

// handleGetMembers replies with the current roster.
func (h *Hub) handleGetMembers(ctx context.Context, c *Client) {
	h.sendRoster(ctx, c)
}
