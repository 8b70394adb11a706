package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/message"
)

type getMessagesPayload struct {
	ChannelID       uuid.UUID  `json:"channelId"`
	BeforeCreatedAt *time.Time `json:"beforeCreatedAt,omitempty"`
	BeforeID        *uuid.UUID `json:"beforeId,omitempty"`
}

type messagesListPayload struct {
	ChannelID              uuid.UUID     `json:"channelId"`
	Messages               []messageView `json:"messages"`
	HasMore                bool          `json:"hasMore"`
	RequestBeforeCreatedAt *time.Time    `json:"requestBeforeCreatedAt,omitempty"`
	RequestBeforeID        *uuid.UUID    `json:"requestBeforeId,omitempty"`
}

type sendMessagePayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	Content   string    `json:"content"`
}

type markReadPayload struct {
	ChannelID         uuid.UUID `json:"channelId"`
	LastReadMessageID uuid.UUID `json:"lastReadMessageId"`
	LastReadCreatedAt time.Time `json:"lastReadCreatedAt"`
}

// handleGetMessages pages backwards through a channel's history. The store returns one row past the page size so the
// reply can flag whether older history remains; the page itself is reversed to chronological order before sending.
// The request cursor is echoed back so the client can match replies to in-flight requests.
func (h *Hub) handleGetMessages(ctx context.Context, c *Client, payload json.RawMessage) {
	var req getMessagesPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	ch, ok := h.messageChannel(ctx, c, req.ChannelID)
	if !ok {
		return
	}

	var cursor *message.Cursor
	if req.BeforeCreatedAt != nil && req.BeforeID != nil {
		cursor = &message.Cursor{CreatedAt: *req.BeforeCreatedAt, ID: *req.BeforeID}
	}

	rows, err := h.messages.List(ctx, ch.ID, cursor, message.PageSize)
	if err != nil {
		h.log.Error().Err(err).Str("channel", ch.ID.String()).Msg("list messages")
		c.sendError("internal error")
		return
	}

	hasMore := len(rows) > message.PageSize
	if hasMore {
		rows = rows[:message.PageSize]
	}

	// rows arrive newest first; the client renders oldest first.
	views := make([]messageView, len(rows))
	for i := range rows {
		views[len(rows)-1-i] = newMessageView(&rows[i])
	}

	c.sendEvent(EventMessagesList, messagesListPayload{
		ChannelID:              ch.ID,
		Messages:               views,
		HasMore:                hasMore,
		RequestBeforeCreatedAt: req.BeforeCreatedAt,
		RequestBeforeID:        req.BeforeID,
	})
}

// handleSendMessage persists a message, advances the sender's own read cursor past it, and fans it out.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, payload json.RawMessage) {
	var req sendMessagePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	content, err := message.ValidateContent(req.Content)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	ch, ok := h.messageChannel(ctx, c, req.ChannelID)
	if !ok {
		return
	}
	if ch.Type == channel.TypeRSS {
		u, uok := h.sessionUser(ctx, c)
		if !uok {
			return
		}
		if !u.CanPostToRSS() {
			c.sendError("rss channels are read-only")
			return
		}
	}

	m, err := h.messages.Create(ctx, ch.ID, c.UserID(), content)
	if err != nil {
		h.log.Error().Err(err).Str("channel", ch.ID.String()).Msg("create message")
		c.sendError("message send failed")
		return
	}

	// The author has obviously seen their own message.
	if err := h.readstates.Advance(ctx, c.UserID(), ch.ID, m.ID, m.CreatedAt); err != nil {
		h.log.Warn().Err(err).Str("channel", ch.ID.String()).Msg("advance author read cursor")
	}

	h.BroadcastMessage(m)
}

// handleMarkChannelRead advances the caller's read cursor. Stale cursors are absorbed by the store, so the operation
// needs no reply.
func (h *Hub) handleMarkChannelRead(ctx context.Context, c *Client, payload json.RawMessage) {
	var req markReadPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if req.LastReadMessageID == uuid.Nil || req.LastReadCreatedAt.IsZero() {
		c.sendError("invalid payload")
		return
	}
	if err := h.readstates.Advance(ctx, c.UserID(), req.ChannelID, req.LastReadMessageID, req.LastReadCreatedAt); err != nil {
		h.log.Warn().Err(err).Str("channel", req.ChannelID.String()).Msg("advance read cursor")
		c.sendError("internal error")
	}
}

// messageChannel loads a channel and checks that it carries message history.
func (h *Hub) messageChannel(ctx context.Context, c *Client, channelID uuid.UUID) (*channel.Channel, bool) {
	ch, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			c.sendError("channel not found")
			return nil, false
		}
		h.log.Error().Err(err).Str("channel", channelID.String()).Msg("load channel")
		c.sendError("internal error")
		return nil, false
	}
	if !ch.HasMessages() {
		c.sendError("channel does not carry messages")
		return nil, false
	}
	return ch, true
}
