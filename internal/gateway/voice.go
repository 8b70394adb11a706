package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/sfu"
)

// Transport directions. The coordinator allocates identical transports either way; the direction is echoed back so
// the client can tell its send and receive legs apart.
const (
	directionSend = "send"
	directionRecv = "recv"
)

type joinVoicePayload struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type voiceChannelJoinedPayload struct {
	ChannelID       uuid.UUID         `json:"channelId"`
	RtpCapabilities json.RawMessage   `json:"rtpCapabilities"`
	Producers       []producerPayload `json:"producers"`
	Peers           []peerView        `json:"peers"`
}

type createTransportPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	Direction string    `json:"direction"`
}

type connectTransportPayload struct {
	ChannelID      uuid.UUID       `json:"channelId"`
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type transportConnectedPayload struct {
	ChannelID   uuid.UUID `json:"channelId"`
	TransportID string    `json:"transportId"`
}

type producePayload struct {
	ChannelID     uuid.UUID       `json:"channelId"`
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	Source        string          `json:"source,omitempty"`
}

type producedPayload struct {
	ChannelID  uuid.UUID `json:"channelId"`
	ProducerID string    `json:"producerId"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
}

type closeProducerPayload struct {
	ChannelID  uuid.UUID `json:"channelId"`
	ProducerID string    `json:"producerId"`
}

type consumePayload struct {
	ChannelID       uuid.UUID       `json:"channelId"`
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type consumedPayload struct {
	ChannelID     uuid.UUID       `json:"channelId"`
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type resumeConsumerPayload struct {
	ChannelID  uuid.UUID `json:"channelId"`
	ConsumerID string    `json:"consumerId"`
}

type voiceStateUpdatePayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	Muted     bool      `json:"muted"`
	Deafened  bool      `json:"deafened"`
}

// handleJoinVoice puts the caller into a voice room and hands back everything it needs to negotiate media: router
// capabilities, the producers already present, and the room's voice states.
func (h *Hub) handleJoinVoice(ctx context.Context, c *Client, payload json.RawMessage) {
	var req joinVoicePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	ch, err := h.channels.GetByID(ctx, req.ChannelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			c.sendError("channel not found")
			return
		}
		h.log.Error().Err(err).Str("channel", req.ChannelID.String()).Msg("load voice channel")
		c.sendError("internal error")
		return
	}
	if ch.Type != channel.TypeVoice {
		c.sendError("not a voice channel")
		return
	}

	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}

	// One room per user: joining a new room implicitly leaves the old one.
	h.leaveVoiceOnDisconnect(u.ID)

	result, err := h.rooms.Join(ctx, ch.ID, u.ID, u.Username)
	if err != nil {
		h.voiceError(c, err)
		return
	}

	c.sendEvent(EventVoiceChannelJoined, voiceChannelJoinedPayload{
		ChannelID:       ch.ID,
		RtpCapabilities: result.RtpCapabilities,
		Producers:       producerPayloads(result.Producers),
		Peers:           peerViews(result.Peers),
	})
	h.BroadcastToAuthenticated(EventUserJoinedVoice, voiceMembershipPayload{
		ChannelID: ch.ID,
		UserID:    u.ID,
		Username:  u.Username,
	})
	h.broadcastVoiceParticipants(ch.ID)
}

func (h *Hub) handleCreateTransport(ctx context.Context, c *Client, payload json.RawMessage) {
	var req createTransportPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if req.Direction != directionSend && req.Direction != directionRecv {
		c.sendError("transport direction must be send or recv")
		return
	}

	opts, err := h.rooms.CreateTransport(ctx, req.ChannelID, c.UserID())
	if err != nil {
		h.voiceError(c, err)
		return
	}
	c.sendEvent(EventTransportCreated, transportCreatedPayload{
		ChannelID:      req.ChannelID,
		Direction:      req.Direction,
		ID:             opts.ID,
		IceParameters:  opts.IceParameters,
		IceCandidates:  opts.IceCandidates,
		DtlsParameters: opts.DtlsParameters,
	})
}

func (h *Hub) handleConnectTransport(c *Client, payload json.RawMessage) {
	var req connectTransportPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if err := h.rooms.ConnectTransport(req.ChannelID, c.UserID(), req.TransportID, req.DtlsParameters); err != nil {
		h.voiceError(c, err)
		return
	}
	c.sendEvent(EventTransportConnected, transportConnectedPayload{ChannelID: req.ChannelID, TransportID: req.TransportID})
}

// handleProduce attaches a client track and announces it to the rest of the room.
func (h *Hub) handleProduce(c *Client, payload json.RawMessage) {
	var req producePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	info, err := h.rooms.Produce(req.ChannelID, c.UserID(), req.TransportID, req.Kind, req.Source, req.RtpParameters)
	if err != nil {
		h.voiceError(c, err)
		return
	}

	c.sendEvent(EventProduced, producedPayload{
		ChannelID:  req.ChannelID,
		ProducerID: info.ProducerID,
		Kind:       info.Kind,
		Source:     info.Source,
	})
	h.sendToRoom(req.ChannelID, c.UserID(), EventNewProducer, producerPayload{
		ProducerID: info.ProducerID,
		UserID:     info.UserID,
		Kind:       info.Kind,
		Source:     info.Source,
	})
}

func (h *Hub) handleCloseProducer(c *Client, payload json.RawMessage) {
	var req closeProducerPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if err := h.rooms.CloseProducer(req.ChannelID, c.UserID(), req.ProducerID); err != nil {
		h.voiceError(c, err)
		return
	}
	h.sendToRoom(req.ChannelID, c.UserID(), EventProducerClosed, producerClosedPayload{
		ProducerID: req.ProducerID,
		UserID:     c.UserID(),
	})
}

func (h *Hub) handleConsume(c *Client, payload json.RawMessage) {
	var req consumePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	params, err := h.rooms.Consume(req.ChannelID, c.UserID(), req.TransportID, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		h.voiceError(c, err)
		return
	}
	c.sendEvent(EventConsumed, consumedPayload{
		ChannelID:     req.ChannelID,
		ConsumerID:    params.ID,
		ProducerID:    params.ProducerID,
		Kind:          params.Kind,
		RtpParameters: params.RtpParameters,
	})
}

func (h *Hub) handleResumeConsumer(c *Client, payload json.RawMessage) {
	var req resumeConsumerPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if err := h.rooms.ResumeConsumer(req.ChannelID, c.UserID(), req.ConsumerID); err != nil {
		h.voiceError(c, err)
	}
}

func (h *Hub) handleLeaveVoice(c *Client, payload json.RawMessage) {
	var req joinVoicePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	closed, _, err := h.rooms.Leave(req.ChannelID, c.UserID())
	if err != nil {
		h.voiceError(c, err)
		return
	}
	for _, producerID := range closed {
		h.sendToRoom(req.ChannelID, c.UserID(), EventProducerClosed, producerClosedPayload{
			ProducerID: producerID,
			UserID:     c.UserID(),
		})
	}
	h.BroadcastToAuthenticated(EventUserLeftVoice, voiceMembershipPayload{ChannelID: req.ChannelID, UserID: c.UserID()})
	h.broadcastVoiceParticipants(req.ChannelID)
}

// handleGetProducers replays the room's current producers to the caller as new_producer events, the catch-up step
// clients run once their receive transport is ready.
func (h *Hub) handleGetProducers(c *Client, payload json.RawMessage) {
	var req joinVoicePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	infos, err := h.rooms.Producers(req.ChannelID, c.UserID())
	if err != nil {
		h.voiceError(c, err)
		return
	}
	for _, info := range producerPayloads(infos) {
		c.sendEvent(EventNewProducer, info)
	}
}

// handleVoiceStateUpdate applies the mute and deafen flags and broadcasts the resulting state. The room coordinator
// pauses or resumes mic producers as a side effect; screen and camera tracks are unaffected.
func (h *Hub) handleVoiceStateUpdate(c *Client, payload json.RawMessage) {
	var req voiceStateUpdatePayload
	if !decodeInto(c, payload, &req) {
		return
	}

	if _, err := h.rooms.SetMute(req.ChannelID, c.UserID(), req.Muted); err != nil {
		h.voiceError(c, err)
		return
	}
	info, err := h.rooms.SetDeafen(req.ChannelID, c.UserID(), req.Deafened)
	if err != nil {
		h.voiceError(c, err)
		return
	}

	h.BroadcastToAuthenticated(EventVoiceStateUpdated, voiceStatePayload{
		ChannelID: req.ChannelID,
		UserID:    c.UserID(),
		Muted:     info.Muted,
		Deafened:  info.Deafened,
	})
}

// voiceError reports a room coordinator failure. The coordinator's sentinel errors are client-caused and safe to
// echo; anything else is logged and masked.
func (h *Hub) voiceError(c *Client, err error) {
	switch {
	case errors.Is(err, sfu.ErrRoomNotFound),
		errors.Is(err, sfu.ErrPeerNotFound),
		errors.Is(err, sfu.ErrTransportNotFound),
		errors.Is(err, sfu.ErrProducerNotFound),
		errors.Is(err, sfu.ErrConsumerNotFound),
		errors.Is(err, sfu.ErrCannotConsume),
		errors.Is(err, sfu.ErrAlreadyJoined),
		errors.Is(err, sfu.ErrInvalidSource):
		c.sendError(err.Error())
	default:
		h.log.Error().Err(err).Msg("voice operation failed")
		c.sendError("voice operation failed")
	}
}
