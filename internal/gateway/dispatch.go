package gateway

import (
	"context"
	"encoding/json"
)

// dispatch routes one inbound envelope. Before authentication only the auth exchange and ping are honored; everything
// else gets an error reply and the session stays up.
func (h *Hub) dispatch(c *Client, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch env.Type {
	case opPing:
		c.sendEvent(EventPong, struct{}{})
		return
	case opAuthRequest:
		h.handleAuthRequest(ctx, c, env.Payload)
		return
	case opAuthResponse:
		h.handleAuthResponse(ctx, c, env.Payload)
		return
	}

	if !c.IsAuthenticated() {
		c.sendError("authentication required")
		return
	}

	switch env.Type {
	case opGetChannels:
		h.handleGetChannels(ctx, c)
	case opCreateChannel:
		h.handleCreateChannel(ctx, c, env.Payload)
	case opDeleteChannel:
		h.handleDeleteChannel(ctx, c, env.Payload)
	case opGetMessages:
		h.handleGetMessages(ctx, c, env.Payload)
	case opSendMessage:
		h.handleSendMessage(ctx, c, env.Payload)
	case opMarkChannelRead:
		h.handleMarkChannelRead(ctx, c, env.Payload)
	case opGetMembers:
		h.handleGetMembers(ctx, c)

	case opFolderListFiles:
		h.handleFolderListFiles(ctx, c, env.Payload)
	case opFolderUploadFile:
		h.handleFolderUploadFile(ctx, c, env.Payload)
	case opFolderDownloadFile:
		h.handleFolderDownloadFile(ctx, c, env.Payload)
	case opFolderDeleteFile:
		h.handleFolderDeleteFile(ctx, c, env.Payload)

	case opJoinVoiceChannel:
		h.handleJoinVoice(ctx, c, env.Payload)
	case opCreateTransport:
		h.handleCreateTransport(ctx, c, env.Payload)
	case opConnectTransport:
		h.handleConnectTransport(c, env.Payload)
	case opProduce:
		h.handleProduce(c, env.Payload)
	case opCloseProducer:
		h.handleCloseProducer(c, env.Payload)
	case opConsume:
		h.handleConsume(c, env.Payload)
	case opResumeConsumer:
		h.handleResumeConsumer(c, env.Payload)
	case opLeaveVoiceChannel:
		h.handleLeaveVoice(c, env.Payload)
	case opGetProducers:
		h.handleGetProducers(c, env.Payload)
	case opVoiceStateUpdate:
		h.handleVoiceStateUpdate(c, env.Payload)

	case opKickMember:
		h.handleKickMember(ctx, c, env.Payload)
	case opBanMember:
		h.handleBanMember(ctx, c, env.Payload)
	case opSubmitAdminKey:
		h.handleSubmitAdminKey(ctx, c, env.Payload)
	case opUpdateServerSettings:
		h.handleUpdateServerSettings(ctx, c, env.Payload)

	default:
		h.log.Debug().Str("type", env.Type).Msg("unknown operation")
		c.sendError("unknown operation")
	}
}

// decodeInto parses a handler payload, reporting a protocol error to the caller on failure.
func decodeInto(c *Client, payload json.RawMessage, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		c.sendError("invalid payload")
		return false
	}
	return true
}
