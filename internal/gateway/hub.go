package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/auth"
	"github.com/corvid-chat/corvid-server/internal/category"
	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/folder"
	"github.com/corvid-chat/corvid-server/internal/message"
	"github.com/corvid-chat/corvid-server/internal/moderation"
	"github.com/corvid-chat/corvid-server/internal/readstate"
	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/sfu"
	"github.com/corvid-chat/corvid-server/internal/storage"
	"github.com/corvid-chat/corvid-server/internal/user"
)

// handlerTimeout bounds the database work of a single dispatched operation.
const handlerTimeout = 10 * time.Second

// Hub is the connection manager: it owns the set of live sessions and offers broadcast, targeted send, presence
// query, and force-close to the handlers and background services. It also implements moderation.Notifier and the RSS
// poller's Broadcaster.
type Hub struct {
	users      user.Repository
	servers    server.Repository
	categories category.Repository
	channels   channel.Repository
	messages   message.Repository
	readstates readstate.Repository
	files      folder.Repository
	store      *storage.Manager
	rooms      *sfu.Rooms
	adminKey   string
	maxUpload  int64
	log        zerolog.Logger

	// mod is wired after construction because the engine needs the hub as its notifier.
	mod *moderation.Engine

	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[uuid.UUID]map[*Client]struct{}
}

// NewHub creates the gateway hub. Call SetModeration before serving connections.
func NewHub(
	users user.Repository,
	servers server.Repository,
	categories category.Repository,
	channels channel.Repository,
	messages message.Repository,
	readstates readstate.Repository,
	files folder.Repository,
	store *storage.Manager,
	rooms *sfu.Rooms,
	adminKey string,
	maxUpload int64,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		users:      users,
		servers:    servers,
		categories: categories,
		channels:   channels,
		messages:   messages,
		readstates: readstates,
		files:      files,
		store:      store,
		rooms:      rooms,
		adminKey:   adminKey,
		maxUpload:  maxUpload,
		log:        logger.With().Str("component", "gateway").Logger(),
		clients:    map[*Client]struct{}{},
		byUser:     map[uuid.UUID]map[*Client]struct{}{},
	}
}

// SetModeration wires the moderation engine, breaking the hub/engine construction cycle.
func (h *Hub) SetModeration(engine *moderation.Engine) {
	h.mod = engine
}

// maxFrameBytes is the inbound read limit: the upload cap after base64 expansion plus envelope headroom.
func (h *Hub) maxFrameBytes() int64 {
	return h.maxUpload*4/3 + 64*1024
}

// ServeWebSocket registers a session for an upgraded connection and runs its pumps. It blocks until the connection
// closes, matching the contrib websocket handler contract.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, remoteAddr string) {
	client := newClient(h, conn, remoteAddr, h.log)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("remote", remoteAddr).Int("total", total).Msg("session opened")

	go client.writePump()
	client.readPump()
}

// bindUser associates an authenticated identity with the session. A user may hold several sessions at once.
func (h *Hub) bindUser(client *Client, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[userID]
	if !ok {
		set = map[*Client]struct{}{}
		h.byUser[userID] = set
	}
	set[client] = struct{}{}
}

// unregister removes a session from the hub and runs disconnect cleanup: the user leaves any voice room, and if no
// other session remains the roster learns the user went offline.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	userID := client.UserID()
	var lastSession bool
	if set, ok := h.byUser[userID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, userID)
			lastSession = true
		}
	}
	h.mu.Unlock()

	client.closeSend()

	if !client.IsAuthenticated() {
		return
	}

	h.leaveVoiceOnDisconnect(userID)
	if lastSession {
		h.BroadcastToAuthenticated(EventUserOffline, userOfflinePayload{UserID: userID})
	}
	h.log.Debug().Str("user", userID.String()).Msg("session closed")
}

// Broadcast serializes the event once and writes it to every session, authenticated or not.
func (h *Hub) Broadcast(event string, payload any) {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}
	for _, c := range h.snapshot(false) {
		c.enqueue(msg)
	}
}

// BroadcastToAuthenticated restricts the broadcast to sessions past the challenge exchange.
func (h *Hub) BroadcastToAuthenticated(event string, payload any) {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}
	for _, c := range h.snapshot(true) {
		c.enqueue(msg)
	}
}

// SendToUser writes the event to every session bound to the user.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload any) {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode send")
		return
	}
	for _, c := range h.userSessions(userID) {
		c.enqueue(msg)
	}
}

// sendToRoom fans an event out to the members of a voice room, optionally excluding the originating user.
func (h *Hub) sendToRoom(channelID uuid.UUID, except uuid.UUID, event string, payload any) {
	for _, userID := range h.rooms.Members(channelID) {
		if userID == except {
			continue
		}
		h.SendToUser(userID, event, payload)
	}
}

// CloseUserSessions force-closes every session bound to the user with the moderation close code.
func (h *Hub) CloseUserSessions(userID uuid.UUID) {
	for _, c := range h.userSessions(userID) {
		c.closeWithCode(CloseModerationEnforced, "Moderation action enforced")
	}
}

// IsOnline reports whether any session is bound to the user.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// SessionIP returns the normalized remote address of any one of the user's sessions.
func (h *Hub) SessionIP(userID uuid.UUID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		return auth.NormalizeIP(c.remoteAddr), true
	}
	return "", false
}

// BroadcastMessage fans a freshly persisted message out to every authenticated session. The RSS poller publishes
// through this.
func (h *Hub) BroadcastMessage(m *message.Message) {
	h.BroadcastToAuthenticated(EventNewMessage, newMessageView(m))
}

// RunKeepAlive pings every session on a fixed cadence and terminates the ones that did not prove liveness since the
// previous tick. It blocks until the context is cancelled.
func (h *Hub) RunKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range h.snapshot(false) {
				if !c.alive.Swap(false) {
					h.log.Debug().Str("remote", c.remoteAddr).Msg("session missed keep-alive, closing")
					c.closeWithCode(websocket.CloseGoingAway, "keep-alive timeout")
					continue
				}
				c.ping()
			}
		}
	}
}

// Shutdown closes all active sessions with a Going Away status.
func (h *Hub) Shutdown() {
	for _, c := range h.snapshot(false) {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info().Msg("gateway hub shut down")
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot copies the session set so broadcasts never iterate under the lock. Writes to sessions that close
// mid-iteration are dropped by the enqueue guard.
func (h *Hub) snapshot(authedOnly bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if authedOnly && !c.IsAuthenticated() {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (h *Hub) userSessions(userID uuid.UUID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// leaveVoiceOnDisconnect removes the user from whichever voice room holds it and notifies the survivors.
func (h *Hub) leaveVoiceOnDisconnect(userID uuid.UUID) {
	channelID, closedProducers, found := h.rooms.LeaveAll(userID)
	if !found {
		return
	}
	for _, producerID := range closedProducers {
		h.sendToRoom(channelID, userID, EventProducerClosed, producerClosedPayload{ProducerID: producerID, UserID: userID})
	}
	h.BroadcastToAuthenticated(EventUserLeftVoice, voiceMembershipPayload{ChannelID: channelID, UserID: userID})
	h.broadcastVoiceParticipants(channelID)
}

// broadcastVoiceParticipants pushes a room's current voice states to every authenticated session.
func (h *Hub) broadcastVoiceParticipants(channelID uuid.UUID) {
	h.BroadcastToAuthenticated(EventVoiceParticipantsList, voiceParticipantsPayload{
		ChannelID:    channelID,
		Participants: peerViews(h.rooms.Peers(channelID)),
	})
}
