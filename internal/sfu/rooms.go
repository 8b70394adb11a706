package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PeerInfo is the voice-state view of one peer, broadcast to the room whenever it changes.
type PeerInfo struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Muted    bool      `json:"muted"`
	Deafened bool      `json:"deafened"`
}

// ProducerInfo identifies a remote producer a joining peer may consume.
type ProducerInfo struct {
	ProducerID string    `json:"producerId"`
	UserID     uuid.UUID `json:"userId"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
}

// ConsumerParams are handed to the client after Consume. The consumer is paused until the client resumes it.
type ConsumerParams struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

// JoinResult is returned to a joining peer: the router capabilities it needs to negotiate, the producers already in
// the room, and the room's current voice states.
type JoinResult struct {
	RtpCapabilities json.RawMessage
	Producers       []ProducerInfo
	Peers           []PeerInfo
}

// track pairs a producer with the source the client declared for it.
type track struct {
	producer Producer
	source   string
}

type peer struct {
	userID     uuid.UUID
	username   string
	transports map[string]Transport
	producers  map[string]*track
	consumers  map[string]Consumer
	muted      bool
	deafened   bool
}

func (p *peer) info() PeerInfo {
	return PeerInfo{UserID: p.userID, Username: p.username, Muted: p.muted, Deafened: p.deafened}
}

// silenced reports whether the peer's microphone should be paused. Deafening silences the mic too so a deafened
// peer is never audible while unable to hear replies.
func (p *peer) silenced() bool {
	return p.muted || p.deafened
}

type room struct {
	channelID uuid.UUID
	router    Router
	peers     map[uuid.UUID]*peer
}

// Rooms coordinates voice rooms over a media engine. One router is allocated per channel on first join and released
// when the last peer leaves. All state is guarded by one mutex; engine calls are quick control-plane operations, the
// media itself never passes through this process's Go side.
type Rooms struct {
	engine Engine
	log    zerolog.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

// NewRooms creates the voice room coordinator.
func NewRooms(engine Engine, logger zerolog.Logger) *Rooms {
	return &Rooms{
		engine: engine,
		log:    logger.With().Str("component", "voice").Logger(),
		rooms:  map[uuid.UUID]*room{},
	}
}

// Join adds the user to the channel's room, creating the room on first join.
func (r *Rooms) Join(ctx context.Context, channelID, userID uuid.UUID, username string) (*JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[channelID]
	if !ok {
		router, err := r.engine.NewRouter(ctx)
		if err != nil {
			return nil, fmt.Errorf("create voice router: %w", err)
		}
		rm = &room{channelID: channelID, router: router, peers: map[uuid.UUID]*peer{}}
		r.rooms[channelID] = rm
		r.log.Info().Str("channel", channelID.String()).Msg("voice room created")
	}
	if _, joined := rm.peers[userID]; joined {
		return nil, ErrAlreadyJoined
	}

	rm.peers[userID] = &peer{
		userID:     userID,
		username:   username,
		transports: map[string]Transport{},
		producers:  map[string]*track{},
		consumers:  map[string]Consumer{},
	}

	result := &JoinResult{RtpCapabilities: rm.router.RtpCapabilities()}
	for _, p := range rm.peers {
		result.Peers = append(result.Peers, p.info())
		if p.userID == userID {
			continue
		}
		for _, tr := range p.producers {
			result.Producers = append(result.Producers, ProducerInfo{
				ProducerID: tr.producer.ID(),
				UserID:     p.userID,
				Kind:       tr.producer.Kind(),
				Source:     tr.source,
			})
		}
	}
	return result, nil
}

// Leave removes the user from the room, closing everything it owns. It returns the ids of the producers that
// disappeared so the caller can notify the remaining peers, and whether the room became empty.
func (r *Rooms) Leave(channelID, userID uuid.UUID) (closedProducers []string, empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return nil, false, err
	}

	for id, tr := range p.producers {
		closedProducers = append(closedProducers, id)
		tr.producer.Close()
	}
	for _, c := range p.consumers {
		c.Close()
	}
	for _, t := range p.transports {
		t.Close()
	}
	delete(rm.peers, userID)

	if len(rm.peers) == 0 {
		rm.router.Close()
		delete(r.rooms, channelID)
		r.log.Info().Str("channel", channelID.String()).Msg("voice room released")
		return closedProducers, true, nil
	}
	return closedProducers, false, nil
}

// LeaveAll removes the user from whichever room holds it, used on disconnect when the gateway no longer knows the
// channel. Returns the room's channel id when the user was in one.
func (r *Rooms) LeaveAll(userID uuid.UUID) (channelID uuid.UUID, closedProducers []string, found bool) {
	r.mu.Lock()
	var target uuid.UUID
	for id, rm := range r.rooms {
		if _, ok := rm.peers[userID]; ok {
			target = id
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return uuid.Nil, nil, false
	}
	closed, _, err := r.Leave(target, userID)
	if err != nil {
		return uuid.Nil, nil, false
	}
	return target, closed, true
}

// CreateTransport allocates a WebRTC transport for the peer.
func (r *Rooms) CreateTransport(ctx context.Context, channelID, userID uuid.UUID) (TransportOptions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return TransportOptions{}, err
	}
	t, err := rm.router.CreateTransport(ctx)
	if err != nil {
		return TransportOptions{}, fmt.Errorf("create transport: %w", err)
	}
	p.transports[t.ID()] = t
	return t.Options(), nil
}

// ConnectTransport finishes the DTLS handshake for one of the peer's transports.
func (r *Rooms) ConnectTransport(channelID, userID uuid.UUID, transportID string, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return err
	}
	t, ok := p.transports[transportID]
	if !ok {
		return ErrTransportNotFound
	}
	return t.Connect(dtlsParameters)
}

// Produce attaches a client track. A mic producer starts paused when the peer is muted or deafened, so flipping mute
// before producing cannot leak audio. Screen and camera producers are never gated by the voice-state flags.
func (r *Rooms) Produce(channelID, userID uuid.UUID, transportID, kind, source string, rtpParameters json.RawMessage) (ProducerInfo, error) {
	source, err := normalizeSource(kind, source)
	if err != nil {
		return ProducerInfo{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return ProducerInfo{}, err
	}
	t, ok := p.transports[transportID]
	if !ok {
		return ProducerInfo{}, ErrTransportNotFound
	}

	prod, err := t.Produce(kind, rtpParameters)
	if err != nil {
		return ProducerInfo{}, fmt.Errorf("produce %s: %w", kind, err)
	}
	if source == SourceMic && p.silenced() {
		if err := prod.Pause(); err != nil {
			prod.Close()
			return ProducerInfo{}, fmt.Errorf("pause silenced producer: %w", err)
		}
	}
	p.producers[prod.ID()] = &track{producer: prod, source: source}
	return ProducerInfo{ProducerID: prod.ID(), UserID: userID, Kind: prod.Kind(), Source: source}, nil
}

// normalizeSource validates a declared source and fills in the default for clients that omit it: audio tracks are
// microphones, video tracks are cameras.
func normalizeSource(kind, source string) (string, error) {
	switch source {
	case SourceMic, SourceScreen, SourceCamera:
		return source, nil
	case "":
		if kind == KindAudio {
			return SourceMic, nil
		}
		return SourceCamera, nil
	default:
		return "", ErrInvalidSource
	}
}

// CloseProducer tears down one of the peer's own producers, for ending a screen share without leaving the room.
func (r *Rooms) CloseProducer(channelID, userID uuid.UUID, producerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return err
	}
	tr, ok := p.producers[producerID]
	if !ok {
		return ErrProducerNotFound
	}
	tr.producer.Close()
	delete(p.producers, producerID)
	return nil
}

// Consume attaches the peer to a remote producer. The consumer is created paused.
func (r *Rooms) Consume(channelID, userID uuid.UUID, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return ConsumerParams{}, err
	}
	t, ok := p.transports[transportID]
	if !ok {
		return ConsumerParams{}, ErrTransportNotFound
	}
	if !rm.router.CanConsume(producerID, rtpCapabilities) {
		return ConsumerParams{}, ErrCannotConsume
	}

	c, err := t.Consume(producerID, rtpCapabilities)
	if err != nil {
		return ConsumerParams{}, fmt.Errorf("consume producer %s: %w", producerID, err)
	}
	p.consumers[c.ID()] = c
	return ConsumerParams{ID: c.ID(), ProducerID: c.ProducerID(), Kind: c.Kind(), RtpParameters: c.RtpParameters()}, nil
}

// ResumeConsumer unpauses a consumer once the client has wired its side.
func (r *Rooms) ResumeConsumer(channelID, userID uuid.UUID, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return err
	}
	c, ok := p.consumers[consumerID]
	if !ok {
		return ErrConsumerNotFound
	}
	return c.Resume()
}

// SetMute flips the peer's mute flag and pauses or resumes its mic producers accordingly. Screen and camera
// producers are untouched; mute only gates the microphone.
func (r *Rooms) SetMute(channelID, userID uuid.UUID, muted bool) (PeerInfo, error) {
	return r.setVoiceState(channelID, userID, func(p *peer) { p.muted = muted })
}

// SetDeafen flips the peer's deafen flag. Deafening also silences the microphone.
func (r *Rooms) SetDeafen(channelID, userID uuid.UUID, deafened bool) (PeerInfo, error) {
	return r.setVoiceState(channelID, userID, func(p *peer) { p.deafened = deafened })
}

func (r *Rooms) setVoiceState(channelID, userID uuid.UUID, apply func(*peer)) (PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p, err := r.peerLocked(channelID, userID)
	if err != nil {
		return PeerInfo{}, err
	}

	apply(p)
	for _, tr := range p.producers {
		if tr.source != SourceMic {
			continue
		}
		if p.silenced() {
			err = tr.producer.Pause()
		} else {
			err = tr.producer.Resume()
		}
		if err != nil {
			return PeerInfo{}, fmt.Errorf("update producer pause state: %w", err)
		}
	}
	return p.info(), nil
}

// Producers returns every producer in the room owned by someone other than userID, for the late-join catch-up
// request clients issue after their receive transport is ready.
func (r *Rooms) Producers(channelID, userID uuid.UUID) ([]ProducerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, _, err := r.peerLocked(channelID, userID)
	if err != nil {
		return nil, err
	}
	var infos []ProducerInfo
	for _, p := range rm.peers {
		if p.userID == userID {
			continue
		}
		for _, tr := range p.producers {
			infos = append(infos, ProducerInfo{
				ProducerID: tr.producer.ID(),
				UserID:     p.userID,
				Kind:       tr.producer.Kind(),
				Source:     tr.source,
			})
		}
	}
	return infos, nil
}

// Peers returns the current voice states of a room, or nil when the room does not exist.
func (r *Rooms) Peers(channelID uuid.UUID) []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[channelID]
	if !ok {
		return nil
	}
	infos := make([]PeerInfo, 0, len(rm.peers))
	for _, p := range rm.peers {
		infos = append(infos, p.info())
	}
	return infos
}

// Members returns the user ids currently in the room, used to fan events out to room members only.
func (r *Rooms) Members(channelID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[channelID]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(rm.peers))
	for id := range rm.peers {
		ids = append(ids, id)
	}
	return ids
}

func (r *Rooms) peerLocked(channelID, userID uuid.UUID) (*room, *peer, error) {
	rm, ok := r.rooms[channelID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	p, ok := rm.peers[userID]
	if !ok {
		return nil, nil, ErrPeerNotFound
	}
	return rm, p, nil
}
