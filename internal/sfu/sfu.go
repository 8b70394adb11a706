package sfu

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for the sfu package.
var (
	ErrRoomNotFound      = errors.New("voice room not found")
	ErrPeerNotFound      = errors.New("peer not in room")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrCannotConsume     = errors.New("peer capabilities cannot consume this producer")
	ErrAlreadyJoined     = errors.New("peer already in room")
	ErrInvalidSource     = errors.New("producer source must be mic, screen, or camera")
)

// Media kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Producer sources. The source tells clients what a track is (microphone, screen share, webcam) and tells the
// coordinator which producers the mute flag gates: only the mic.
const (
	SourceMic    = "mic"
	SourceScreen = "screen"
	SourceCamera = "camera"
)

// Engine abstracts the media engine so the room coordinator and its tests do not depend on a live worker process.
// Parameter payloads stay as raw JSON: the coordinator shuttles them between clients and the engine without
// interpreting them.
type Engine interface {
	// NewRouter allocates a media router for one room.
	NewRouter(ctx context.Context) (Router, error)

	// Close shuts the engine down, closing all routers.
	Close() error
}

// Router is one room's media routing context.
type Router interface {
	// RtpCapabilities returns the router capabilities a client needs before it can produce or consume.
	RtpCapabilities() json.RawMessage

	// CreateTransport allocates a WebRTC transport and returns the parameters the client needs to connect it.
	CreateTransport(ctx context.Context) (Transport, error)

	// CanConsume reports whether a client with the given capabilities can consume the producer.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	Close()
}

// TransportOptions are handed to the client to establish its side of a transport.
type TransportOptions struct {
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

// Transport is one peer-side WebRTC transport. A peer typically holds one for sending and one for receiving.
type Transport interface {
	ID() string
	Options() TransportOptions

	// Connect finishes the DTLS handshake with the client's parameters.
	Connect(dtlsParameters json.RawMessage) error

	// Produce attaches a client media track to the router.
	Produce(kind string, rtpParameters json.RawMessage) (Producer, error)

	// Consume attaches the peer to another peer's producer. Consumers start paused; the client resumes after it has
	// wired its side, so no media is lost to a half-open pipeline.
	Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error)

	Close()
}

// Producer is one media track flowing from a peer into the router.
type Producer interface {
	ID() string
	Kind() string
	Pause() error
	Resume() error
	Close()
}

// Consumer is one media track flowing from the router out to a peer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	RtpParameters() json.RawMessage
	Resume() error
	Close()
}
