package sfu

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jiyeyuran/mediasoup-go"
	"github.com/rs/zerolog"
)

// MediasoupConfig carries the worker and transport settings for the mediasoup engine.
type MediasoupConfig struct {
	// WorkerBin is the path to the mediasoup-worker binary. Empty uses the library default.
	WorkerBin string

	// ListenIP is the address transports bind to.
	ListenIP string

	// AnnouncedIP is the address advertised in ICE candidates, for hosts behind NAT.
	AnnouncedIP string

	RtcMinPort uint16
	RtcMaxPort uint16

	// InitialBitrate seeds the transport's outgoing bandwidth estimate, in bps. Zero uses the library default.
	InitialBitrate int
}

// defaultMediaCodecs covers the codecs browsers negotiate by default: Opus for voice, VP8 for camera and screen.
var defaultMediaCodecs = []*mediasoup.RtpCodecCapability{
	{
		Kind:      mediasoup.MediaKind_Audio,
		MimeType:  "audio/opus",
		ClockRate: 48000,
		Channels:  2,
	},
	{
		Kind:      mediasoup.MediaKind_Video,
		MimeType:  "video/VP8",
		ClockRate: 90000,
	},
}

// MediasoupEngine runs voice rooms on a mediasoup worker process.
type MediasoupEngine struct {
	worker *mediasoup.Worker
	cfg    MediasoupConfig
	log    zerolog.Logger
}

// NewMediasoupEngine spawns the worker process.
func NewMediasoupEngine(cfg MediasoupConfig, logger zerolog.Logger) (*MediasoupEngine, error) {
	if cfg.WorkerBin != "" {
		mediasoup.WorkerBin = cfg.WorkerBin
	}

	var opts []mediasoup.Option
	if cfg.RtcMinPort > 0 {
		opts = append(opts, mediasoup.WithRtcMinPort(cfg.RtcMinPort))
	}
	if cfg.RtcMaxPort > 0 {
		opts = append(opts, mediasoup.WithRtcMaxPort(cfg.RtcMaxPort))
	}

	worker, err := mediasoup.NewWorker(opts...)
	if err != nil {
		return nil, fmt.Errorf("start mediasoup worker: %w", err)
	}

	log := logger.With().Str("component", "mediasoup").Logger()
	worker.On("died", func() {
		log.Error().Msg("mediasoup worker died")
	})
	return &MediasoupEngine{worker: worker, cfg: cfg, log: log}, nil
}

// NewRouter allocates a router on the worker.
func (e *MediasoupEngine) NewRouter(_ context.Context) (Router, error) {
	router, err := e.worker.CreateRouter(mediasoup.RouterOptions{MediaCodecs: defaultMediaCodecs})
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	return &mediasoupRouter{router: router, cfg: e.cfg}, nil
}

// Close shuts the worker process down.
func (e *MediasoupEngine) Close() error {
	e.worker.Close()
	return nil
}

type mediasoupRouter struct {
	router *mediasoup.Router
	cfg    MediasoupConfig
}

func (r *mediasoupRouter) RtpCapabilities() json.RawMessage {
	return mustJSON(r.router.RtpCapabilities())
}

func (r *mediasoupRouter) CreateTransport(_ context.Context) (Transport, error) {
	listenIP := r.cfg.ListenIP
	if listenIP == "" {
		listenIP = "0.0.0.0"
	}
	opts := mediasoup.WebRtcTransportOptions{
		ListenIps: []mediasoup.TransportListenIp{{Ip: listenIP, AnnouncedIp: r.cfg.AnnouncedIP}},
		EnableUdp: mediasoup.Bool(true),
		EnableTcp: true,
		PreferUdp: true,
	}
	if r.cfg.InitialBitrate > 0 {
		opts.InitialAvailableOutgoingBitrate = r.cfg.InitialBitrate
	}
	t, err := r.router.CreateWebRtcTransport(opts)
	if err != nil {
		return nil, err
	}
	return &mediasoupTransport{transport: t}, nil
}

func (r *mediasoupRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	return r.router.CanConsume(producerID, caps)
}

func (r *mediasoupRouter) Close() {
	r.router.Close()
}

type mediasoupTransport struct {
	transport *mediasoup.WebRtcTransport
}

func (t *mediasoupTransport) ID() string {
	return t.transport.Id()
}

func (t *mediasoupTransport) Options() TransportOptions {
	return TransportOptions{
		ID:             t.transport.Id(),
		IceParameters:  mustJSON(t.transport.IceParameters()),
		IceCandidates:  mustJSON(t.transport.IceCandidates()),
		DtlsParameters: mustJSON(t.transport.DtlsParameters()),
	}
}

func (t *mediasoupTransport) Connect(dtlsParameters json.RawMessage) error {
	var dtls mediasoup.DtlsParameters
	if err := json.Unmarshal(dtlsParameters, &dtls); err != nil {
		return fmt.Errorf("parse dtls parameters: %w", err)
	}
	return t.transport.Connect(mediasoup.TransportConnectOptions{DtlsParameters: &dtls})
}

func (t *mediasoupTransport) Produce(kind string, rtpParameters json.RawMessage) (Producer, error) {
	var params mediasoup.RtpParameters
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return nil, fmt.Errorf("parse rtp parameters: %w", err)
	}
	p, err := t.transport.Produce(mediasoup.ProducerOptions{
		Kind:          mediasoup.MediaKind(kind),
		RtpParameters: params,
	})
	if err != nil {
		return nil, err
	}
	return &mediasoupProducer{producer: p}, nil
}

func (t *mediasoupTransport) Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error) {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return nil, fmt.Errorf("parse rtp capabilities: %w", err)
	}
	c, err := t.transport.Consume(mediasoup.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: caps,
		Paused:          true,
	})
	if err != nil {
		return nil, err
	}
	return &mediasoupConsumer{consumer: c}, nil
}

func (t *mediasoupTransport) Close() {
	t.transport.Close()
}

type mediasoupProducer struct {
	producer *mediasoup.Producer
}

func (p *mediasoupProducer) ID() string    { return p.producer.Id() }
func (p *mediasoupProducer) Kind() string  { return string(p.producer.Kind()) }
func (p *mediasoupProducer) Pause() error  { return p.producer.Pause() }
func (p *mediasoupProducer) Resume() error { return p.producer.Resume() }
func (p *mediasoupProducer) Close()        { p.producer.Close() }

type mediasoupConsumer struct {
	consumer *mediasoup.Consumer
}

func (c *mediasoupConsumer) ID() string         { return c.consumer.Id() }
func (c *mediasoupConsumer) ProducerID() string { return c.consumer.ProducerId() }
func (c *mediasoupConsumer) Kind() string       { return string(c.consumer.Kind()) }
func (c *mediasoupConsumer) Resume() error      { return c.consumer.Resume() }
func (c *mediasoupConsumer) Close()             { c.consumer.Close() }

func (c *mediasoupConsumer) RtpParameters() json.RawMessage {
	return mustJSON(c.consumer.RtpParameters())
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
