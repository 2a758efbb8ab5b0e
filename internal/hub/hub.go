// SPDX-License-Identifier: MIT

// Package hub is the subscriber channel adapter: it upgrades an HTTP
// connection to a gorilla/websocket duplex JSON channel per §4.7, decodes
// inbound pointer/key/request_full_frame messages into input.Surface
// calls, and relays the per-session broadcaster's outbound frames back to
// the subscriber.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deskbridge/rfbgateway"
	"github.com/deskbridge/rfbgateway/internal/broadcast"
	"github.com/deskbridge/rfbgateway/internal/imagecodec"
	"github.com/deskbridge/rfbgateway/internal/input"
	"github.com/deskbridge/rfbgateway/internal/registry"
)

const (
	defaultBroadcastInterval    = 33 * time.Millisecond
	defaultLargeAreaRatio       = 0.20
	defaultJPEGQualityLarge     = 65
	defaultJPEGQualityNormal    = 85
	defaultJPEGQualityFullFrame = 85
)

// inboundMessage is the subscriber-to-core JSON shape from spec §4.7.
type inboundMessage struct {
	Type       string `json:"type"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	ButtonMask int    `json:"buttonMask"`
	Key        string `json:"key"`
	Down       bool   `json:"down"`
}

// wsSubscriber adapts a *websocket.Conn to broadcast.Subscriber. gorilla's
// Conn forbids concurrent writers, so every send is serialized behind
// sendMu — the same single-writer discipline the upstream RFB socket
// requires.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func (w *wsSubscriber) ID() string { return w.id }

func (w *wsSubscriber) Send(msg broadcast.Message) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	return w.conn.WriteJSON(msg)
}

// Hub owns one Broadcaster per "host:port" session and upgrades incoming
// HTTP requests into subscriber websocket connections.
type Hub struct {
	registry *registry.Registry
	encoder  imagecodec.Encoder
	logger   rfb.Logger
	metrics  rfb.MetricsCollector
	upgrader websocket.Upgrader

	broadcastInterval    time.Duration
	largeAreaRatio       float64
	jpegQualityLarge     int
	jpegQualityNormal    int
	jpegQualityFullFrame int

	mu           sync.Mutex
	broadcasters map[string]*broadcast.Broadcaster
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(l rfb.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics sets the hub's metrics collector.
func WithMetrics(m rfb.MetricsCollector) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithBroadcastInterval overrides the per-session broadcaster's tick
// interval for every broadcaster this Hub creates.
func WithBroadcastInterval(d time.Duration) Option {
	return func(h *Hub) { h.broadcastInterval = d }
}

// WithLargeAreaRatio overrides the dirty-bbox area ratio broadcasters use
// to choose between JPEGQualityLarge and JPEGQualityNormal.
func WithLargeAreaRatio(ratio float64) Option {
	return func(h *Hub) { h.largeAreaRatio = ratio }
}

// WithJPEGQualities overrides the JPEG quality broadcasters use for large
// dirty regions, normal dirty regions, and request_full_frame snapshots.
func WithJPEGQualities(large, normal, fullFrame int) Option {
	return func(h *Hub) {
		h.jpegQualityLarge = large
		h.jpegQualityNormal = normal
		h.jpegQualityFullFrame = fullFrame
	}
}

// New constructs a Hub backed by reg.
func New(reg *registry.Registry, encoder imagecodec.Encoder, opts ...Option) *Hub {
	h := &Hub{
		registry:             reg,
		encoder:              encoder,
		logger:               &rfb.NoOpLogger{},
		metrics:              &rfb.NoOpMetrics{},
		broadcasters:         make(map[string]*broadcast.Broadcaster),
		broadcastInterval:    defaultBroadcastInterval,
		largeAreaRatio:       defaultLargeAreaRatio,
		jpegQualityLarge:     defaultJPEGQualityLarge,
		jpegQualityNormal:    defaultJPEGQualityNormal,
		jpegQualityFullFrame: defaultJPEGQualityFullFrame,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func key(host, port string) string { return host + ":" + port }

// broadcasterFor returns the Broadcaster for host:port, creating one tied
// to session on first use. The broadcaster's onEmpty callback releases
// the session back to the registry when the last subscriber leaves.
func (h *Hub) broadcasterFor(host, port string, session *rfb.Session) *broadcast.Broadcaster {
	k := key(host, port)

	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.broadcasters[k]; ok {
		return b
	}

	b := broadcast.New(session, h.encoder,
		broadcast.WithLogger(h.logger),
		broadcast.WithMetrics(h.metrics),
		broadcast.WithInterval(h.broadcastInterval),
		broadcast.WithLargeAreaRatio(h.largeAreaRatio),
		broadcast.WithJPEGQualityLarge(h.jpegQualityLarge),
		broadcast.WithJPEGQualityNormal(h.jpegQualityNormal),
		broadcast.WithJPEGQualityFullFrame(h.jpegQualityFullFrame),
		broadcast.WithOnEmpty(func() {
			h.mu.Lock()
			delete(h.broadcasters, k)
			h.mu.Unlock()
			h.registry.Release(host, port)
		}),
	)
	h.broadcasters[k] = b
	return b
}

// Serve upgrades the request to a websocket connection for the session at
// host:port, attaches it to that session's broadcaster, and services
// inbound input messages until the connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, host, port string) {
	ctx := r.Context()

	logger := rfb.WithSession(h.logger, host, port)

	session, err := h.registry.GetOrCreate(ctx, host, port)
	if err != nil {
		logger.Warn("session unavailable for subscriber", rfb.ErrorField(err))
		conn, upErr := h.upgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		_ = conn.WriteJSON(broadcast.Message{Type: "error", Message: "VNC connection failed"})
		conn.Close()
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.registry.Release(host, port)
		return
	}

	sub := &wsSubscriber{id: uuid.NewString(), conn: conn}
	b := h.broadcasterFor(host, port, session)
	b.Attach(sub)
	h.metrics.Gauge("active_subscribers", float64(1))

	surface := input.New(session, logger)

	defer func() {
		b.Detach(sub.ID())
		h.metrics.Gauge("active_subscribers", float64(-1))
		h.registry.Release(host, port)
		conn.Close()
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.dispatch(ctx, surface, b, sub, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, surface *input.Surface, b *broadcast.Broadcaster, sub *wsSubscriber, msg inboundMessage) {
	switch msg.Type {
	case "pointer":
		mask := rfb.ButtonMask(msg.ButtonMask)
		_ = surface.Move(ctx, toUint16(msg.X), toUint16(msg.Y), &mask)
	case "key":
		_ = surface.SendKeyEvent(ctx, msg.Key, msg.Down)
	case "request_full_frame":
		if err := b.RequestFullFrame(sub); err != nil {
			h.logger.Debug("request_full_frame failed", rfb.ErrorField(err))
		}
	default:
		h.logger.Debug("ignoring unknown subscriber message type", rfb.Field{Key: "type", Value: msg.Type})
	}
}

// toUint16 clamps an arbitrary subscriber-supplied coordinate into the
// uint16 range before it reaches Session.PointerEvent, which clamps again
// against the live framebuffer bounds. Clamping here (rather than a plain
// truncating conversion) avoids wraparound on out-of-range input.
func toUint16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
