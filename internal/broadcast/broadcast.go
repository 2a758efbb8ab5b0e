// SPDX-License-Identifier: MIT

// Package broadcast runs one coalescing fan-out loop per RFB session: it
// waits for dirty-region signals, snapshots the union bounding box,
// JPEG-encodes it, and pushes update messages to every attached
// subscriber at a ceiling of roughly 30 frames per second.
package broadcast

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/deskbridge/rfbgateway"
	"github.com/deskbridge/rfbgateway/internal/imagecodec"
)

const (
	defaultInterval      = 33 * time.Millisecond
	largeAreaRatio       = 0.20
	jpegQualityLarge     = 65
	jpegQualityNormal    = 85
	jpegQualityFullFrame = 85
)

// Message is one frame of the subscriber channel protocol sent from the
// gateway to a subscriber.
type Message struct {
	Type    string `json:"type"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Subscriber is anything that can receive outbound Messages and be
// identified for removal when its send fails. internal/hub's websocket
// wrapper implements this.
type Subscriber interface {
	ID() string
	Send(Message) error
}

// Broadcaster owns the coalescing loop for one rfb.Session. It is started
// the first time a subscriber attaches and exits once its subscriber set
// is empty again or the session closes.
type Broadcaster struct {
	session *rfb.Session
	encoder imagecodec.Encoder
	logger  rfb.Logger
	metrics rfb.MetricsCollector
	interval time.Duration

	largeAreaRatio       float64
	jpegQualityLarge     int
	jpegQualityNormal    int
	jpegQualityFullFrame int

	mu          sync.Mutex
	subscribers map[string]Subscriber
	running     bool

	onEmpty func()
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithInterval overrides the tick interval. Defaults to ~33ms (30fps).
func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) { b.interval = d }
}

// WithLogger sets the broadcaster's logger.
func WithLogger(l rfb.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// WithMetrics sets the broadcaster's metrics collector.
func WithMetrics(m rfb.MetricsCollector) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithOnEmpty registers a callback invoked each time the loop exits: after
// a tick that leaves the subscriber set empty, or when the session closes.
// The hub uses this to release the session back to the registry.
func WithOnEmpty(fn func()) Option {
	return func(b *Broadcaster) { b.onEmpty = fn }
}

// WithLargeAreaRatio overrides the dirty-bbox-to-framebuffer area ratio
// above which ticks encode at jpegQualityLarge instead of jpegQualityNormal.
func WithLargeAreaRatio(ratio float64) Option {
	return func(b *Broadcaster) { b.largeAreaRatio = ratio }
}

// WithJPEGQualityLarge overrides the JPEG quality used for updates whose
// dirty bounding box exceeds the large-area ratio.
func WithJPEGQualityLarge(quality int) Option {
	return func(b *Broadcaster) { b.jpegQualityLarge = quality }
}

// WithJPEGQualityNormal overrides the JPEG quality used for updates below
// the large-area ratio.
func WithJPEGQualityNormal(quality int) Option {
	return func(b *Broadcaster) { b.jpegQualityNormal = quality }
}

// WithJPEGQualityFullFrame overrides the JPEG quality used for
// RequestFullFrame snapshots.
func WithJPEGQualityFullFrame(quality int) Option {
	return func(b *Broadcaster) { b.jpegQualityFullFrame = quality }
}

// New constructs a Broadcaster for session. The loop is not started until
// Attach is called for the first time.
func New(session *rfb.Session, encoder imagecodec.Encoder, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		session:              session,
		encoder:              encoder,
		logger:               &rfb.NoOpLogger{},
		metrics:              &rfb.NoOpMetrics{},
		interval:             defaultInterval,
		largeAreaRatio:       largeAreaRatio,
		jpegQualityLarge:     jpegQualityLarge,
		jpegQualityNormal:    jpegQualityNormal,
		jpegQualityFullFrame: jpegQualityFullFrame,
		subscribers:          make(map[string]Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach registers a subscriber and starts the loop if this is the first
// one. The loop's lifetime is tied to the session, not to any individual
// subscriber's own connection — one subscriber disconnecting must never
// tear down the broadcaster out from under the others.
func (b *Broadcaster) Attach(sub Subscriber) {
	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	shouldStart := !b.running
	if shouldStart {
		b.running = true
	}
	b.mu.Unlock()

	width, height := b.session.Size()
	_ = sub.Send(Message{Type: "connected", Width: int(width), Height: int(height)})

	if shouldStart {
		go b.run()
	}
}

// Detach removes a subscriber. It does not itself stop the loop; the loop
// notices an empty subscriber set on its next tick and exits.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// SubscriberCount returns the number of currently attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Broadcaster) run() {
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		if b.onEmpty != nil {
			b.onEmpty()
		}
	}()

	fb := b.session.Framebuffer()

	for {
		timer := time.NewTimer(b.interval)
		select {
		case <-b.session.Done():
			timer.Stop()
			return
		case <-b.session.DirtyCh():
			timer.Stop()
		case <-timer.C:
		}

		b.metrics.Counter("broadcaster_ticks")
		start := time.Now()
		b.tick(fb)
		b.metrics.Histogram("broadcaster_tick_seconds", time.Since(start).Seconds())

		if b.SubscriberCount() == 0 {
			return
		}
	}
}

func (b *Broadcaster) tick(fb *rfb.Framebuffer) {
	dirty := fb.TakeDirty()
	if len(dirty) == 0 {
		return
	}

	bbox := rfb.BoundingBox(dirty)
	if bbox.W == 0 || bbox.H == 0 {
		return
	}

	pixels, err := fb.SnapshotBBox(bbox)
	if err != nil {
		b.logger.Error("failed to snapshot dirty bounding box", rfb.ErrorField(err))
		return
	}

	width, height := fb.Size()
	quality := b.jpegQualityNormal
	area := float64(bbox.W) * float64(bbox.H)
	total := float64(width) * float64(height)
	if total > 0 && area/total > b.largeAreaRatio {
		quality = b.jpegQualityLarge
	}

	jpegBytes, err := b.encoder.EncodeJPEG(pixels, int(bbox.W), int(bbox.H), quality)
	if err != nil {
		b.logger.Error("failed to encode update JPEG", rfb.ErrorField(err))
		return
	}

	msg := Message{
		Type: "update",
		X:    int(bbox.X),
		Y:    int(bbox.Y),
		Data: base64.StdEncoding.EncodeToString(jpegBytes),
	}

	b.fanOut(msg)
}

// RequestFullFrame snapshots the entire framebuffer at the full-frame JPEG
// quality (85 unless set by WithJPEGQualityFullFrame) and sends it to a
// single subscriber, per the subscriber channel protocol's
// request_full_frame message.
func (b *Broadcaster) RequestFullFrame(sub Subscriber) error {
	fb := b.session.Framebuffer()
	width, height := fb.Size()

	pixels, err := fb.SnapshotBBox(rfb.Rect{X: 0, Y: 0, W: width, H: height})
	if err != nil {
		return err
	}

	jpegBytes, err := b.encoder.EncodeJPEG(pixels, int(width), int(height), b.jpegQualityFullFrame)
	if err != nil {
		return err
	}

	return sub.Send(Message{
		Type: "frame",
		X:    0,
		Y:    0,
		Data: base64.StdEncoding.EncodeToString(jpegBytes),
	})
}

// fanOut sends msg to every subscriber, dropping (and logging) any whose
// Send fails. A single subscriber error never aborts the tick for others.
func (b *Broadcaster) fanOut(msg Message) {
	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var failed []string
	for _, sub := range targets {
		if err := sub.Send(msg); err != nil {
			b.logger.Debug("dropping subscriber after send failure",
				rfb.Field{Key: "subscriber", Value: sub.ID()},
				rfb.ErrorField(err))
			failed = append(failed, sub.ID())
			continue
		}
		b.metrics.Counter("frames_emitted")
	}

	if len(failed) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range failed {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}
