// SPDX-License-Identifier: MIT

// Package registry keys RFB sessions by "host:port", creating them lazily
// on first subscriber and tearing them down when the last subscriber
// leaves.
package registry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/deskbridge/rfbgateway"
)

// Dialer abstracts net.Dial for tests.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// AllowlistFunc reports whether hostPort may be dialed. GetOrCreate
// consults this before ever touching the network.
type AllowlistFunc func(hostPort string) bool

// entry pairs a session with the count of subscribers currently holding it.
type entry struct {
	session  *rfb.Session
	refCount int
}

// Registry is a process-wide keyed map from "host:port" to RFB session.
// Inserts happen only after a successful handshake. A GetOrCreate for a
// key whose handshake is in flight blocks until it finishes; a concurrent
// Lookup sees either no entry or the finished session — never a
// half-initialized entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	pending map[string]*sync.WaitGroup

	dial    Dialer
	allow   AllowlistFunc
	logger  rfb.Logger
	metrics rfb.MetricsCollector
}

// Option configures a Registry.
type Option func(*Registry)

// WithDialer overrides the dialer used to reach upstream servers. Used by
// tests to dial a loopback mock instead of a real TCP address.
func WithDialer(d Dialer) Option {
	return func(r *Registry) { r.dial = d }
}

// WithAllowlist restricts GetOrCreate to the host:port addresses fn
// approves, rejecting everything else before a connection is attempted.
// The default allows any address.
func WithAllowlist(fn AllowlistFunc) Option {
	return func(r *Registry) { r.allow = fn }
}

// WithLogger sets the logger passed to every session created through this
// registry.
func WithLogger(l rfb.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collector passed to every session created
// through this registry.
func WithMetrics(m rfb.MetricsCollector) Option {
	return func(r *Registry) { r.metrics = m }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		pending: make(map[string]*sync.WaitGroup),
		dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
		allow:   func(string) bool { return true },
		logger:  &rfb.NoOpLogger{},
		metrics: &rfb.NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(host, port string) string {
	return fmt.Sprintf("%s:%s", host, port)
}

// GetOrCreate returns the existing session for host:port if one is already
// running, incrementing its subscriber reference count. Otherwise it dials
// the upstream, drives the handshake, and inserts a new entry on success.
// Concurrent calls for the same key perform the handshake at most once;
// every caller observes the same session. Addresses rejected by the
// registry's allowlist are refused before any connection is attempted.
func (r *Registry) GetOrCreate(ctx context.Context, host, port string) (*rfb.Session, error) {
	k := key(host, port)

	if !r.allow(k) {
		return nil, fmt.Errorf("registry: upstream %s is not in the allowlist", k)
	}

	for {
		r.mu.Lock()
		if e, ok := r.entries[k]; ok && e.session.State() == rfb.StateReady {
			e.refCount++
			r.mu.Unlock()
			return e.session, nil
		}
		if wg, ok := r.pending[k]; ok {
			r.mu.Unlock()
			wg.Wait()
			continue
		}

		wg := &sync.WaitGroup{}
		wg.Add(1)
		r.pending[k] = wg
		r.mu.Unlock()

		session, err := r.connect(ctx, host, port)

		r.mu.Lock()
		delete(r.pending, k)
		if err == nil {
			r.entries[k] = &entry{session: session, refCount: 1}
			r.metrics.Gauge("active_sessions", float64(1))
		}
		r.mu.Unlock()
		wg.Done()

		return session, err
	}
}

func (r *Registry) connect(ctx context.Context, host, port string) (*rfb.Session, error) {
	addr := net.JoinHostPort(host, port)
	logger := rfb.WithSession(r.logger, host, port)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := r.dial(dialCtx, "tcp", addr)
	if err != nil {
		logger.Warn("failed to dial upstream", rfb.ErrorField(err))
		return nil, fmt.Errorf("registry: dial %s: %w", addr, err)
	}

	session, err := rfb.NewSession(dialCtx, host, port, conn, rfb.SessionConfig{
		Logger:  r.logger,
		Metrics: r.metrics,
	})
	if err != nil {
		logger.Warn("handshake failed", rfb.ErrorField(err))
		conn.Close()
		return nil, err
	}
	logger.Info("session established")
	return session, nil
}

// Release is called when a subscriber leaves. If the subscriber set for
// that session is then empty, the session is closed and the entry removed.
// Removal is idempotent: calling Release twice for the same key closes the
// session on the first call and is a no-op on the second.
func (r *Registry) Release(host, port string) {
	k := key(host, port)

	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refCount--
	var toClose *rfb.Session
	if e.refCount <= 0 {
		delete(r.entries, k)
		toClose = e.session
		r.metrics.Gauge("active_sessions", float64(-1))
	}
	r.mu.Unlock()

	if toClose != nil {
		rfb.WithSession(r.logger, host, port).Info("session closed")
		toClose.Close()
	}
}

// Lookup returns the session currently registered for host:port, if any,
// without affecting its reference count.
func (r *Registry) Lookup(host, port string) (*rfb.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key(host, port)]
	if !ok {
		return nil, false
	}
	return e.session, true
}
