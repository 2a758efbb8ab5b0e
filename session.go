// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package rfb

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ButtonMask represents the state of pointer buttons in an RFB PointerEvent.
type ButtonMask uint8

// Button mask constants for standard mouse buttons and scroll wheel events.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	Button4
	Button5
)

// SessionState is one state in the session lifecycle:
// Connecting -> Handshaking -> Ready -> Closing -> Closed.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

// String renders the session state for logging.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const maxRectanglesPerUpdate = 10000

// SessionConfig configures a Session's dependencies.
type SessionConfig struct {
	// Logger receives structured log lines for this session. Defaults to
	// NoOpLogger when nil.
	Logger Logger

	// Metrics receives session-scoped instrumentation. Defaults to
	// NoOpMetrics when nil.
	Metrics MetricsCollector
}

// Session owns one TCP connection to an upstream RFB display server. It
// runs the handshake synchronously in NewSession, then a dedicated read
// loop that applies incoming rectangles to its Framebuffer and serializes
// every outbound write behind a single mutex.
type Session struct {
	host string
	port string
	conn net.Conn

	logger  Logger
	metrics MetricsCollector

	fb *Framebuffer

	state atomic.Int32

	writeMu sync.Mutex

	buttonMu   sync.Mutex
	buttonMask ButtonMask

	dirtyCh chan struct{}

	closeOnce sync.Once
	doneCh    chan struct{}

	validator *InputValidator
}

// NewSession dials nothing itself — conn must already be an established
// TCP connection to host:port — and drives the full RFB handshake against
// it before returning. On handshake failure the session is not started and
// the connection is left for the caller to close.
func NewSession(ctx context.Context, host, port string, conn net.Conn, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	s := &Session{
		host:      host,
		port:      port,
		conn:      conn,
		logger:    WithSession(logger, host, port),
		metrics:   metrics,
		dirtyCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		validator: newInputValidator(),
	}
	s.state.Store(int32(StateConnecting))

	if err := s.handshake(ctx); err != nil {
		s.state.Store(int32(StateClosed))
		return nil, err
	}

	s.state.Store(int32(StateReady))
	go s.readLoop()

	return s, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Size returns the current framebuffer dimensions.
func (s *Session) Size() (width, height uint16) {
	return s.fb.Size()
}

// HostPort returns the upstream address this session was dialed against,
// for components that need to tag their own logging or metrics with it.
func (s *Session) HostPort() (host, port string) {
	return s.host, s.port
}

// Framebuffer returns the session's framebuffer for read-only access by
// the broadcaster and screenshot handlers.
func (s *Session) Framebuffer() *Framebuffer {
	return s.fb
}

// DirtyCh returns the channel the broadcaster waits on for a dirty signal.
// A receive does not guarantee the dirty log is non-empty (it may have
// been drained by a previous tick); callers must still call TakeDirty.
func (s *Session) DirtyCh() <-chan struct{} {
	return s.dirtyCh
}

// Done returns a channel closed once the session has transitioned to
// Closed.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Session) signalDirty() {
	select {
	case s.dirtyCh <- struct{}{}:
	default:
	}
}

// Close transitions the session to Closing and then Closed, closing the
// underlying socket exactly once. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		err = s.conn.Close()
		s.state.Store(int32(StateClosed))
		close(s.doneCh)
	})
	return err
}

func (s *Session) write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeWithContext(ctx, s.conn, data)
}

// PointerEvent sends a PointerEvent message with the given button mask,
// clamped to the current framebuffer bounds, and remembers mask as the
// session's current button state for future Move calls. No-ops if the
// session is not Ready.
func (s *Session) PointerEvent(ctx context.Context, mask ButtonMask, x, y uint16) error {
	if s.State() != StateReady {
		return nil
	}

	width, height := s.Size()
	cx, cy := s.validator.ClampPointerPosition(int(x), int(y), width, height)

	s.buttonMu.Lock()
	s.buttonMask = mask
	s.buttonMu.Unlock()

	if err := s.write(ctx, encodePointerEvent(mask, cx, cy)); err != nil {
		return networkError("Session.PointerEvent", "failed to send pointer event", err)
	}
	return nil
}

// CurrentButtonMask returns the button mask last sent in a PointerEvent.
func (s *Session) CurrentButtonMask() ButtonMask {
	s.buttonMu.Lock()
	defer s.buttonMu.Unlock()
	return s.buttonMask
}

// KeyEvent sends a KeyEvent message. No-ops if the session is not Ready.
func (s *Session) KeyEvent(ctx context.Context, keysym uint32, down bool) error {
	if s.State() != StateReady {
		return nil
	}
	if err := s.validator.ValidateKeySymbol(keysym); err != nil {
		return err
	}
	if err := s.write(ctx, encodeKeyEvent(keysym, down)); err != nil {
		return networkError("Session.KeyEvent", "failed to send key event", err)
	}
	return nil
}

func (s *Session) requestUpdate(ctx context.Context, incremental bool) error {
	width, height := s.Size()
	data := encodeFramebufferUpdateRequest(incremental, 0, 0, width, height)
	if err := s.write(ctx, data); err != nil {
		return networkError("Session.requestUpdate", "failed to send framebuffer update request", err)
	}
	return nil
}

// handshake performs the RFB handshake per RFC 6143 §7.1–§7.3, in the
// Handshaking state. Any failure here leaves the session un-started; the
// caller must not insert it into the registry.
func (s *Session) handshake(ctx context.Context) error {
	s.state.Store(int32(StateHandshaking))
	s.logger.Info("starting RFB handshake")

	var version [12]byte
	if err := readWithContext(ctx, s.conn, version[:]); err != nil {
		return networkError("Session.handshake", "failed to read protocol version", err)
	}
	if err := s.validator.ValidateProtocolVersion(string(version[:])); err != nil {
		return protocolError("Session.handshake", "server sent invalid protocol version", err)
	}

	if err := writeWithContext(ctx, s.conn, []byte(protocolVersion)); err != nil {
		return networkError("Session.handshake", "failed to send protocol version reply", err)
	}

	var numSecurityTypes uint8
	if err := readBinaryWithContext(ctx, s.conn, &numSecurityTypes); err != nil {
		return networkError("Session.handshake", "failed to read security type count", err)
	}
	if numSecurityTypes == 0 {
		reason := s.readErrorReason(ctx)
		return authenticationError("Session.handshake", fmt.Sprintf("no security types available: %s", reason), nil)
	}

	securityTypes := make([]uint8, numSecurityTypes)
	if err := readBinaryWithContext(ctx, s.conn, securityTypes); err != nil {
		return networkError("Session.handshake", "failed to read security types", err)
	}

	security, err := selectSecurity(securityTypes)
	if err != nil {
		return err
	}

	if err := writeWithContext(ctx, s.conn, []byte{security.Type()}); err != nil {
		return networkError("Session.handshake", "failed to send selected security type", err)
	}

	if err := security.Handshake(ctx, s.conn, s.logger); err != nil {
		return err
	}

	var securityResult uint32
	if err := readBinaryWithContext(ctx, s.conn, &securityResult); err != nil {
		return networkError("Session.handshake", "failed to read security result", err)
	}
	if securityResult != 0 {
		reason := s.readErrorReason(ctx)
		return authenticationError("Session.handshake", fmt.Sprintf("security handshake failed: %s", reason), nil)
	}

	if err := writeWithContext(ctx, s.conn, []byte{1}); err != nil { // ClientInit shared=1
		return networkError("Session.handshake", "failed to send client init", err)
	}

	var serverInit [24]byte
	if err := readWithContext(ctx, s.conn, serverInit[:]); err != nil {
		return networkError("Session.handshake", "failed to read server init", err)
	}
	width := binary.BigEndian.Uint16(serverInit[0:2])
	height := binary.BigEndian.Uint16(serverInit[2:4])
	// bytes [4:20] are the server's pixel format, discarded: this gateway
	// always overrides it with SetPixelFormat below.
	nameLength := binary.BigEndian.Uint32(serverInit[20:24])

	if err := s.validator.ValidateFramebufferDimensions(width, height); err != nil {
		return protocolError("Session.handshake", "server sent invalid framebuffer dimensions", err)
	}

	const maxNameLength = 1024 * 1024
	if nameLength > maxNameLength {
		return protocolError("Session.handshake", fmt.Sprintf("desktop name length %d too large", nameLength), nil)
	}
	name := make([]byte, nameLength)
	if err := readWithContext(ctx, s.conn, name); err != nil {
		return networkError("Session.handshake", "failed to read desktop name", err)
	}

	s.fb = NewFramebuffer(width, height)

	if err := s.write(ctx, encodeSetPixelFormat()); err != nil {
		return networkError("Session.handshake", "failed to send SetPixelFormat", err)
	}
	if err := s.write(ctx, encodeSetEncodings()); err != nil {
		return networkError("Session.handshake", "failed to send SetEncodings", err)
	}

	s.logger.Info("RFB handshake complete",
		Field{Key: "width", Value: width},
		Field{Key: "height", Value: height})

	return nil
}

func (s *Session) readErrorReason(ctx context.Context) string {
	var length uint32
	if err := readBinaryWithContext(ctx, s.conn, &length); err != nil {
		return "<failed to read error reason length>"
	}
	const maxReasonLength = 64 * 1024
	if length > maxReasonLength {
		return "<error reason too long>"
	}
	reason := make([]byte, length)
	if err := readWithContext(ctx, s.conn, reason); err != nil {
		return "<failed to read error reason>"
	}
	return s.validator.SanitizeText(string(reason))
}

// readLoop is the session's single dedicated reader. It runs for the
// lifetime of the Ready state, applying incoming rectangles to the
// framebuffer and requesting the next incremental update after fully
// processing each server message. Any short read or unsupported message
// transitions the session to Closing.
func (s *Session) readLoop() {
	ctx := context.Background()
	defer s.Close()

	if err := s.requestUpdate(ctx, false); err != nil {
		s.logger.Error("failed to send initial framebuffer update request", ErrorField(err))
		return
	}

	for {
		var messageType uint8
		if err := readBinaryWithContext(ctx, s.conn, &messageType); err != nil {
			s.logger.Debug("read loop ending", ErrorField(err))
			return
		}

		if err := s.handleServerMessage(ctx, messageType); err != nil {
			s.logger.Error("terminating session on protocol error",
				Field{Key: "message_type", Value: messageType},
				ErrorField(err))
			return
		}

		if err := s.requestUpdate(ctx, true); err != nil {
			s.logger.Error("failed to send incremental framebuffer update request", ErrorField(err))
			return
		}
	}
}

func (s *Session) handleServerMessage(ctx context.Context, messageType uint8) error {
	switch messageType {
	case smsgFramebufferUpdate:
		return s.handleFramebufferUpdate(ctx)
	case smsgSetColorMapEntries:
		return s.discardSetColorMapEntries(ctx)
	case smsgBell:
		return nil
	case smsgServerCutText:
		return s.discardServerCutText(ctx)
	default:
		return protocolError("Session.handleServerMessage",
			fmt.Sprintf("unsupported server message type %d", messageType), nil)
	}
}

func (s *Session) handleFramebufferUpdate(ctx context.Context) error {
	var pad [1]byte
	if err := readWithContext(ctx, s.conn, pad[:]); err != nil {
		return networkError("handleFramebufferUpdate", "failed to read padding", err)
	}

	var rectCount uint16
	if err := readBinaryWithContext(ctx, s.conn, &rectCount); err != nil {
		return networkError("handleFramebufferUpdate", "failed to read rectangle count", err)
	}
	if rectCount > maxRectanglesPerUpdate {
		return validationError("handleFramebufferUpdate",
			fmt.Sprintf("rectangle count %d exceeds maximum %d", rectCount, maxRectanglesPerUpdate), nil)
	}

	for i := uint16(0); i < rectCount; i++ {
		if err := s.handleRect(ctx); err != nil {
			return err
		}
	}

	s.signalDirty()
	return nil
}

func (s *Session) handleRect(ctx context.Context) error {
	var header [12]byte
	if err := readWithContext(ctx, s.conn, header[:]); err != nil {
		return networkError("handleRect", "failed to read rectangle header", err)
	}

	rh := rectHeader{
		X:        binary.BigEndian.Uint16(header[0:2]),
		Y:        binary.BigEndian.Uint16(header[2:4]),
		W:        binary.BigEndian.Uint16(header[4:6]),
		H:        binary.BigEndian.Uint16(header[6:8]),
		Encoding: int32(binary.BigEndian.Uint32(header[8:12])),
	}

	switch rh.Encoding {
	case encodingRaw:
		data := make([]byte, int(rh.W)*int(rh.H)*4)
		if err := readWithContext(ctx, s.conn, data); err != nil {
			return networkError("handleRect", "failed to read raw rectangle data", err)
		}
		pixels, err := decodeRawRect(data, rh.W, rh.H)
		if err != nil {
			return err
		}
		return s.fb.Paste(Rect{X: rh.X, Y: rh.Y, W: rh.W, H: rh.H}, pixels)

	case encodingCopyRect:
		var srcData [4]byte
		if err := readWithContext(ctx, s.conn, srcData[:]); err != nil {
			return networkError("handleRect", "failed to read copyrect source", err)
		}
		srcX, srcY, err := copyRectSource(srcData[:])
		if err != nil {
			return err
		}
		return s.fb.CopyRegion(Rect{X: srcX, Y: srcY, W: rh.W, H: rh.H}, rh.X, rh.Y)

	case encodingDesktopSize:
		return s.fb.Resize(rh.W, rh.H)

	default:
		return unsupportedError("handleRect", fmt.Sprintf("unsupported rectangle encoding %d", rh.Encoding), nil)
	}
}

func (s *Session) discardSetColorMapEntries(ctx context.Context) error {
	var header [5]byte // 1 pad + first-color(2) + count(2)
	if err := readWithContext(ctx, s.conn, header[:]); err != nil {
		return networkError("discardSetColorMapEntries", "failed to read header", err)
	}
	count := binary.BigEndian.Uint16(header[3:5])
	discard := make([]byte, int(count)*6)
	if err := readWithContext(ctx, s.conn, discard); err != nil {
		return networkError("discardSetColorMapEntries", "failed to read entries", err)
	}
	return nil
}

func (s *Session) discardServerCutText(ctx context.Context) error {
	var header [7]byte // 3 pad + length(4)
	if err := readWithContext(ctx, s.conn, header[:]); err != nil {
		return networkError("discardServerCutText", "failed to read header", err)
	}
	length := binary.BigEndian.Uint32(header[3:7])
	const maxCutTextLength = 10 * 1024 * 1024
	if length > maxCutTextLength {
		return validationError("discardServerCutText", fmt.Sprintf("cut text length %d too large", length), nil)
	}
	discard := make([]byte, length)
	if err := readWithContext(ctx, s.conn, discard); err != nil {
		return networkError("discardServerCutText", "failed to read text", err)
	}
	return nil
}

// Context-aware network I/O helpers, shared by the handshake, read loop,
// and the security implementations in security.go.

func readWithContext(ctx context.Context, conn net.Conn, buf []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(conn, buf)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeWithContext(ctx context.Context, conn net.Conn, data []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := conn.Write(data)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readBinaryWithContext(ctx context.Context, conn net.Conn, data interface{}) error {
	done := make(chan error, 1)
	go func() {
		done <- binary.Read(conn, binary.BigEndian, data)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
