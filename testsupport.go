// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package rfb

import "net"

// NewTestSession builds a Session in the Ready state around an
// already-connected conn and framebuffer, bypassing the handshake. It
// exists so packages that consume a Session (internal/input,
// internal/broadcast, internal/hub) can exercise PointerEvent/KeyEvent/
// Framebuffer behavior in their own tests without scripting a full mock
// upstream.
func NewTestSession(conn net.Conn, fb *Framebuffer) *Session {
	s := &Session{
		conn:      conn,
		logger:    &NoOpLogger{},
		metrics:   &NoOpMetrics{},
		fb:        fb,
		dirtyCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		validator: newInputValidator(),
	}
	s.state.Store(int32(StateReady))
	return s
}
