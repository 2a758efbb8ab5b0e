// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package rfb implements the RFB (RFC 6143) protocol engine at the core of
// the gateway: wire codec, per-upstream framebuffer with dirty-region
// tracking, session handshake and steady-state loop, and the minimal
// security negotiation this gateway supports.
//
// Package rfb does not itself fan updates out to subscribers or expose a
// REST surface — see internal/registry, internal/broadcast, internal/hub,
// and internal/httpapi for those layers. This package only terminates one
// RFB connection to one upstream display server at a time.
//
// # Basic Usage
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	conn, err := net.Dial("tcp", "localhost:5900")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sess, err := rfb.NewSession(ctx, "localhost", "5900", conn, rfb.SessionConfig{
//		Logger: &rfb.StandardLogger{},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sess.Close()
//
// # Input Events
//
//	sess.KeyEvent(ctx, 0x0061, true)  // 'a' key down
//	sess.KeyEvent(ctx, 0x0061, false) // 'a' key up
//
//	sess.PointerEvent(ctx, rfb.ButtonLeft, 100, 100) // press
//	sess.PointerEvent(ctx, 0, 100, 100)              // release
//
// # Error Handling
//
//	if rfb.IsGatewayError(err, rfb.ErrAuthentication) {
//		log.Printf("authentication failed: %v", err)
//	}
package rfb
