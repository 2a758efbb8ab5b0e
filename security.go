// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package rfb

import (
	"context"
	"net"
)

// Security type identifiers the gateway recognizes during the security
// handshake (RFC 6143 §7.1.2).
const (
	securityTypeNone    uint8 = 1
	securityTypeVNCAuth uint8 = 2
)

// Security negotiates one RFB security type's handshake phase, after the
// type has already been selected and echoed back to the server.
type Security interface {
	// Type returns the security type identifier this implementation handles.
	Type() uint8

	// Handshake performs whatever exchange the security type requires,
	// after the client has already sent its chosen type back to the server.
	Handshake(ctx context.Context, conn net.Conn, logger Logger) error
}

// NoneSecurity implements security type 1 (None): no further exchange is
// required before the SecurityResult.
type NoneSecurity struct{}

// Type returns 1.
func (NoneSecurity) Type() uint8 { return securityTypeNone }

// Handshake is a no-op for the None security type.
func (NoneSecurity) Handshake(ctx context.Context, conn net.Conn, logger Logger) error {
	return nil
}

// VNCAuthStub implements security type 2 (VNC authentication) as an
// intentional stub: it sends a 16-byte all-zero challenge response instead
// of performing the DES challenge/response exchange RFC 6143 describes.
// Real VNC servers that enforce a password will reject this and the
// handshake will fail at the SecurityResult step with a non-zero result;
// this type exists so that failure is visible (a Warn log line naming the
// upstream) rather than happening silently inside a generic byte buffer.
//
// A future implementation that wants real password authentication can
// satisfy the same Security interface without touching session.go.
type VNCAuthStub struct{}

// Type returns 2.
func (VNCAuthStub) Type() uint8 { return securityTypeVNCAuth }

// Handshake reads the server's 16-byte challenge and replies with 16 zero
// bytes where RFC 6143's VNC authentication expects the DES-encrypted
// challenge, knowing it will only satisfy a server that does not actually
// require a password.
func (VNCAuthStub) Handshake(ctx context.Context, conn net.Conn, logger Logger) error {
	logger.Warn("upstream requested VNC password authentication; sending unauthenticated stub response",
		Field{Key: "security_type", Value: securityTypeVNCAuth})

	var challenge [16]byte
	if err := readWithContext(ctx, conn, challenge[:]); err != nil {
		return networkError("VNCAuthStub.Handshake", "failed to read challenge", err)
	}

	var challengeResponse [16]byte
	if err := writeWithContext(ctx, conn, challengeResponse[:]); err != nil {
		return networkError("VNCAuthStub.Handshake", "failed to send challenge response", err)
	}
	return nil
}

// selectSecurity picks the Security implementation to use given the types
// the server offered, preferring None over the VNC-auth stub.
func selectSecurity(serverTypes []uint8) (Security, error) {
	var none, vncAuth bool
	for _, t := range serverTypes {
		switch t {
		case securityTypeNone:
			none = true
		case securityTypeVNCAuth:
			vncAuth = true
		}
	}

	switch {
	case none:
		return NoneSecurity{}, nil
	case vncAuth:
		return VNCAuthStub{}, nil
	default:
		return nil, unsupportedError("selectSecurity",
			"upstream offered no security type this gateway supports", nil)
	}
}
