// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package rfb

import (
	"bytes"
	"encoding/binary"
)

// Message type identifiers for outbound client-to-server messages.
const (
	msgSetPixelFormat           uint8 = 0
	msgSetEncodings             uint8 = 2
	msgFramebufferUpdateRequest uint8 = 3
	msgKeyEvent                 uint8 = 4
	msgPointerEvent             uint8 = 5
)

// Message type identifiers for inbound server-to-client messages.
const (
	smsgFramebufferUpdate  uint8 = 0
	smsgSetColorMapEntries uint8 = 1
	smsgBell               uint8 = 2
	smsgServerCutText      uint8 = 3
)

// Rectangle encoding identifiers this gateway negotiates, in preference
// order: Raw is the universal fallback, CopyRect is cheap for window moves,
// DesktopSize is the pseudo-encoding that reports upstream resizes.
const (
	encodingRaw         int32 = 0
	encodingCopyRect    int32 = 1
	encodingDesktopSize int32 = -223
)

// protocolVersion is the RFB version string this gateway speaks, sent
// verbatim as the client's reply during the handshake.
const protocolVersion = "RFB 003.008\n"

// gatewayPixelFormat is the single pixel format this gateway ever asks an
// upstream to use: 32 bits per pixel, 24-bit depth, true color, little
// endian with R/G/B at byte offsets 2/1/0 — so each pixel arrives on the
// wire as B,G,R,X.
var gatewayPixelFormat = [16]byte{
	32,       // bits-per-pixel
	24,       // depth
	0,        // big-endian-flag
	1,        // true-color-flag
	0, 255,   // red-max (u16be)
	0, 255,   // green-max (u16be)
	0, 255,   // blue-max (u16be)
	16,       // red-shift
	8,        // green-shift
	0,        // blue-shift
	0, 0, 0, // padding
}

// encodeSetPixelFormat encodes the fixed SetPixelFormat message: type byte,
// 3 pad bytes, then the 16-byte pixel format above.
func encodeSetPixelFormat() []byte {
	buf := make([]byte, 0, 20)
	buf = append(buf, msgSetPixelFormat, 0, 0, 0)
	buf = append(buf, gatewayPixelFormat[:]...)
	return buf
}

// encodeSetEncodings encodes the fixed SetEncodings message advertising
// Raw, CopyRect, and DesktopSize in that preference order.
func encodeSetEncodings() []byte {
	var buf bytes.Buffer
	buf.WriteByte(msgSetEncodings)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.BigEndian, uint16(3))
	for _, enc := range []int32{encodingRaw, encodingCopyRect, encodingDesktopSize} {
		_ = binary.Write(&buf, binary.BigEndian, enc)
	}
	return buf.Bytes()
}

// encodeFramebufferUpdateRequest encodes a FramebufferUpdateRequest.
func encodeFramebufferUpdateRequest(incremental bool, x, y, width, height uint16) []byte {
	var incByte uint8
	if incremental {
		incByte = 1
	}
	var buf bytes.Buffer
	buf.WriteByte(msgFramebufferUpdateRequest)
	buf.WriteByte(incByte)
	for _, v := range []uint16{x, y, width, height} {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

// encodeKeyEvent encodes a KeyEvent message.
func encodeKeyEvent(keysym uint32, down bool) []byte {
	var downByte uint8
	if down {
		downByte = 1
	}
	var buf bytes.Buffer
	buf.WriteByte(msgKeyEvent)
	buf.WriteByte(downByte)
	buf.WriteByte(0)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.BigEndian, keysym)
	return buf.Bytes()
}

// encodePointerEvent encodes a PointerEvent message.
func encodePointerEvent(mask ButtonMask, x, y uint16) []byte {
	var buf bytes.Buffer
	buf.WriteByte(msgPointerEvent)
	buf.WriteByte(uint8(mask))
	_ = binary.Write(&buf, binary.BigEndian, x)
	_ = binary.Write(&buf, binary.BigEndian, y)
	return buf.Bytes()
}

// rectHeader is the 12-byte header preceding every rectangle's pixel data
// in a FramebufferUpdate message: x, y, width, height (all u16) followed
// by a signed 32-bit encoding identifier.
type rectHeader struct {
	X, Y, W, H uint16
	Encoding   int32
}
