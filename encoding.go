// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package rfb

import "fmt"

// decodeRawRect converts wire-format Raw rectangle data into row-major RGB
// pixels. The wire format is little-endian 32-bit pixels, laid out per the
// gateway's fixed pixel format as B,G,R,X; this strips the padding byte and
// reorders each pixel to R,G,B.
func decodeRawRect(data []byte, width, height uint16) ([]byte, error) {
	want := int(width) * int(height) * 4
	if len(data) != want {
		return nil, encodingError("decodeRawRect",
			fmt.Sprintf("raw rectangle data length %d does not match %dx%d (want %d)",
				len(data), width, height, want), nil)
	}

	out := make([]byte, int(width)*int(height)*3)
	for i, o := 0, 0; i < len(data); i, o = i+4, o+3 {
		b, g, r := data[i], data[i+1], data[i+2]
		out[o] = r
		out[o+1] = g
		out[o+2] = b
	}
	return out, nil
}

// copyRectSource parses the 4-byte CopyRect payload (src-x, src-y) that
// follows the rectangle header.
func copyRectSource(data []byte) (srcX, srcY uint16, err error) {
	if len(data) != 4 {
		return 0, 0, encodingError("copyRectSource",
			fmt.Sprintf("copyrect payload length %d, want 4", len(data)), nil)
	}
	srcX = uint16(data[0])<<8 | uint16(data[1])
	srcY = uint16(data[2])<<8 | uint16(data[3])
	return srcX, srcY, nil
}
