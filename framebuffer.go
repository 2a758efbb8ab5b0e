// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package rfb

import (
	"fmt"
	"sync"
)

// backgroundColor is painted into newly created or newly exposed framebuffer
// regions (initial allocation, and the area a resize uncovers).
var backgroundColor = [3]byte{30, 30, 30}

// Rect is a sub-region of a framebuffer, in framebuffer-local coordinates.
type Rect struct {
	X, Y, W, H uint16
}

// String renders the rectangle as "(x,y,w,h)" for logging.
func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", r.X, r.Y, r.W, r.H)
}

// fits reports whether r lies entirely inside a width x height grid.
func (r Rect) fits(width, height uint16) bool {
	if r.W == 0 || r.H == 0 {
		return false
	}
	return r.X+r.W <= width && r.Y+r.H <= height
}

// Framebuffer is the authoritative RGB pixel grid mirroring one upstream
// display. Pixels are stored row-major, 3 bytes per pixel (R, G, B).
//
// A single mutex guards both the pixel grid and the dirty log so that a
// reader never observes a partially applied rectangle: paste/copy/resize
// hold the lock for the duration of the mutation and the matching dirty-log
// append.
type Framebuffer struct {
	mu     sync.Mutex
	width  uint16
	height uint16
	pix    []byte
	dirty  []Rect

	validator *InputValidator
}

// NewFramebuffer allocates a width x height framebuffer filled with the
// background color.
func NewFramebuffer(width, height uint16) *Framebuffer {
	fb := &Framebuffer{
		width:     width,
		height:    height,
		pix:       make([]byte, int(width)*int(height)*3),
		validator: newInputValidator(),
	}
	fb.fillBackground(fb.pix)
	return fb
}

func (fb *Framebuffer) fillBackground(pix []byte) {
	for i := 0; i+2 < len(pix); i += 3 {
		pix[i] = backgroundColor[0]
		pix[i+1] = backgroundColor[1]
		pix[i+2] = backgroundColor[2]
	}
}

// Size returns the current framebuffer dimensions.
func (fb *Framebuffer) Size() (width, height uint16) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.width, fb.height
}

func (fb *Framebuffer) offset(x, y uint16) int {
	return (int(y)*int(fb.width) + int(x)) * 3
}

// Paste overwrites the sub-rectangle described by rect with decoded RGB
// pixel data (row-major, 3 bytes per pixel) and appends rect to the dirty
// log. It is the core operation behind the Raw encoding.
func (fb *Framebuffer) Paste(rect Rect, pixels []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !rect.fits(fb.width, fb.height) {
		return validationError("Framebuffer.Paste",
			fmt.Sprintf("rectangle %s exceeds framebuffer bounds (%d,%d)", rect, fb.width, fb.height), nil)
	}
	if want := int(rect.W) * int(rect.H) * 3; len(pixels) != want {
		return validationError("Framebuffer.Paste",
			fmt.Sprintf("pixel data length %d does not match rectangle %s (want %d)", len(pixels), rect, want), nil)
	}

	rowBytes := int(rect.W) * 3
	for row := 0; row < int(rect.H); row++ {
		dst := fb.offset(rect.X, rect.Y+uint16(row))
		src := row * rowBytes
		copy(fb.pix[dst:dst+rowBytes], pixels[src:src+rowBytes])
	}

	fb.dirty = append(fb.dirty, rect)
	return nil
}

// CopyRegion blits the src rectangle to a new top-left position (dstX,
// dstY), implementing CopyRect semantics. The source is read in full before
// any destination byte is written, so a copy that overlaps itself (or a
// self-copy with zero offset) behaves as if the source were snapshotted
// first.
func (fb *Framebuffer) CopyRegion(src Rect, dstX, dstY uint16) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !src.fits(fb.width, fb.height) {
		return validationError("Framebuffer.CopyRegion",
			fmt.Sprintf("source rectangle %s exceeds framebuffer bounds (%d,%d)", src, fb.width, fb.height), nil)
	}
	dst := Rect{X: dstX, Y: dstY, W: src.W, H: src.H}
	if !dst.fits(fb.width, fb.height) {
		return validationError("Framebuffer.CopyRegion",
			fmt.Sprintf("destination rectangle %s exceeds framebuffer bounds (%d,%d)", dst, fb.width, fb.height), nil)
	}

	rowBytes := int(src.W) * 3
	staged := make([]byte, int(src.H)*rowBytes)
	for row := 0; row < int(src.H); row++ {
		off := fb.offset(src.X, src.Y+uint16(row))
		copy(staged[row*rowBytes:(row+1)*rowBytes], fb.pix[off:off+rowBytes])
	}
	for row := 0; row < int(dst.H); row++ {
		off := fb.offset(dst.X, dst.Y+uint16(row))
		copy(fb.pix[off:off+rowBytes], staged[row*rowBytes:(row+1)*rowBytes])
	}

	fb.dirty = append(fb.dirty, dst)
	return nil
}

// Resize atomically replaces the framebuffer's dimensions and backing
// storage. The top-left min(old,new) subregion of the prior framebuffer is
// preserved; everything else is painted with the background color. A
// full-frame dirty rectangle is appended so the next broadcaster tick
// always emits a complete frame after a resize.
func (fb *Framebuffer) Resize(newWidth, newHeight uint16) error {
	if err := fb.validator.ValidateFramebufferDimensions(newWidth, newHeight); err != nil {
		return err
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	newPix := make([]byte, int(newWidth)*int(newHeight)*3)
	fb.fillBackground(newPix)

	keepW := fb.width
	if newWidth < keepW {
		keepW = newWidth
	}
	keepH := fb.height
	if newHeight < keepH {
		keepH = newHeight
	}

	rowBytes := int(keepW) * 3
	for row := 0; row < int(keepH); row++ {
		srcOff := (row*int(fb.width) + 0) * 3
		dstOff := (row*int(newWidth) + 0) * 3
		copy(newPix[dstOff:dstOff+rowBytes], fb.pix[srcOff:srcOff+rowBytes])
	}

	fb.width = newWidth
	fb.height = newHeight
	fb.pix = newPix
	fb.dirty = append(fb.dirty, Rect{X: 0, Y: 0, W: newWidth, H: newHeight})
	return nil
}

// SnapshotBBox returns an independent copy of the pixels inside bbox, row
// major RGB, so the caller (the broadcaster) can compress it without
// holding the framebuffer lock.
func (fb *Framebuffer) SnapshotBBox(bbox Rect) ([]byte, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !bbox.fits(fb.width, fb.height) {
		return nil, validationError("Framebuffer.SnapshotBBox",
			fmt.Sprintf("bounding box %s exceeds framebuffer bounds (%d,%d)", bbox, fb.width, fb.height), nil)
	}

	rowBytes := int(bbox.W) * 3
	out := make([]byte, int(bbox.H)*rowBytes)
	for row := 0; row < int(bbox.H); row++ {
		off := fb.offset(bbox.X, bbox.Y+uint16(row))
		copy(out[row*rowBytes:(row+1)*rowBytes], fb.pix[off:off+rowBytes])
	}
	return out, nil
}

// TakeDirty atomically returns and clears the dirty log.
func (fb *Framebuffer) TakeDirty() []Rect {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if len(fb.dirty) == 0 {
		return nil
	}
	taken := fb.dirty
	fb.dirty = nil
	return taken
}

// BoundingBox computes the smallest rectangle containing every rect in
// rects. The caller must ensure rects is non-empty.
func BoundingBox(rects []Rect) Rect {
	minX, minY := rects[0].X, rects[0].Y
	maxX, maxY := rects[0].X+rects[0].W, rects[0].Y+rects[0].H

	for _, r := range rects[1:] {
		if r.X < minX {
			minX = r.X
		}
		if r.Y < minY {
			minY = r.Y
		}
		if x := r.X + r.W; x > maxX {
			maxX = x
		}
		if y := r.Y + r.H; y > maxY {
			maxY = y
		}
	}

	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}
