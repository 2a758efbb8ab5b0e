// SPDX-License-Identifier: MIT

// Package imagecodec turns row-major RGB pixel snapshots into JPEG or PNG
// byte strings for delivery to subscribers. No library in the retrieved
// reference pack supplies a JPEG/PNG encoder, so this collaborator is
// built directly on the standard library's image/jpeg and image/png.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// Encoder turns an RGB pixel snapshot into a compressed image.
type Encoder interface {
	EncodeJPEG(pixels []byte, width, height int, quality int) ([]byte, error)
	EncodePNG(pixels []byte, width, height int) ([]byte, error)
}

// StandardEncoder implements Encoder using the standard library's image
// codecs.
type StandardEncoder struct{}

// toRGBA builds an image.RGBA from row-major RGB pixels (3 bytes/pixel,
// alpha implicitly opaque).
func toRGBA(pixels []byte, width, height int) (*image.RGBA, error) {
	if len(pixels) != width*height*3 {
		return nil, fmt.Errorf("imagecodec: expected %d pixel bytes for %dx%d, got %d",
			width*height*3, width, height, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		r, g, b := pixels[i*3], pixels[i*3+1], pixels[i*3+2]
		o := i * 4
		img.Pix[o] = r
		img.Pix[o+1] = g
		img.Pix[o+2] = b
		img.Pix[o+3] = 0xFF
	}
	return img, nil
}

// EncodeJPEG encodes pixels as a JPEG at the given quality (1-100).
func (StandardEncoder) EncodeJPEG(pixels []byte, width, height int, quality int) ([]byte, error) {
	img, err := toRGBA(pixels, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imagecodec: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes pixels as a PNG.
func (StandardEncoder) EncodePNG(pixels []byte, width, height int) ([]byte, error) {
	img, err := toRGBA(pixels, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imagecodec: png encode: %w", err)
	}
	return buf.Bytes(), nil
}
