// SPDX-License-Identifier: MIT

package imagecodec

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidPixels(w, h int, r, g, b byte) []byte {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3], pix[i*3+1], pix[i*3+2] = r, g, b
	}
	return pix
}

func TestStandardEncoder_EncodeJPEGDecodesBackToImage(t *testing.T) {
	enc := StandardEncoder{}
	pix := solidPixels(4, 4, 10, 20, 30)

	data, err := enc.EncodeJPEG(pix, 4, 4, 85)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
}

func TestStandardEncoder_EncodePNGRoundTrips(t *testing.T) {
	enc := StandardEncoder{}
	pix := solidPixels(2, 2, 200, 100, 50)

	data, err := enc.EncodePNG(pix, 2, 2)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r, g, b, _ := img.At(0, 0).RGBA()
	require.Equal(t, uint32(200), r>>8)
	require.Equal(t, uint32(100), g>>8)
	require.Equal(t, uint32(50), b>>8)
}

func TestStandardEncoder_RejectsMismatchedPixelLength(t *testing.T) {
	enc := StandardEncoder{}
	_, err := enc.EncodeJPEG(make([]byte, 10), 4, 4, 85)
	require.Error(t, err)
}
