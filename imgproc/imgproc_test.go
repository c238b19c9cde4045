package imgproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// gradient returns a w x h image with a color ramp and some noise so it does
// not compress trivially.
func gradient(w, h int) *image.NRGBA {
	rnd := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := uint8(rnd.Intn(24))
			img.Set(x, y, color.NRGBA{
				R: uint8(x*255/max(1, w-1)) ^ n,
				G: uint8(y*255/max(1, h-1)) ^ n,
				B: uint8((x+y)%256) ^ n,
				A: 255,
			})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func decodeBounds(t *testing.T, payload []byte) image.Rectangle {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	require.NoError(t, err)
	return image.Rect(0, 0, cfg.Width, cfg.Height)
}

// withOrientation inserts an EXIF segment carrying orientation o right after
// the JPEG start of image marker.
func withOrientation(t *testing.T, jpg []byte, o uint16) []byte {
	t.Helper()
	require.True(t, bytes.HasPrefix(jpg, []byte{0xff, 0xd8}))
	exif := []byte{
		'E', 'x', 'i', 'f', 0, 0,
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08, // big endian, IFD at offset 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, // orientation, SHORT, count 1
		byte(o >> 8), byte(o), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	size := len(exif) + 2
	out := []byte{0xff, 0xd8, 0xff, 0xe1, byte(size >> 8), byte(size)}
	out = append(out, exif...)
	return append(out, jpg[2:]...)
}
