package imgproc

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCropExactSize(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	src := encodeJPEG(t, gradient(2000, 1500))

	asset, err := c.Crop(src, CropRegion{X: 100, Y: 100, Width: 1200, Height: 650}, 0)

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", asset.ContentType)
	assert.Equal(t, image.Rect(0, 0, 1200, 650), decodeBounds(t, asset.Payload))
	assert.Equal(t, 1200, asset.Width)
	assert.Equal(t, 650, asset.Height)
}

func TestCropSmallRegionWithinTolerance(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	src := encodePNG(t, gradient(300, 200))

	asset, err := c.Crop(src, CropRegion{X: 10, Y: 20, Width: 120, Height: 65}, 0)

	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 65), decodeBounds(t, asset.Payload))
}

func TestCropScalesToOutputWidth(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	src := encodeJPEG(t, gradient(800, 600))

	asset, err := c.Crop(src, CropRegion{X: 0, Y: 0, Width: 600, Height: 325}, 1200)

	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1200, 650), decodeBounds(t, asset.Payload))
}

func TestCropRejectsBadRegions(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	src := encodeJPEG(t, gradient(1000, 800))

	tcs := []struct {
		name   string
		region CropRegion
	}{
		{name: "wrong aspect", region: CropRegion{Width: 500, Height: 500}},
		{name: "outside bounds", region: CropRegion{X: 600, Y: 0, Width: 600, Height: 325}},
		{name: "negative origin", region: CropRegion{X: -1, Y: 0, Width: 120, Height: 65}},
		{name: "empty", region: CropRegion{}},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			asset, err := c.Crop(src, tc.region, 0)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
			assert.Nil(t, asset)
		})
	}
}

func TestCropUndecodablePayload(t *testing.T) {
	c := NewCropper(0, 0, 0)

	for _, payload := range [][]byte{nil, []byte("<html>blocked</html>"), encodeJPEG(t, gradient(50, 50))[:40]} {
		asset, err := c.Crop(payload, CropRegion{Width: 12, Height: 7}, 0)
		var loadErr *ImageLoadError
		assert.True(t, errors.As(err, &loadErr), "got %v", err)
		assert.Nil(t, asset)
	}
}

func TestCropPixelLimit(t *testing.T) {
	src := encodeJPEG(t, gradient(240, 130))
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality).WithMaxPixels(240*130 - 1)

	asset, _, err := c.CropViewport(src, CenteredViewport, 0)

	assert.Nil(t, asset)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "image", verr.Fields[0].Field)

	asset, _, err = c.WithMaxPixels(240*130).CropViewport(src, CenteredViewport, 0)
	require.NoError(t, err)
	assert.Equal(t, 240, asset.Width)
}

func TestRegionKeepsAspect(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	aspect := c.Aspect()

	tcs := []struct {
		name   string
		bounds image.Rectangle
		view   Viewport
		width  int
	}{
		{name: "tall image", bounds: image.Rect(0, 0, 2000, 1500), view: CenteredViewport, width: 2000},
		{name: "wide image", bounds: image.Rect(0, 0, 3000, 1000), view: CenteredViewport, width: 1846},
		{name: "zoomed", bounds: image.Rect(0, 0, 2000, 1500), view: Viewport{Zoom: 2, PanX: 1, PanY: 1}, width: 1000},
		{name: "zoom below one", bounds: image.Rect(0, 0, 2000, 1500), view: Viewport{Zoom: 0.2}, width: 2000},
		{name: "pan out of range", bounds: image.Rect(0, 0, 1200, 1200), view: Viewport{Zoom: 3, PanX: -4, PanY: 9}, width: 400},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := c.Region(tc.bounds, tc.view)
			assert.Equal(t, tc.width, r.Width)
			assert.LessOrEqual(t, math.Abs(float64(r.Width)-float64(r.Height)*aspect), 1.0)
			assert.True(t, image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).In(tc.bounds))
		})
	}
}

func TestRegionPanning(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	bounds := image.Rect(0, 0, 2000, 1500)

	topLeft := c.Region(bounds, Viewport{Zoom: 2, PanX: 0, PanY: 0})
	bottomRight := c.Region(bounds, Viewport{Zoom: 2, PanX: 1, PanY: 1})

	assert.Equal(t, 0, topLeft.X)
	assert.Equal(t, 0, topLeft.Y)
	assert.Equal(t, bounds.Dx(), bottomRight.X+bottomRight.Width)
	assert.Equal(t, bounds.Dy(), bottomRight.Y+bottomRight.Height)
	assert.Equal(t, topLeft.Width, bottomRight.Width, "panning never changes the size")
}

func TestCropViewport(t *testing.T) {
	c := NewCropper(DefaultAspectWidth, DefaultAspectHeight, DefaultCropQuality)
	src := encodeJPEG(t, gradient(1000, 1000))

	asset, region, err := c.CropViewport(src, CenteredViewport, 0)

	require.NoError(t, err)
	assert.Equal(t, CropRegion{X: 0, Y: 229, Width: 1000, Height: 542}, region)
	assert.Equal(t, image.Rect(0, 0, 1000, 542), decodeBounds(t, asset.Payload))
}
