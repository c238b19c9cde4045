package imgproc

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	DefaultAspectWidth  = 1200
	DefaultAspectHeight = 650
	DefaultCropQuality  = 90
	maxZoom             = 10
)

// CropRegion is a rectangle in source pixel space.
type CropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r CropRegion) rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Viewport is the interactive pan/zoom state. Zoom 1 shows the largest
// fixed-ratio rectangle that fits the image; PanX and PanY position the
// rectangle from 0 (left/top) to 1 (right/bottom).
type Viewport struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"panX"`
	PanY float64 `json:"panY"`
}

// CenteredViewport shows the whole fixed-ratio area around the center.
var CenteredViewport = Viewport{Zoom: 1, PanX: 0.5, PanY: 0.5}

// Cropper rasterizes fixed aspect ratio crops.
type Cropper struct {
	aspect    float64
	quality   int
	maxPixels int
}

func NewCropper(aspectWidth, aspectHeight, quality int) *Cropper {
	if aspectWidth <= 0 || aspectHeight <= 0 {
		aspectWidth, aspectHeight = DefaultAspectWidth, DefaultAspectHeight
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultCropQuality
	}
	return &Cropper{
		aspect:    float64(aspectWidth) / float64(aspectHeight),
		quality:   quality,
		maxPixels: DefaultMaxPixels,
	}
}

// WithMaxPixels bounds the decoded size of source images. n <= 0 keeps
// DefaultMaxPixels.
func (c *Cropper) WithMaxPixels(n int) *Cropper {
	if n > 0 {
		c.maxPixels = n
	}
	return c
}

func (c *Cropper) Aspect() float64 { return c.aspect }

// Region resolves a viewport against image bounds. Pan and zoom only pick
// which pixels are shown; the ratio never changes.
func (c *Cropper) Region(bounds image.Rectangle, v Viewport) CropRegion {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return CropRegion{}
	}
	baseW, baseH := float64(w), float64(h)
	if baseW/baseH > c.aspect {
		baseW = baseH * c.aspect
	} else {
		baseH = baseW / c.aspect
	}

	zoom := clamp(v.Zoom, 1, maxZoom)
	if v.Zoom == 0 {
		zoom = 1
	}
	cw := max(1, min(w, int(math.Round(baseW/zoom))))
	ch := max(1, min(h, int(math.Round(float64(cw)/c.aspect))))

	panX := clamp(v.PanX, 0, 1)
	panY := clamp(v.PanY, 0, 1)
	return CropRegion{
		X:      bounds.Min.X + int(math.Round(panX*float64(w-cw))),
		Y:      bounds.Min.Y + int(math.Round(panY*float64(h-ch))),
		Width:  cw,
		Height: ch,
	}
}

// Crop rasterizes region of payload into a JPEG exactly region.Width x
// region.Height pixels, or outWidth wide when outWidth > 0.
func (c *Cropper) Crop(payload []byte, region CropRegion, outWidth int) (*Asset, error) {
	img, err := decode(payload, c.maxPixels)
	if err != nil {
		return nil, err
	}
	return c.crop(img, region, outWidth)
}

// CropViewport resolves v against the decoded image and crops it.
func (c *Cropper) CropViewport(payload []byte, v Viewport, outWidth int) (*Asset, CropRegion, error) {
	img, err := decode(payload, c.maxPixels)
	if err != nil {
		return nil, CropRegion{}, err
	}
	region := c.Region(img.Bounds(), v)
	asset, err := c.crop(img, region, outWidth)
	return asset, region, err
}

func (c *Cropper) crop(img image.Image, region CropRegion, outWidth int) (*Asset, error) {
	if err := c.validate(img.Bounds(), region, outWidth); err != nil {
		return nil, err
	}
	out := imaging.Crop(img, region.rect())
	if outWidth > 0 && outWidth != region.Width {
		out = imaging.Resize(out, outWidth, int(math.Round(float64(outWidth)/c.aspect)), imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := encode(buf, out, JPEG, c.quality); err != nil {
		return nil, fmt.Errorf("encoding crop: %w", err)
	}
	return &Asset{
		Payload:     buf.Bytes(),
		ContentType: JPEG.ContentType(),
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
	}, nil
}

func (c *Cropper) validate(bounds image.Rectangle, region CropRegion, outWidth int) error {
	verr := &ValidationError{}
	if region.Width <= 0 {
		verr.add("width", "must be positive")
	}
	if region.Height <= 0 {
		verr.add("height", "must be positive")
	}
	if region.X < bounds.Min.X || region.Y < bounds.Min.Y {
		verr.add("region", "starts outside the image")
	}
	if region.Width > 0 && region.Height > 0 {
		if !region.rect().In(bounds) {
			verr.add("region", fmt.Sprintf("exceeds image bounds %dx%d", bounds.Dx(), bounds.Dy()))
		}
		// one pixel of rounding slack, or 1% for large regions
		slack := math.Max(1, 0.01*float64(region.Width))
		if math.Abs(float64(region.Width)-float64(region.Height)*c.aspect) > slack {
			verr.add("region", fmt.Sprintf("must keep the %.3f aspect ratio", c.aspect))
		}
	}
	if outWidth < 0 || outWidth > DefaultMaxWidth {
		verr.add("outputWidth", fmt.Sprintf("must be between 0 and %d", DefaultMaxWidth))
	}
	return verr.orNil()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
