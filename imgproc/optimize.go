package imgproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/ericpauley/go-quantize/quantize"
)

type OptimizeResult struct {
	Payload     []byte
	ContentType string
	Size        int
}

// Optimizer re-encodes images to a target format and quality.
type Optimizer struct {
	maxBytes  int
	maxPixels int
}

func NewOptimizer(maxBytes, maxPixels int) *Optimizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Optimizer{maxBytes: maxBytes, maxPixels: maxPixels}
}

// Validate checks every constraint on the input without transcoding it.
func (o *Optimizer) Validate(payload []byte, format string, quality int) (Format, error) {
	f, _, err := o.validate(payload, format, quality)
	return f, err
}

// validate fully decodes the payload so a truncated body is reported with
// the other field errors. The decoded image is nil whenever err is not.
func (o *Optimizer) validate(payload []byte, format string, quality int) (Format, image.Image, error) {
	verr := &ValidationError{}
	var img image.Image
	switch {
	case len(payload) == 0:
		verr.add("image", "is required")
	case len(payload) > o.maxBytes:
		verr.add("image", fmt.Sprintf("exceeds %d bytes", o.maxBytes))
	default:
		decoded, err := decode(payload, o.maxPixels)
		var limitErr *ValidationError
		switch {
		case errors.As(err, &limitErr):
			verr.Fields = append(verr.Fields, limitErr.Fields...)
		case err != nil:
			verr.add("image", "is not a decodable image")
		default:
			img = decoded
		}
	}
	f, ok := ParseFormat(format)
	if !ok || f == GIF {
		verr.add("format", "must be one of jpeg, png, webp")
	}
	if quality < 0 || quality > 100 {
		verr.add("quality", "must be between 0 and 100")
	}
	if err := verr.orNil(); err != nil {
		return f, nil, err
	}
	return f, img, nil
}

func (o *Optimizer) Optimize(payload []byte, format string, quality int) (*OptimizeResult, error) {
	f, img, err := o.validate(payload, format, quality)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	switch f {
	case PNG:
		err = imaging.Encode(buf, quantized(img, paletteSize(quality)), imaging.PNG,
			imaging.PNGCompressionLevel(png.BestCompression))
	case JPEG:
		err = encode(buf, img, JPEG, max(1, quality))
	default:
		err = encode(buf, img, f, quality)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f, err)
	}
	return &OptimizeResult{
		Payload:     buf.Bytes(),
		ContentType: f.ContentType(),
		Size:        buf.Len(),
	}, nil
}

// paletteSize maps quality 0..100 onto 2..256 palette entries.
func paletteSize(quality int) int {
	return 2 + quality*254/100
}

func quantized(img image.Image, colors int) *image.Paletted {
	bounds := img.Bounds()
	q := quantize.MedianCutQuantizer{}
	palette := q.Quantize(make(color.Palette, 0, colors), img)
	if len(palette) == 0 {
		palette = color.Palette{color.Black, color.White}
	}
	out := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(out, bounds, img, bounds.Min)
	return out
}
