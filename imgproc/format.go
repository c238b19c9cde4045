package imgproc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	WEBP Format = "webp"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "jpeg", "jpg":
		return JPEG, true
	case "png":
		return PNG, true
	case "gif":
		return GIF, true
	case "webp":
		return WEBP, true
	}
	return "", false
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// formatFromContentType maps an image MIME type onto an encodable format.
func formatFromContentType(contentType string) (Format, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "", false
	}
	return ParseFormat(strings.TrimPrefix(mediaType, "image/"))
}

// DefaultMaxPixels bounds the decoded size of any image, whatever its
// encoded size.
const DefaultMaxPixels = 50_000_000

// tooManyPixels reports whether cfg declares more than maxPixels pixels.
func tooManyPixels(cfg image.Config, maxPixels int) bool {
	return int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels)
}

func pixelLimitError(maxPixels int) *ValidationError {
	verr := &ValidationError{}
	verr.add("image", fmt.Sprintf("exceeds %d pixels", maxPixels))
	return verr
}

// decode checks the declared dimensions against maxPixels before decoding
// and applies the EXIF orientation.
func decode(payload []byte, maxPixels int) (image.Image, error) {
	if len(payload) == 0 {
		return nil, &ImageLoadError{Err: errors.New("empty payload")}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, &ImageLoadError{Err: err}
	}
	if tooManyPixels(cfg, maxPixels) {
		return nil, pixelLimitError(maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ImageLoadError{Err: err}
	}
	return img, nil
}

func encode(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG:
		return imaging.Encode(w, img, imaging.PNG)
	case GIF:
		return imaging.Encode(w, img, imaging.GIF)
	case WEBP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	}
	return fmt.Errorf("unsupported output format %q", format)
}

// Asset is an encoded image ready to be handed to a caller.
type Asset struct {
	Payload     []byte
	ContentType string
	Width       int
	Height      int
}

func (a *Asset) DataURI() string {
	return EncodeDataURI(a.ContentType, a.Payload)
}

func EncodeDataURI(contentType string, payload []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// DecodeDataURI accepts either a base64 data URI or bare base64 and returns
// the payload together with the declared content type, if any.
func DecodeDataURI(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	contentType := ""
	if strings.HasPrefix(s, "data:") {
		header, data, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return nil, "", errors.New("data URI without payload")
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", errors.New("data URI is not base64 encoded")
		}
		contentType = strings.TrimSuffix(header, ";base64")
		s = data
	}
	payload, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		payload, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64: %w", err)
	}
	return payload, contentType, nil
}
