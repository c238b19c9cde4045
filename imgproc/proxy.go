package imgproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	DefaultPreviewWidth = 800
	DefaultMaxWidth     = 4096
	DefaultMaxBytes     = 20 << 20
	proxyQuality        = 85
)

type ProxyOptions struct {
	DefaultWidth int
	MaxWidth     int
	MaxBytes     int64
	MaxPixels    int
	Timeout      time.Duration
	UserAgent    string
	// AllowPrivate lets the proxy connect to loopback, private and
	// link-local addresses.
	AllowPrivate bool
}

var errPrivateAddress = errors.New("address is not publicly routable")

// publicOnly is a net.Dialer Control hook refusing every address that is
// not globally routable. It runs after name resolution, for redirects too.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%s: %w", ip, errPrivateAddress)
	}
	return nil
}

// Proxy fetches remote images server side so callers can read their pixels
// without cross-origin restrictions.
type Proxy struct {
	client *http.Client
	opts   ProxyOptions
	log    *zap.Logger
}

func NewProxy(opts ProxyOptions, log *zap.Logger) *Proxy {
	if opts.DefaultWidth <= 0 {
		opts.DefaultWidth = DefaultPreviewWidth
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "imgfeed-proxy/1.0"
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !opts.AllowPrivate {
		dialer.Control = publicOnly
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	return &Proxy{
		client: &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:   opts,
		log:    log.Named("proxy"),
	}
}

// Fetch downloads rawURL. A width of 0 bounds the image to the default
// preview width; any other width resizes to exactly that width.
func (p *Proxy) Fetch(ctx context.Context, rawURL string, width int) (*Asset, error) {
	verr := &ValidationError{}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.add("url", "must be an absolute http or https URL")
	}
	if width < 0 || width > p.opts.MaxWidth {
		verr.add("width", fmt.Sprintf("must be between 1 and %d", p.opts.MaxWidth))
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	body, contentType, err := p.download(ctx, u.String())
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err == nil && tooManyPixels(cfg, p.opts.MaxPixels) {
		return nil, &ProxyFetchError{URL: u.String(), Status: http.StatusRequestEntityTooLarge,
			Message: fmt.Sprintf("image exceeds %d pixels", p.opts.MaxPixels)}
	}
	var img image.Image
	if err == nil {
		img, err = decode(body, p.opts.MaxPixels)
	}
	if err != nil {
		if width == 0 {
			// cannot be resized, hand it over untouched
			return &Asset{Payload: body, ContentType: contentType}, nil
		}
		return nil, &ProxyFetchError{URL: u.String(), Status: http.StatusUnprocessableEntity, Message: "image could not be decoded"}
	}

	// bounds are after EXIF orientation, which DecodeConfig ignores
	bounds := img.Bounds()
	target := width
	if target == 0 {
		target = min(bounds.Dx(), p.opts.DefaultWidth)
	}
	if target == bounds.Dx() {
		return &Asset{Payload: body, ContentType: contentType, Width: bounds.Dx(), Height: bounds.Dy()}, nil
	}

	img = imaging.Resize(img, target, 0, imaging.Lanczos)

	format, ok := formatFromContentType(contentType)
	if !ok {
		format = JPEG
	}
	buf := new(bytes.Buffer)
	if err := encode(buf, img, format, proxyQuality); err != nil {
		return nil, fmt.Errorf("re-encoding %s as %s: %w", u, format, err)
	}
	p.log.Debug("Resized proxied image",
		zap.String("url", u.String()),
		zap.Int("from", bounds.Dx()),
		zap.Int("to", target))
	return &Asset{
		Payload:     buf.Bytes(),
		ContentType: format.ContentType(),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}

func (p *Proxy) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", &ProxyFetchError{URL: imageURL, Status: http.StatusBadRequest, Message: err.Error()}
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "image/*")

	res, err := p.client.Do(req)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, errPrivateAddress):
			status = http.StatusForbidden
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		return nil, "", &ProxyFetchError{URL: imageURL, Status: status, Message: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		message := strings.TrimSpace(string(msg))
		if message == "" {
			message = http.StatusText(res.StatusCode)
		}
		return nil, "", &ProxyFetchError{URL: imageURL, Status: res.StatusCode, Message: message}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, p.opts.MaxBytes+1))
	if err != nil {
		return nil, "", &ProxyFetchError{URL: imageURL, Status: http.StatusBadGateway, Message: fmt.Sprintf("reading body failed: %v", err)}
	}
	if int64(len(body)) > p.opts.MaxBytes {
		return nil, "", &ProxyFetchError{URL: imageURL, Status: http.StatusRequestEntityTooLarge, Message: "image exceeds size limit"}
	}

	contentType := res.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		contentType = http.DetectContentType(body)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", &ProxyFetchError{URL: imageURL, Status: http.StatusUnsupportedMediaType, Message: "not an image: " + contentType}
	}
	return body, contentType, nil
}
