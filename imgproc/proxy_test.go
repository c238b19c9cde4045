package imgproc

import (
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	big := encodeJPEG(t, gradient(1600, 900))
	small := encodePNG(t, gradient(400, 300))
	rotated := withOrientation(t, encodeJPEG(t, gradient(1000, 600)), 6)
	mux := http.NewServeMux()
	mux.HandleFunc("/big.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(big)
	})
	mux.HandleFunc("/small.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(small)
	})
	mux.HandleFunc("/rotated.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(rotated)
	})
	mux.HandleFunc("/untyped", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(small)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>hotlinking denied</body></html>")
	})
	mux.HandleFunc("/forbidden.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "hotlinking denied", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProxyDefaultWidth(t *testing.T) {
	srv := imageServer(t)
	p := NewProxy(ProxyOptions{AllowPrivate: true}, zap.NewNop())

	asset, err := p.Fetch(t.Context(), srv.URL+"/big.jpg", 0)

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", asset.ContentType)
	assert.Equal(t, 800, asset.Width)
	assert.Equal(t, 450, asset.Height)
	assert.Equal(t, 800, decodeBounds(t, asset.Payload).Dx())
	assert.True(t, strings.HasPrefix(asset.DataURI(), "data:image/jpeg;base64,"))
}

func TestProxyKeepsSmallImagesUntouched(t *testing.T) {
	srv := imageServer(t)
	p := NewProxy(ProxyOptions{AllowPrivate: true}, zap.NewNop())

	asset, err := p.Fetch(t.Context(), srv.URL+"/small.png", 0)

	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.Equal(t, encodePNG(t, gradient(400, 300)), asset.Payload)
}

func TestProxyExplicitWidth(t *testing.T) {
	srv := imageServer(t)
	p := NewProxy(ProxyOptions{AllowPrivate: true}, zap.NewNop())

	asset, err := p.Fetch(t.Context(), srv.URL+"/small.png", 200)
	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.ContentType, "resized images keep their format")
	assert.Equal(t, image.Rect(0, 0, 200, 150), decodeBounds(t, asset.Payload))

	asset, err = p.Fetch(t.Context(), srv.URL+"/small.png", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, decodeBounds(t, asset.Payload).Dx(), "explicit width also upscales")
}

func TestProxySniffsContentType(t *testing.T) {
	srv := imageServer(t)
	p := NewProxy(ProxyOptions{AllowPrivate: true}, zap.NewNop())

	asset, err := p.Fetch(t.Context(), srv.URL+"/untyped", 0)

	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.ContentType)
}

func TestProxyErrors(t *testing.T) {
	srv := imageServer(t)

	tcs := []struct {
		name   string
		url    string
		width  int
		opts   ProxyOptions
		status int
	}{
		{name: "origin status propagated", url: srv.URL + "/forbidden.jpg", status: http.StatusForbidden},
		{name: "missing", url: srv.URL + "/missing.jpg", status: http.StatusNotFound},
		{name: "not an image", url: srv.URL + "/page.html", status: http.StatusUnsupportedMediaType},
		{name: "too large", url: srv.URL + "/big.jpg", opts: ProxyOptions{MaxBytes: 64}, status: http.StatusRequestEntityTooLarge},
		{name: "too many pixels", url: srv.URL + "/big.jpg", opts: ProxyOptions{MaxPixels: 1600*900 - 1}, status: http.StatusRequestEntityTooLarge},
		{name: "unreachable", url: "http://127.0.0.1:1/x.jpg", status: http.StatusBadGateway},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			opts.AllowPrivate = true
			p := NewProxy(opts, zap.NewNop())
			_, err := p.Fetch(t.Context(), tc.url, tc.width)
			var fetchErr *ProxyFetchError
			require.True(t, errors.As(err, &fetchErr), "got %v", err)
			assert.Equal(t, tc.status, fetchErr.Status)
			assert.NotEmpty(t, fetchErr.Message)
		})
	}
}

func TestProxyValidation(t *testing.T) {
	p := NewProxy(ProxyOptions{AllowPrivate: true}, zap.NewNop())

	_, err := p.Fetch(t.Context(), "file:///etc/passwd", -1)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 2)
	assert.Equal(t, "url", verr.Fields[0].Field)
	assert.Equal(t, "width", verr.Fields[1].Field)
}

func TestProxyHonorsOrientation(t *testing.T) {
	srv := imageServer(t)
	p := NewProxy(ProxyOptions{AllowPrivate: true}, zap.NewNop())

	asset, err := p.Fetch(t.Context(), srv.URL+"/rotated.jpg", 0)

	require.NoError(t, err)
	assert.Equal(t, 600, asset.Width, "stored 1000 wide, displayed 600 wide")
	assert.Equal(t, 1000, asset.Height)
	assert.Equal(t, withOrientation(t, encodeJPEG(t, gradient(1000, 600)), 6), asset.Payload,
		"already narrower than the preview width, never upscaled")
}

func TestProxyRefusesPrivateAddresses(t *testing.T) {
	srv := imageServer(t)
	p := NewProxy(ProxyOptions{}, zap.NewNop())

	for _, target := range []string{srv.URL + "/big.jpg", "http://169.254.169.254/latest/meta-data/"} {
		_, err := p.Fetch(t.Context(), target, 0)
		var fetchErr *ProxyFetchError
		require.True(t, errors.As(err, &fetchErr), "%s: got %v", target, err)
		assert.Equal(t, http.StatusForbidden, fetchErr.Status, target)
	}
}

func TestPublicOnly(t *testing.T) {
	tcs := []struct {
		address string
		blocked bool
	}{
		{address: "127.0.0.1:80", blocked: true},
		{address: "10.1.2.3:443", blocked: true},
		{address: "192.168.0.10:80", blocked: true},
		{address: "169.254.169.254:80", blocked: true},
		{address: "[::1]:80", blocked: true},
		{address: "[fe80::1]:80", blocked: true},
		{address: "[::ffff:127.0.0.1]:80", blocked: true},
		{address: "0.0.0.0:80", blocked: true},
		{address: "93.184.216.34:443", blocked: false},
		{address: "[2606:4700::1111]:443", blocked: false},
	}
	for _, tc := range tcs {
		err := publicOnly("tcp", tc.address, nil)
		if tc.blocked {
			assert.ErrorIs(t, err, errPrivateAddress, tc.address)
		} else {
			assert.NoError(t, err, tc.address)
		}
	}
}
