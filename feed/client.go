package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/moddengine/imgfeed/search"
)

// Client is a Source backed by a remote imgfeed server.
type Client struct {
	Http     *http.Client
	base     string
	user     string
	password string
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.Http = h }
}

func WithBasicAuth(user, password string) ClientOption {
	return func(c *Client) { c.user, c.password = user, password }
}

func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		Http: &http.Client{Timeout: 30 * time.Second},
		base: strings.TrimRight(base, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Aggregate(ctx context.Context, query string, page int) ([]search.ImageResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("page", strconv.Itoa(page))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	res, err := c.Http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q page %d: %w", query, page, err)
	}
	defer res.Body.Close()

	var body io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "br" {
		body = brotli.NewReader(res.Body)
	}
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 512))
		return nil, fmt.Errorf("searching %q page %d: %s: %s", query, page, res.Status, strings.TrimSpace(string(msg)))
	}
	var results []search.ImageResult
	if err := json.NewDecoder(body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding page %d: %w", page, err)
	}
	return results, nil
}
