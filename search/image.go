package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Source tags the provider an ImageResult came from.
type Source string

const (
	SourcePexels   Source = "pexels"
	SourceUnsplash Source = "unsplash"
	SourcePixabay  Source = "pixabay"
)

// DefaultOrder is the interleave order used when none is configured.
var DefaultOrder = []Source{SourcePexels, SourceUnsplash, SourcePixabay}

// ParseSource maps a configured provider name onto a Source.
func ParseSource(name string) (Source, error) {
	switch s := Source(strings.ToLower(strings.TrimSpace(name))); s {
	case SourcePexels, SourceUnsplash, SourcePixabay:
		return s, nil
	}
	return "", fmt.Errorf("unknown image provider %q", name)
}

func (s Source) String() string { return string(s) }

// ImageResult is one provider-agnostic search hit.
type ImageResult struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	AltText         string `json:"altText"`
	AttributionName string `json:"attributionName"`
	AttributionURL  string `json:"attributionUrl"`
	Source          Source `json:"source"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
}

// complete reports whether every required field is present and the image
// URL is publicly fetchable.
func (r ImageResult) complete() bool {
	if r.Source == "" || r.AttributionName == "" || r.AttributionURL == "" {
		return false
	}
	return absoluteURL(r.URL) && absoluteURL(r.AttributionURL)
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ImageSearcher is one external search API. Search never fails: any problem
// is logged and reported as an empty batch.
type ImageSearcher interface {
	Search(ctx context.Context, page int, query string) []ImageResult
	Source() Source
	TTL() time.Duration
	PageSize() int
}

// ProviderError is a failed call to a provider API.
type ProviderError struct {
	Provider Source
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}
