package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gorilla/mux"
	"github.com/moddengine/imgfeed/feed"
	"github.com/moddengine/imgfeed/imgproc"
	"github.com/moddengine/imgfeed/search"
	"go.uber.org/zap"
)

// UserChecker verifies API credentials.
type UserChecker interface {
	TestUser(user string, pass string) bool
}

// Server exposes search, proxy, crop and optimize over HTTP.
type Server struct {
	aggregator feed.Aggregator
	proxy      *imgproc.Proxy
	cropper    *imgproc.Cropper
	optimizer  *imgproc.Optimizer
	users      UserChecker
	prettyJson bool
	maxBody    int64
	log        *zap.Logger
}

// NewServer wires the handlers. A nil users disables authentication.
func NewServer(cfg Config, aggregator feed.Aggregator, users UserChecker, log *zap.Logger) *Server {
	maxBytes := int64(cfg.Proxy.MaxBytes)
	if maxBytes <= 0 {
		maxBytes = imgproc.DefaultMaxBytes
	}
	return &Server{
		aggregator: aggregator,
		proxy:      newProxy(cfg, log),
		cropper:    newCropper(cfg),
		optimizer:  newOptimizer(cfg),
		users:      users,
		prettyJson: cfg.Debug.PrettyJson,
		// base64 inflates payloads by a third
		maxBody: maxBytes*4/3 + 64<<10,
		log:     log.Named("http"),
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)

	apiV1 := router.PathPrefix("/api/v1").Subrouter()
	if s.users != nil {
		apiV1.Use(basicAuth(s.users, s))
	}
	apiV1.HandleFunc("/search", s.Search).Methods(http.MethodGet)
	apiV1.HandleFunc("/proxy", s.Proxy).Methods(http.MethodGet, http.MethodPost)
	apiV1.HandleFunc("/crop", s.Crop).Methods(http.MethodPost)
	apiV1.HandleFunc("/optimize", s.Optimize).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusNotFound, errorBody("not found"))
	})
	return router
}

type errorResponse struct {
	Error   string               `json:"error"`
	Details []imgproc.FieldError `json:"details,omitempty"`
}

func errorBody(format string, args ...any) errorResponse {
	return errorResponse{Error: fmt.Sprintf(format, args...)}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Search returns one interleaved page. Provider outages are never reported:
// a page nobody answered is an empty list.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	data, statusCode := func() (any, int) {
		q, hasQ := r.URL.Query()["q"]
		query := strings.TrimSpace(strings.Join(q, " "))
		if !hasQ || query == "" {
			return errorBody("query search parameter ?q= missing"), http.StatusBadRequest
		}
		page := 1
		if qPage := r.URL.Query().Get("page"); qPage != "" {
			if n, err := strconv.Atoi(qPage); err == nil && n > 0 {
				page = n
			}
		}
		results := s.aggregator.Aggregate(r.Context(), query, page)
		if results == nil {
			results = []search.ImageResult{}
		}
		return results, http.StatusOK
	}()
	s.writeJSON(w, r, statusCode, data)
}

type proxyRequest struct {
	URL   string `json:"url"`
	Width int    `json:"width"`
}

func (s *Server) Proxy(w http.ResponseWriter, r *http.Request) {
	data, statusCode := func() (any, int) {
		var req proxyRequest
		if r.Method == http.MethodPost {
			if status, err := s.decodeBody(w, r, &req); err != nil {
				return errorBody("invalid request body: %v", err), status
			}
		} else {
			req.URL = r.URL.Query().Get("url")
			if width := r.URL.Query().Get("width"); width != "" {
				n, err := strconv.Atoi(width)
				if err != nil {
					return errorResponse{
						Error:   "invalid input",
						Details: []imgproc.FieldError{{Field: "width", Message: "must be an integer"}},
					}, http.StatusBadRequest
				}
				req.Width = n
			}
		}
		asset, err := s.proxy.Fetch(r.Context(), req.URL, req.Width)
		if err != nil {
			return s.failure(err)
		}
		return map[string]string{"base64": asset.DataURI()}, http.StatusOK
	}()
	s.writeJSON(w, r, statusCode, data)
}

type cropRequest struct {
	Image    string              `json:"image"`
	Region   *imgproc.CropRegion `json:"region"`
	Viewport *imgproc.Viewport   `json:"viewport"`
	Width    int                 `json:"width"`
}

type cropResponse struct {
	Base64 string             `json:"base64"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
	Region imgproc.CropRegion `json:"region"`
}

func (s *Server) Crop(w http.ResponseWriter, r *http.Request) {
	data, statusCode := func() (any, int) {
		var req cropRequest
		if status, err := s.decodeBody(w, r, &req); err != nil {
			return errorBody("invalid request body: %v", err), status
		}
		payload, _, err := imgproc.DecodeDataURI(req.Image)
		if err != nil {
			return errorResponse{
				Error:   "invalid input",
				Details: []imgproc.FieldError{{Field: "image", Message: err.Error()}},
			}, http.StatusBadRequest
		}

		var asset *imgproc.Asset
		region := imgproc.CropRegion{}
		if req.Region != nil {
			region = *req.Region
			asset, err = s.cropper.Crop(payload, region, req.Width)
		} else {
			view := imgproc.CenteredViewport
			if req.Viewport != nil {
				view = *req.Viewport
			}
			asset, region, err = s.cropper.CropViewport(payload, view, req.Width)
		}
		if err != nil {
			return s.failure(err)
		}
		return cropResponse{
			Base64: asset.DataURI(),
			Width:  asset.Width,
			Height: asset.Height,
			Region: region,
		}, http.StatusOK
	}()
	s.writeJSON(w, r, statusCode, data)
}

type optimizeRequest struct {
	Image   string `json:"image"`
	Format  string `json:"format"`
	Quality *int   `json:"quality"`
}

type optimizeResponse struct {
	Base64 string `json:"base64"`
	Size   int    `json:"size"`
}

const defaultQuality = 80

func (s *Server) Optimize(w http.ResponseWriter, r *http.Request) {
	data, statusCode := func() (any, int) {
		var req optimizeRequest
		if status, err := s.decodeBody(w, r, &req); err != nil {
			return errorBody("invalid request body: %v", err), status
		}
		quality := defaultQuality
		if req.Quality != nil {
			quality = *req.Quality
		}
		// undecodable base64 is reported by the optimizer as a missing image
		payload, _, _ := imgproc.DecodeDataURI(req.Image)
		res, err := s.optimizer.Optimize(payload, req.Format, quality)
		if err != nil {
			return s.failure(err)
		}
		return optimizeResponse{
			Base64: imgproc.EncodeDataURI(res.ContentType, res.Payload),
			Size:   res.Size,
		}, http.StatusOK
	}()
	s.writeJSON(w, r, statusCode, data)
}

// failure maps the image pipeline's structured errors onto HTTP responses.
func (s *Server) failure(err error) (any, int) {
	var (
		verr     *imgproc.ValidationError
		fetchErr *imgproc.ProxyFetchError
		loadErr  *imgproc.ImageLoadError
	)
	switch {
	case errors.As(err, &verr):
		return errorResponse{Error: "invalid input", Details: verr.Fields}, http.StatusBadRequest
	case errors.As(err, &fetchErr):
		status := fetchErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return errorBody("%s", fetchErr.Message), status
	case errors.As(err, &loadErr):
		return errorBody("%s", loadErr.Error()), http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorBody("request cancelled"), http.StatusServiceUnavailable
	}
	s.log.Error("Request failed", zap.Error(err))
	return errorBody("internal error"), http.StatusInternalServerError
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return http.StatusBadRequest, err
	}
	return http.StatusOK, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	body := brotli.HTTPCompressor(w, r)
	defer body.Close()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	enc := json.NewEncoder(body)
	indent := ""
	if s.prettyJson {
		indent = "  "
	}
	enc.SetIndent("", indent)
	if err := enc.Encode(data); err != nil {
		s.log.Warn("Error writing response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
