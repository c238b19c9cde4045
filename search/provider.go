package search

import (
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize         = 15
	defaultTTL               = 24 * time.Hour
	defaultRequestsPerMinute = 60
	defaultHTTPTimeout       = 30 * time.Second
)

// ProviderConfig carries the settings of one provider adapter.
type ProviderConfig struct {
	Key               string        `mapstructure:"key"`
	BaseURL           string        `mapstructure:"baseUrl"`
	PerPage           int           `mapstructure:"perPage"`
	RequestsPerMinute int           `mapstructure:"requestsPerMinute"`
	TTL               time.Duration `mapstructure:"ttl"`
}

var textPolicy = bluemonday.StrictPolicy()

// plainText strips markup and entities from provider supplied text.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// provider holds what every adapter shares: credentials, paging, the rate
// limiter, the circuit breaker and the response cache.
type provider struct {
	Http    *http.Client
	source  Source
	apiKey  string
	baseUrl string
	batch   int
	perPage int
	ttl     time.Duration
	cache   *ReqCache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func newProvider(source Source, cfg ProviderConfig, defaultBaseUrl string, batch int, cache *ReqCache, log *zap.Logger) provider {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = batch
	}
	baseUrl := cfg.BaseURL
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	logger := log.Named(string(source))
	return provider{
		Http:    &http.Client{Timeout: defaultHTTPTimeout},
		source:  source,
		apiKey:  strings.TrimSpace(cfg.Key),
		baseUrl: baseUrl,
		batch:   batch,
		perPage: perPage,
		ttl:     ttl,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, rpm/6)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(source),
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		log: logger,
	}
}

func (p *provider) Source() Source { return p.source }

func (p *provider) TTL() time.Duration { return p.ttl }

func (p *provider) PageSize() int { return p.perPage }

// search maps feed page onto provider pages, fetches each one through
// fetchPage and keeps only complete records. Any failure yields an empty
// batch.
func (p *provider) search(ctx context.Context, page int, query string, fetchPage func(ctx context.Context, page int) ([]ImageResult, error)) []ImageResult {
	if p.apiKey == "" {
		p.log.Debug("No credential configured, provider disabled")
		return []ImageResult{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []ImageResult{}
	}
	output := make([]ImageResult, 0, p.batch)
	for _, src := range GetResPages(page, p.batch, p.perPage) {
		items, err := fetchPage(ctx, src.Page)
		if err != nil {
			p.log.Warn("Provider unavailable",
				zap.String("query", query),
				zap.Int("page", src.Page),
				zap.Error(err))
			return []ImageResult{}
		}
		first := min(len(items), src.First)
		last := min(len(items), src.Last)
		for _, item := range items[first:last] {
			if !item.complete() {
				p.log.Debug("Dropping incomplete record", zap.String("id", item.ID))
				continue
			}
			output = append(output, item)
		}
	}
	return output
}

// getJSON performs one rate limited, circuit broken, cached GET and decodes
// the JSON body into data.
func (p *provider) getJSON(ctx context.Context, reqUrl string, header http.Header, data interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			getReq.Header[k] = v
		}
		res, err := p.cache.CachedFetch(getReq, p.Http, p.ttl)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
			return nil, &ProviderError{
				Provider: p.source,
				Status:   res.StatusCode,
				Message:  strings.TrimSpace(string(body)),
			}
		}
		return nil, json.NewDecoder(res.Body).Decode(data)
	})
	return err
}
