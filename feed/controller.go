// Package feed keeps the paginated result feed of one search session.
package feed

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/moddengine/imgfeed/search"
	"go.uber.org/zap"
)

// ErrStale is returned to a caller whose request was overtaken by a newer
// search or by Close. Its results were discarded.
var ErrStale = errors.New("feed: request superseded by a newer search")

// Source produces one interleaved page for a query.
type Source interface {
	Aggregate(ctx context.Context, query string, page int) ([]search.ImageResult, error)
}

// Aggregator is the in-process page producer, which never fails.
type Aggregator interface {
	Aggregate(ctx context.Context, query string, page int) []search.ImageResult
}

type local struct {
	agg Aggregator
}

// Local adapts an in-process aggregator to a Source.
func Local(agg Aggregator) Source {
	return local{agg: agg}
}

func (l local) Aggregate(ctx context.Context, query string, page int) ([]search.ImageResult, error) {
	return l.agg.Aggregate(ctx, query, page), nil
}

type State int

const (
	Idle State = iota
	Searching
	Ready
	Empty
	Error
	LoadingMore
	Exhausted
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	case Error:
		return "error"
	case LoadingMore:
		return "loading-more"
	case Exhausted:
		return "exhausted"
	}
	return "idle"
}

// Controller owns the feed of one search session. Network calls run outside
// the lock; a generation counter discards answers for abandoned queries.
type Controller struct {
	source Source
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	query   string
	page    int
	gen     uint64
	session string
	results []search.ImageResult
	seen    map[string]struct{}
}

func NewController(source Source, log *zap.Logger) *Controller {
	return &Controller{
		source: source,
		log:    log.Named("feed"),
	}
}

// Search starts a new session for query and returns its first page. Any
// request still in flight for an older session gets ErrStale.
func (c *Controller) Search(ctx context.Context, query string) ([]search.ImageResult, error) {
	query = strings.TrimSpace(query)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.session = uuid.NewString()
	c.query = query
	c.page = 0
	c.results = nil
	c.seen = make(map[string]struct{})
	c.state = Searching
	log := c.log.With(zap.String("session", c.session))
	c.mu.Unlock()

	log.Debug("Searching", zap.String("query", query))
	items, err := c.source.Aggregate(ctx, query, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		log.Debug("Discarding stale page", zap.String("query", query))
		return nil, ErrStale
	}
	if err != nil {
		c.state = Error
		log.Warn("Search failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	c.page = 1
	c.appendNew(items)
	if len(c.results) == 0 {
		c.state = Empty
	} else {
		c.state = Ready
	}
	log.Info("Search ready",
		zap.String("query", query),
		zap.Int("results", len(c.results)),
		zap.Stringer("state", c.state))
	return clone(c.results), nil
}

// LoadMore fetches the next page and returns the results it appended. It is
// a no-op returning nil, nil unless the feed is Ready, so a second call
// while one is in flight is dropped.
func (c *Controller) LoadMore(ctx context.Context) ([]search.ImageResult, error) {
	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = LoadingMore
	gen := c.gen
	query := c.query
	next := c.page + 1
	log := c.log.With(zap.String("session", c.session))
	c.mu.Unlock()

	items, err := c.source.Aggregate(ctx, query, next)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		log.Debug("Discarding stale page", zap.Int("page", next))
		return nil, ErrStale
	}
	if err != nil {
		c.state = Ready
		log.Warn("Loading more failed", zap.Int("page", next), zap.Error(err))
		return nil, err
	}
	c.page = next
	added := c.appendNew(items)
	if len(added) == 0 {
		c.state = Exhausted
	} else {
		c.state = Ready
	}
	log.Debug("Loaded page",
		zap.Int("page", next),
		zap.Int("added", len(added)),
		zap.Int("total", len(c.results)))
	return clone(added), nil
}

// appendNew appends the items whose URL is not in the feed yet. Callers
// hold mu.
func (c *Controller) appendNew(items []search.ImageResult) []search.ImageResult {
	start := len(c.results)
	for _, item := range items {
		if _, dup := c.seen[item.URL]; dup {
			continue
		}
		c.seen[item.URL] = struct{}{}
		c.results = append(c.results, item)
	}
	return c.results[start:]
}

// Results lazily walks the current session's feed, including items appended
// while iterating. The sequence ends early once a new search or Close
// replaces the session.
func (c *Controller) Results() iter.Seq[search.ImageResult] {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return func(yield func(search.ImageResult) bool) {
		for idx := 0; ; idx++ {
			c.mu.Lock()
			if c.gen != gen || idx >= len(c.results) {
				c.mu.Unlock()
				return
			}
			item := c.results[idx]
			c.mu.Unlock()
			if !yield(item) {
				return
			}
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Page is the last page fetched for the session, 0 before the first answer.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Session identifies the current search session in logs.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close discards the feed and returns to Idle.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.state = Idle
	c.query = ""
	c.page = 0
	c.session = ""
	c.results = nil
	c.seen = nil
}

func clone(in []search.ImageResult) []search.ImageResult {
	if len(in) == 0 {
		return []search.ImageResult{}
	}
	out := make([]search.ImageResult, len(in))
	copy(out, in)
	return out
}
