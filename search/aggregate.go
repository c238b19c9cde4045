package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProviderTimeout = 8 * time.Second
	DefaultPageTTL         = 10 * time.Minute
	DefaultPartialPageTTL  = 30 * time.Second
)

// Outcome classifies how many providers contributed to a page.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomePartialFailure
	OutcomeTotalFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomePartialFailure:
		return "partial"
	case OutcomeTotalFailure:
		return "total"
	}
	return "complete"
}

type AggregatorOptions struct {
	Order   []Source
	Timeout time.Duration
	PageTTL time.Duration
	// PartialPageTTL memoizes pages some provider did not answer. It never
	// exceeds PageTTL.
	PartialPageTTL time.Duration
}

// Aggregator fans a query out to every provider and interleaves the
// answers in a fixed provider order.
type Aggregator struct {
	apis       []ImageSearcher
	timeout    time.Duration
	pageTTL    time.Duration
	partialTTL time.Duration
	pages      *gocache.Cache
	log        *zap.Logger
}

func NewAggregator(apis []ImageSearcher, opts AggregatorOptions, log *zap.Logger) *Aggregator {
	order := opts.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProviderTimeout
	}
	a := &Aggregator{
		apis:    Ordered(order, apis),
		timeout: opts.Timeout,
		log:     log.Named("aggregate"),
	}
	if opts.PartialPageTTL <= 0 {
		opts.PartialPageTTL = DefaultPartialPageTTL
	}
	if opts.PageTTL > 0 {
		a.pageTTL = opts.PageTTL
		a.partialTTL = min(opts.PartialPageTTL, opts.PageTTL)
		a.pages = gocache.New(opts.PageTTL, 2*opts.PageTTL)
	}
	return a
}

// Ordered sorts apis by their position in order. Providers missing from
// order keep their relative position after the listed ones.
func Ordered(order []Source, apis []ImageSearcher) []ImageSearcher {
	rank := make(map[Source]int, len(order))
	for i, s := range order {
		if _, dup := rank[s]; !dup {
			rank[s] = i
		}
	}
	sorted := make([]ImageSearcher, len(apis))
	copy(sorted, apis)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, ok := rank[sorted[i].Source()]
		if !ok {
			ri = len(order)
		}
		rj, ok := rank[sorted[j].Source()]
		if !ok {
			rj = len(order)
		}
		return ri < rj
	})
	return sorted
}

// Order returns the interleave order in effect.
func (a *Aggregator) Order() []Source {
	order := make([]Source, len(a.apis))
	for i, api := range a.apis {
		order[i] = api.Source()
	}
	return order
}

func (a *Aggregator) Aggregate(ctx context.Context, query string, page int) []ImageResult {
	query = strings.TrimSpace(query)
	if query == "" || len(a.apis) == 0 {
		return []ImageResult{}
	}
	if page < 1 {
		page = 1
	}
	key := fmt.Sprintf("%d|%s", page, strings.ToLower(query))
	if a.pages != nil {
		if cached, ok := a.pages.Get(key); ok {
			return clone(cached.([]ImageResult))
		}
	}

	batches := make([][]ImageResult, len(a.apis))
	g, gctx := errgroup.WithContext(ctx)
	for num, api := range a.apis {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()
			batches[num] = api.Search(callCtx, page, query)
			return nil
		})
	}
	// adapters report failures as empty batches, never as errors
	_ = g.Wait()

	empty := 0
	for _, b := range batches {
		if len(b) == 0 {
			empty++
		}
	}
	outcome := OutcomeComplete
	switch {
	case empty == len(batches):
		outcome = OutcomeTotalFailure
	case empty > 0:
		outcome = OutcomePartialFailure
	}
	results := Interleave(batches...)
	a.log.Debug("Aggregated page",
		zap.String("query", query),
		zap.Int("page", page),
		zap.Int("results", len(results)),
		zap.Stringer("outcome", outcome))

	if a.pages != nil && len(results) > 0 && ctx.Err() == nil {
		ttl := a.pageTTL
		if outcome != OutcomeComplete {
			ttl = a.partialTTL
		}
		a.pages.Set(key, clone(results), ttl)
	}
	return results
}

// Interleave merges batches round-robin: the first item of every batch, then
// the second, and so on. Shorter batches drop out of the rotation.
func Interleave(batches ...[]ImageResult) []ImageResult {
	total := 0
	longest := 0
	for _, b := range batches {
		total += len(b)
		longest = max(longest, len(b))
	}
	results := make([]ImageResult, 0, total)
	for idx := 0; idx < longest; idx++ {
		for _, b := range batches {
			if idx < len(b) {
				results = append(results, b[idx])
			}
		}
	}
	return results
}

func clone(in []ImageResult) []ImageResult {
	out := make([]ImageResult, len(in))
	copy(out, in)
	return out
}
