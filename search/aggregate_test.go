package search

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSearcher struct {
	source  Source
	perPage int
	delay   time.Duration
	hang    bool
	pages   int
	calls   int32
}

func (f *fakeSearcher) Search(ctx context.Context, page int, query string) []ImageResult {
	atomic.AddInt32(&f.calls, 1)
	if f.hang {
		<-ctx.Done()
		return []ImageResult{}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return []ImageResult{}
		}
	}
	if page > f.pages {
		return []ImageResult{}
	}
	out := make([]ImageResult, f.perPage)
	for i := range out {
		out[i] = result(f.source, fmt.Sprintf("%s-%d-%d", query, page, i))
	}
	return out
}

func (f *fakeSearcher) Source() Source     { return f.source }
func (f *fakeSearcher) TTL() time.Duration { return time.Hour }
func (f *fakeSearcher) PageSize() int      { return f.perPage }

func result(source Source, id string) ImageResult {
	return ImageResult{
		ID:              string(source) + "/" + id,
		URL:             "https://img.example/" + string(source) + "/" + id + ".jpg",
		AttributionName: "someone",
		AttributionURL:  "https://img.example/someone",
		Source:          source,
	}
}

func sources(results []ImageResult) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = r.Source
	}
	return out
}

func TestInterleave(t *testing.T) {
	c := []ImageResult{result(SourcePexels, "c1"), result(SourcePexels, "c2"), result(SourcePexels, "c3")}
	a := []ImageResult{result(SourceUnsplash, "a1")}
	b := []ImageResult{result(SourcePixabay, "b1"), result(SourcePixabay, "b2")}

	merged := Interleave(c, a, b)

	ids := make([]string, len(merged))
	for i, r := range merged {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{
		"pexels/c1", "unsplash/a1", "pixabay/b1",
		"pexels/c2", "pixabay/b2",
		"pexels/c3",
	}, ids)
	assert.Empty(t, Interleave())
	assert.Empty(t, Interleave(nil, []ImageResult{}))
}

func TestOrdered(t *testing.T) {
	a := &fakeSearcher{source: SourceUnsplash}
	b := &fakeSearcher{source: SourcePixabay}
	c := &fakeSearcher{source: SourcePexels}

	ordered := Ordered(DefaultOrder, []ImageSearcher{a, b, c})
	assert.Equal(t, []ImageSearcher{c, a, b}, ordered)

	ordered = Ordered([]Source{SourcePixabay}, []ImageSearcher{a, b, c})
	assert.Equal(t, []ImageSearcher{b, a, c}, ordered, "unlisted providers keep their relative order")
}

func TestAggregateOrderIndependentOfTiming(t *testing.T) {
	apis := []ImageSearcher{
		&fakeSearcher{source: SourcePixabay, perPage: 2, pages: 1},
		&fakeSearcher{source: SourceUnsplash, perPage: 2, pages: 1, delay: 20 * time.Millisecond},
		&fakeSearcher{source: SourcePexels, perPage: 2, pages: 1, delay: 40 * time.Millisecond},
	}
	agg := NewAggregator(apis, AggregatorOptions{}, zap.NewNop())

	results := agg.Aggregate(t.Context(), "mountain", 1)

	assert.Equal(t, []Source{
		SourcePexels, SourceUnsplash, SourcePixabay,
		SourcePexels, SourceUnsplash, SourcePixabay,
	}, sources(results))
	assert.Equal(t, DefaultOrder, agg.Order())
}

func TestAggregateToleratesFailedProviders(t *testing.T) {
	apis := []ImageSearcher{
		&fakeSearcher{source: SourcePexels, perPage: 0, pages: 1},
		&fakeSearcher{source: SourceUnsplash, perPage: 3, pages: 1},
		&fakeSearcher{source: SourcePixabay, perPage: 1, pages: 1},
	}
	agg := NewAggregator(apis, AggregatorOptions{}, zap.NewNop())

	results := agg.Aggregate(t.Context(), "mountain", 1)

	assert.Equal(t, []Source{SourceUnsplash, SourcePixabay, SourceUnsplash, SourceUnsplash}, sources(results))
}

func TestAggregateBoundsHungProvider(t *testing.T) {
	apis := []ImageSearcher{
		&fakeSearcher{source: SourcePexels, hang: true},
		&fakeSearcher{source: SourceUnsplash, perPage: 2, pages: 1},
	}
	agg := NewAggregator(apis, AggregatorOptions{Timeout: 50 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	results := agg.Aggregate(t.Context(), "mountain", 1)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []Source{SourceUnsplash, SourceUnsplash}, sources(results))
}

func TestAggregateMemoizesPages(t *testing.T) {
	api := &fakeSearcher{source: SourcePexels, perPage: 2, pages: 1}
	agg := NewAggregator([]ImageSearcher{api}, AggregatorOptions{PageTTL: time.Minute}, zap.NewNop())

	first := agg.Aggregate(t.Context(), "Mountain", 1)
	first[0].ID = "mutated"
	second := agg.Aggregate(t.Context(), "mountain", 1)

	assert.Equal(t, int32(1), atomic.LoadInt32(&api.calls))
	assert.Equal(t, "pexels/Mountain-1-0", second[0].ID)
}

func TestAggregatePartialPagesExpireEarly(t *testing.T) {
	pexels := &fakeSearcher{source: SourcePexels, perPage: 2, pages: 1}
	pixabay := &fakeSearcher{source: SourcePixabay, perPage: 0, pages: 1}
	agg := NewAggregator([]ImageSearcher{pexels, pixabay}, AggregatorOptions{
		PageTTL:        time.Minute,
		PartialPageTTL: time.Millisecond,
	}, zap.NewNop())

	first := agg.Aggregate(t.Context(), "mountain", 1)
	assert.Equal(t, []Source{SourcePexels, SourcePexels}, sources(first))

	pixabay.perPage = 2
	time.Sleep(20 * time.Millisecond)
	second := agg.Aggregate(t.Context(), "mountain", 1)
	assert.Equal(t, []Source{SourcePexels, SourcePixabay, SourcePexels, SourcePixabay}, sources(second))

	third := agg.Aggregate(t.Context(), "mountain", 1)
	assert.Equal(t, second, third)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pexels.calls), "complete pages stay memoized")
}

func TestAggregateTwoPagesOfFortyFive(t *testing.T) {
	apis := []ImageSearcher{
		&fakeSearcher{source: SourcePexels, perPage: 15, pages: 2},
		&fakeSearcher{source: SourceUnsplash, perPage: 15, pages: 2},
		&fakeSearcher{source: SourcePixabay, perPage: 15, pages: 2},
	}
	agg := NewAggregator(apis, AggregatorOptions{}, zap.NewNop())

	page1 := agg.Aggregate(t.Context(), "mountain sunrise", 1)
	page2 := agg.Aggregate(t.Context(), "mountain sunrise", 2)
	page3 := agg.Aggregate(t.Context(), "mountain sunrise", 3)

	require.Len(t, page1, 45)
	require.Len(t, page2, 45)
	assert.Empty(t, page3)
	for i, r := range page1 {
		assert.Equal(t, DefaultOrder[i%3], r.Source)
	}
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
	assert.Equal(t, page1, agg.Aggregate(t.Context(), "mountain sunrise", 1), "stable on repeat")
}

func TestAggregateEmptyQuery(t *testing.T) {
	api := &fakeSearcher{source: SourcePexels, perPage: 2, pages: 1}
	agg := NewAggregator([]ImageSearcher{api}, AggregatorOptions{}, zap.NewNop())

	assert.Empty(t, agg.Aggregate(t.Context(), "   ", 1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&api.calls))
}
