package main

import (
	"github.com/moddengine/imgfeed/imgproc"
	"github.com/moddengine/imgfeed/search"
	"go.uber.org/zap"
)

// newAggregator builds every provider adapter and the aggregator on top of
// them. Providers without a key stay in the rotation and answer empty.
func newAggregator(cfg Config, reqCache *search.ReqCache, log *zap.Logger) (*search.Aggregator, error) {
	order, err := cfg.order()
	if err != nil {
		return nil, err
	}
	batch := cfg.Search.BatchSize
	apis := []search.ImageSearcher{
		search.NewPexelsApi(cfg.Pexels, batch, reqCache, log),
		search.NewUnsplashApi(cfg.Unsplash, batch, reqCache, log),
		search.NewPixabayApi(cfg.Pixabay, batch, reqCache, log),
	}
	for _, api := range apis {
		log.Debug("Configured provider",
			zap.Stringer("source", api.Source()),
			zap.Int("pageSize", api.PageSize()),
			zap.Duration("ttl", api.TTL()))
	}
	return search.NewAggregator(apis, search.AggregatorOptions{
		Order:          order,
		Timeout:        cfg.Search.Timeout,
		PageTTL:        cfg.Search.PageTTL,
		PartialPageTTL: cfg.Search.PartialPageTTL,
	}, log), nil
}

func newProxy(cfg Config, log *zap.Logger) *imgproc.Proxy {
	return imgproc.NewProxy(imgproc.ProxyOptions{
		DefaultWidth: cfg.Proxy.DefaultWidth,
		MaxWidth:     cfg.Proxy.MaxWidth,
		MaxBytes:     int64(cfg.Proxy.MaxBytes),
		MaxPixels:    cfg.Proxy.MaxPixels,
		Timeout:      cfg.Proxy.Timeout,
		UserAgent:    cfg.Proxy.UserAgent,
		AllowPrivate: cfg.Proxy.AllowPrivate,
	}, log)
}

func newCropper(cfg Config) *imgproc.Cropper {
	return imgproc.NewCropper(cfg.Crop.AspectWidth, cfg.Crop.AspectHeight, cfg.Crop.Quality).
		WithMaxPixels(cfg.Proxy.MaxPixels)
}

func newOptimizer(cfg Config) *imgproc.Optimizer {
	return imgproc.NewOptimizer(cfg.Proxy.MaxBytes, cfg.Proxy.MaxPixels)
}
