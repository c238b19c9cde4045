package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/moddengine/imgfeed/imgproc"
	"github.com/moddengine/imgfeed/search"
	"github.com/moddengine/imgfeed/store"
	"github.com/spf13/viper"
)

const defaultConfigFile = "conf/config.json"

type Config struct {
	Listen   string                `mapstructure:"listen"`
	Database string                `mapstructure:"database"`
	Pexels   search.ProviderConfig `mapstructure:"pexels"`
	Unsplash search.ProviderConfig `mapstructure:"unsplash"`
	Pixabay  search.ProviderConfig `mapstructure:"pixabay"`
	Search   struct {
		Order     []string      `mapstructure:"order"`
		BatchSize int           `mapstructure:"batchSize"`
		Timeout   time.Duration `mapstructure:"timeout"`
		PageTTL   time.Duration `mapstructure:"pageTtl"`
		// applies to pages missing a provider's answer
		PartialPageTTL time.Duration `mapstructure:"partialPageTtl"`
	} `mapstructure:"search"`
	Proxy struct {
		DefaultWidth int           `mapstructure:"defaultWidth"`
		MaxWidth     int           `mapstructure:"maxWidth"`
		MaxBytes     int           `mapstructure:"maxBytes"`
		MaxPixels    int           `mapstructure:"maxPixels"`
		Timeout      time.Duration `mapstructure:"timeout"`
		UserAgent    string        `mapstructure:"userAgent"`
		AllowPrivate bool          `mapstructure:"allowPrivate"`
	} `mapstructure:"proxy"`
	Crop struct {
		AspectWidth  int `mapstructure:"aspectWidth"`
		AspectHeight int `mapstructure:"aspectHeight"`
		Quality      int `mapstructure:"quality"`
	} `mapstructure:"crop"`
	Auth struct {
		Required bool `mapstructure:"required"`
	} `mapstructure:"auth"`
	Debug struct {
		PrettyJson bool `mapstructure:"prettyJson"`
	} `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8081")
	v.SetDefault("database", store.DefaultFile)
	for _, provider := range []string{"pexels", "unsplash", "pixabay"} {
		v.SetDefault(provider+".key", "")
		v.SetDefault(provider+".baseUrl", "")
		v.SetDefault(provider+".perPage", 0)
		v.SetDefault(provider+".requestsPerMinute", 60)
		v.SetDefault(provider+".ttl", 24*time.Hour)
	}
	order := make([]string, len(search.DefaultOrder))
	for i, s := range search.DefaultOrder {
		order[i] = s.String()
	}
	v.SetDefault("search.order", order)
	v.SetDefault("search.batchSize", search.DefaultBatchSize)
	v.SetDefault("search.timeout", search.DefaultProviderTimeout)
	v.SetDefault("search.pageTtl", search.DefaultPageTTL)
	v.SetDefault("search.partialPageTtl", search.DefaultPartialPageTTL)
	v.SetDefault("proxy.defaultWidth", imgproc.DefaultPreviewWidth)
	v.SetDefault("proxy.maxWidth", imgproc.DefaultMaxWidth)
	v.SetDefault("proxy.maxBytes", imgproc.DefaultMaxBytes)
	v.SetDefault("proxy.maxPixels", imgproc.DefaultMaxPixels)
	v.SetDefault("proxy.allowPrivate", false)
	v.SetDefault("proxy.timeout", 20*time.Second)
	v.SetDefault("proxy.userAgent", "imgfeed/1.0")
	v.SetDefault("crop.aspectWidth", imgproc.DefaultAspectWidth)
	v.SetDefault("crop.aspectHeight", imgproc.DefaultAspectHeight)
	v.SetDefault("crop.quality", imgproc.DefaultCropQuality)
	v.SetDefault("auth.required", false)
	v.SetDefault("debug.prettyJson", false)
}

// loadConfig reads filename (a missing file leaves the defaults in place)
// and applies IMGFEED_* environment overrides, e.g. IMGFEED_PEXELS_KEY.
func loadConfig(filename string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("IMGFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename == "" {
		filename = defaultConfigFile
	}
	v.SetConfigFile(filename)
	if err := v.ReadInConfig(); err != nil {
		var (
			notFound  viper.ConfigFileNotFoundError
			syntaxErr *json.SyntaxError
		)
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.As(err, &notFound):
		case errors.As(err, &syntaxErr):
			pos := syntaxErrorPos(filename, syntaxErr.Offset)
			return Config{}, fmt.Errorf("unable to decode configuration file %s (line: %d, pos: %d): %w",
				filename, pos.line, pos.pos, err)
		default:
			return Config{}, fmt.Errorf("reading configuration %s: %w", filename, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	if _, err := cfg.order(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// order is the configured provider interleave order.
func (cfg Config) order() ([]search.Source, error) {
	order := make([]search.Source, 0, len(cfg.Search.Order))
	for _, name := range cfg.Search.Order {
		s, err := search.ParseSource(name)
		if err != nil {
			return nil, fmt.Errorf("search.order: %w", err)
		}
		order = append(order, s)
	}
	return order, nil
}

type FilePos struct {
	line int
	pos  int
}

func syntaxErrorPos(filename string, offset int64) FilePos {
	f, err := os.Open(filename)
	if err != nil {
		return FilePos{line: 1, pos: int(offset)}
	}
	defer f.Close()
	return findPos(bufio.NewReader(f), int(offset))
}

// findPos turns a byte offset into a line number and a position within that
// line.
func findPos(file *bufio.Reader, offset int) FilePos {
	p := FilePos{line: 1, pos: offset}
	var lineLen int
	for line, err := file.ReadBytes('\n'); len(line) > 0 && err == nil; line, err = file.ReadBytes('\n') {
		if p.pos < len(line) {
			return p
		}
		lineLen += len(line)
		if line[len(line)-1] == '\n' {
			p.line += 1
			p.pos -= lineLen
			lineLen = 0
		}
	}
	return p
}
