// Package embedding turns incident text and photos into vectors and compares them.
// Every remote failure is absorbed here: callers only ever see "no embedding".
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/civicwatch/civicwatch/internal/logging"
	"github.com/civicwatch/civicwatch/internal/utils"
)

// Config tunes the provider
type Config struct {
	TextModel         string
	VisionModel       string
	CacheTTL          time.Duration
	MaxTextRunes      int
	MaxImageBytes     int64
	FetchTimeout      time.Duration
	RequestsPerSecond float64 // 0 disables client-side rate limiting
	Burst             int
	Retry             RetryConfig
}

// DefaultConfig returns the provider defaults
func DefaultConfig() Config {
	return Config{
		TextModel:         string(openai.SmallEmbedding3),
		VisionModel:       openai.GPT4oMini,
		CacheTTL:          7 * 24 * time.Hour,
		MaxTextRunes:      10000,
		MaxImageBytes:     10 << 20,
		FetchTimeout:      15 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		Retry:             DefaultRetryConfig(),
	}
}

// Provider computes embeddings through a cache, collapsing concurrent fills of the same key
type Provider struct {
	client  Client
	cache   Cache
	fetcher *ImageFetcher
	limiter *rate.Limiter
	group   singleflight.Group
	cfg     Config
	logger  *slog.Logger
}

// NewProvider creates a provider. A nil cache disables caching.
func NewProvider(client Client, cache Cache, cfg Config) *Provider {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Provider{
		client:  client,
		cache:   cache,
		fetcher: NewImageFetcher(cfg.FetchTimeout, cfg.MaxImageBytes),
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		logger:  logging.Component("embedding"),
	}
}

// TextKey is the cache key for a normalized text under a model
func TextKey(model, normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return "emb:text:" + model + ":" + hex.EncodeToString(sum[:])
}

// ImageKey is the cache key for an image description
func ImageKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "emb:img:" + hex.EncodeToString(sum[:])
}

// NormalizeText applies the whitespace and length rules used before embedding
func (p *Provider) NormalizeText(text string) string {
	return utils.TruncateRunes(utils.NormalizeWhitespace(text), p.cfg.MaxTextRunes, "")
}

// EmbedText returns the embedding for text, or false when the text is blank
// or the remote service could not produce one.
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, bool) {
	normalized := p.NormalizeText(text)
	if normalized == "" {
		return nil, false
	}
	key := TextKey(p.cfg.TextModel, normalized)

	if raw, ok := p.cacheGet(ctx, key); ok {
		if vec, err := decodeVector(raw); err == nil {
			return vec, true
		}
		p.logger.WarnContext(ctx, "discarding corrupt cached vector", "key", key)
	}
	if p.client == nil {
		return nil, false
	}

	v, err := p.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		var vec []float32
		err := retryWithBackoff(ctx, p.cfg.Retry, p.logger, "embed text", func(ctx context.Context) error {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			vec, err = p.client.Embed(ctx, p.cfg.TextModel, normalized)
			return err
		})
		if err != nil {
			return nil, err
		}
		p.cacheSet(ctx, key, encodeVector(vec))
		return vec, nil
	})
	if err != nil {
		p.logger.WarnContext(ctx, "text embedding unavailable", "error", err)
		return nil, false
	}
	return v.([]float32), true
}

// EmbedImage describes the image with the vision model and embeds the description.
// Descriptions are cached by URL so the download happens once per photo.
func (p *Provider) EmbedImage(ctx context.Context, url string) ([]float32, bool) {
	if err := validateImageURL(url); err != nil {
		p.logger.DebugContext(ctx, "skipping image", "url", url, "error", err)
		return nil, false
	}
	key := ImageKey(url)

	if raw, ok := p.cacheGet(ctx, key); ok && len(raw) > 0 {
		return p.EmbedText(ctx, string(raw))
	}
	if p.client == nil {
		return nil, false
	}

	v, err := p.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		var data []byte
		var mime string
		err := retryWithBackoff(ctx, p.cfg.Retry, p.logger, "fetch image", func(ctx context.Context) error {
			var err error
			data, mime, err = p.fetcher.Fetch(ctx, url)
			return err
		})
		if err != nil {
			return "", err
		}

		var desc string
		err = retryWithBackoff(ctx, p.cfg.Retry, p.logger, "describe image", func(ctx context.Context) error {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			desc, err = p.client.DescribeImage(ctx, p.cfg.VisionModel, mime, data)
			return err
		})
		if err != nil {
			return "", err
		}
		p.cacheSet(ctx, key, []byte(desc))
		return desc, nil
	})
	if err != nil {
		p.logger.WarnContext(ctx, "image embedding unavailable", "url", url, "error", err)
		return nil, false
	}
	return p.EmbedText(ctx, v.(string))
}

// shared runs fill once per key across concurrent callers. The fill is detached
// from any single caller's cancellation and bounded by the per-attempt retry
// timeout; each caller stops waiting when its own ctx is done.
func (p *Provider) shared(ctx context.Context, key string, fill func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	fillCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		return fill(fillCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Provider) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.WarnContext(ctx, "embedding cache read failed", "key", key, "error", err)
		return nil, false
	}
	return raw, ok
}

func (p *Provider) cacheSet(ctx context.Context, key string, value []byte) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, key, value, p.cfg.CacheTTL); err != nil {
		p.logger.WarnContext(ctx, "embedding cache write failed", "key", key, "error", err)
	}
}
