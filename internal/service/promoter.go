package service

import (
	"context"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/rs/zerolog"
)

// PromotionStore is what the promoter writes to
type PromotionStore interface {
	SetURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration) error
	AddPopular(ctx context.Context, shortCode string) error
	IsPopular(ctx context.Context, shortCode string) (bool, error)
}

// Promoter admits popular links into the Redis URL cache. Promotion is
// advisory: every failure is logged and swallowed.
type Promoter struct {
	cache     PromotionStore
	threshold int64
	log       zerolog.Logger
}

// NewPromoter creates a promoter with the given click threshold
func NewPromoter(cache PromotionStore, threshold int64, log zerolog.Logger) *Promoter {
	if threshold < 1 {
		threshold = 1
	}
	return &Promoter{
		cache:     cache,
		threshold: threshold,
		log:       log.With().Str("component", "promoter").Logger(),
	}
}

// ShouldPromote reports whether clickCount reached the popularity threshold
func (p *Promoter) ShouldPromote(clickCount int64) bool {
	return clickCount >= p.threshold
}

// PromotionTTL derives the cache TTL for a promoted link: 0 (no expiry) for
// links that never expire, otherwise the time left until expiry. ok is false
// when the link is already expired and must not be cached.
func PromotionTTL(link *model.Link, now time.Time) (ttl time.Duration, ok bool) {
	if link.ExpiresAt == nil {
		return 0, true
	}
	remaining := link.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// CacheTTL is the TTL for ordinary, non-promoted cache writes: the default
// TTL capped by the link's remaining lifetime.
func CacheTTL(link *model.Link, defaultTTL time.Duration, now time.Time) (time.Duration, bool) {
	ttl, ok := PromotionTTL(link, now)
	if !ok {
		return 0, false
	}
	if ttl == 0 || ttl > defaultTTL {
		return defaultTTL, true
	}
	return ttl, true
}

// IsPopular checks popular set membership. Lookup errors count as not popular.
func (p *Promoter) IsPopular(ctx context.Context, shortCode string) bool {
	ok, err := p.cache.IsPopular(ctx, shortCode)
	if err != nil {
		p.log.Warn().Err(err).Str("short_code", shortCode).Msg("popular set lookup failed")
		return false
	}
	return ok
}

// MaybePromote promotes link when its click count crossed the threshold or
// it was popular before. It reports whether the link was cached.
func (p *Promoter) MaybePromote(ctx context.Context, link *model.Link, now time.Time) bool {
	if !p.ShouldPromote(link.ClickCount) && !p.IsPopular(ctx, link.ShortCode) {
		return false
	}
	return p.Promote(ctx, link, now)
}

// Promote writes the URL mapping with the promotion TTL and records the code
// in the popular set.
func (p *Promoter) Promote(ctx context.Context, link *model.Link, now time.Time) bool {
	logger := p.log.With().Str("short_code", link.ShortCode).Logger()

	ttl, ok := PromotionTTL(link, now)
	if !ok {
		logger.Debug().Msg("skipping promotion of expired link")
		return false
	}

	if err := p.cache.SetURL(ctx, link.ShortCode, link.OriginalURL, ttl); err != nil {
		logger.Warn().Err(err).Msg("failed to cache promoted link")
		return false
	}
	if err := p.cache.AddPopular(ctx, link.ShortCode); err != nil {
		logger.Warn().Err(err).Msg("failed to record popular link")
	}

	logger.Debug().Int64("click_count", link.ClickCount).Dur("ttl", ttl).Msg("link promoted")
	return true
}
