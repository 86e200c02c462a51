package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/filter"
	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/rs/zerolog"
)

// Resolution is a successful redirect decision
type Resolution struct {
	URL string
	// FromCache is true when the URL came from Redis without a database read.
	FromCache bool
}

// Resolver turns short codes into redirect targets and records the click.
//
// A cache hit trusts Redis: the cached URL is returned without re-checking
// existence or expiry, and the click is buffered for the reconciler. A miss
// reads and updates the link in MySQL within one transaction and may promote
// the link into the cache.
type Resolver struct {
	cache    FastStore
	store    repository.Store
	bloom    *filter.CodeFilter
	promoter *Promoter
	log      zerolog.Logger
	now      func() time.Time
}

// NewResolver creates a resolver. bloom may be nil to disable the pre-filter.
func NewResolver(cache FastStore, store repository.Store, bloom *filter.CodeFilter, promoter *Promoter, log zerolog.Logger) *Resolver {
	return &Resolver{
		cache:    cache,
		store:    store,
		bloom:    bloom,
		promoter: promoter,
		log:      log.With().Str("component", "resolver").Logger(),
		now:      time.Now,
	}
}

// Resolve returns the destination for shortCode, or ErrNotFound / ErrGone.
// Failures to buffer or promote never fail the redirect.
func (r *Resolver) Resolve(ctx context.Context, shortCode string, meta model.ClientMetadata) (*Resolution, error) {
	now := r.now().UTC()

	originalURL, err := r.cache.Get(ctx, shortCode)
	if err != nil {
		r.log.Warn().Err(err).Str("short_code", shortCode).Msg("cache lookup failed, falling back to database")
	}
	if originalURL != "" {
		r.bufferClick(ctx, shortCode, model.NewClickDetail(meta, now))
		return &Resolution{URL: originalURL, FromCache: true}, nil
	}

	return r.resolveMiss(ctx, shortCode, meta, now)
}

func (r *Resolver) bufferClick(ctx context.Context, shortCode string, detail model.ClickDetail) {
	if err := r.cache.BufferClick(ctx, shortCode, detail); err != nil {
		r.log.Error().
			Err(fmt.Errorf("%w: %v", ErrBufferWrite, err)).
			Str("short_code", shortCode).
			Msg("click dropped")
	}
}

func (r *Resolver) resolveMiss(ctx context.Context, shortCode string, meta model.ClientMetadata, now time.Time) (*Resolution, error) {
	if !r.bloom.MayExist(shortCode) {
		return nil, ErrNotFound
	}

	var link *model.Link
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		found, err := tx.FindLinkByCode(ctx, shortCode)
		if err != nil {
			return err
		}
		if found == nil {
			return ErrNotFound
		}
		if found.IsExpiredAt(now) {
			return ErrGone
		}

		found.ClickCount++
		found.LastAccessed = &now
		if err := tx.UpdateLink(ctx, found); err != nil {
			return err
		}
		if err := tx.AppendClickEvent(ctx, model.NewClickDetail(meta, now).Event(found.ID)); err != nil {
			return err
		}

		// still holding the row lock: an update of this link commits, and
		// then drops the cache entry, only after this write
		r.promoter.MaybePromote(ctx, found, now)
		link = found
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", shortCode, err)
	}

	return &Resolution{URL: link.OriginalURL}, nil
}
