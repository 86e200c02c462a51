package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/rs/zerolog"
)

// SweepCache is the Redis side of the expiry sweep
type SweepCache interface {
	Delete(ctx context.Context, shortCode string) error
	DiscardBuffer(ctx context.Context, shortCode string) error
	RemovePopular(ctx context.Context, shortCode string) error
}

// Sweeper purges expired links from MySQL and every Redis key that refers to them
type Sweeper struct {
	cache SweepCache
	store repository.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewSweeper creates an expiry sweeper
func NewSweeper(cache SweepCache, store repository.Store, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		cache: cache,
		store: store,
		log:   log.With().Str("component", "sweeper").Logger(),
		now:   time.Now,
	}
}

// Run performs one sweep. It satisfies Task.Run.
func (s *Sweeper) Run(ctx context.Context) error {
	n, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("expired links purged")
	}
	return nil
}

// Sweep deletes every link whose expiry lies in the past and returns how many
// were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredLinks(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSweep, err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, link := range expired {
		logger := s.log.With().Str("short_code", link.ShortCode).Logger()
		if err := s.cache.Delete(ctx, link.ShortCode); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate cache")
		}
		if err := s.cache.DiscardBuffer(ctx, link.ShortCode); err != nil {
			logger.Warn().Err(err).Msg("failed to discard click buffer")
		}
		if err := s.cache.RemovePopular(ctx, link.ShortCode); err != nil {
			logger.Warn().Err(err).Msg("failed to remove popular mark")
		}
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		for _, link := range expired {
			if err := tx.DeleteLink(ctx, link.ShortCode); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSweep, err)
	}

	return len(expired), nil
}
