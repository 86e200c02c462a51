package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/filter"
	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/Monthlyaway/short-link-analytics/internal/shortcode"
	"github.com/rs/zerolog"
)

const (
	recentClicksLimit = 10
	maxCodeAttempts   = 3
)

// LinkOptions tunes link management
type LinkOptions struct {
	CacheTTL       time.Duration
	AliasMinLength int
	AliasMaxLength int
}

// CreateLinkInput describes a shorten request
type CreateLinkInput struct {
	OriginalURL string
	CustomAlias string
	ExpiresAt   *time.Time
	Owner       *string
}

// LinkStats is a link with its recent durable clicks and the clicks still
// waiting in the Redis buffer.
type LinkStats struct {
	Link          *model.Link
	RecentClicks  []model.ClickEvent
	PendingClicks int64
}

// LinkService handles link management around the redirect path
type LinkService struct {
	store    repository.Store
	cache    FastStore
	bloom    *filter.CodeFilter
	codes    *shortcode.Generator
	promoter *Promoter
	opts     LinkOptions
	log      zerolog.Logger
	now      func() time.Time
}

// NewLinkService creates a new link service instance
func NewLinkService(
	store repository.Store,
	cache FastStore,
	bloom *filter.CodeFilter,
	codes *shortcode.Generator,
	promoter *Promoter,
	opts LinkOptions,
	log zerolog.Logger,
) *LinkService {
	return &LinkService{
		store:    store,
		cache:    cache,
		bloom:    bloom,
		codes:    codes,
		promoter: promoter,
		opts:     opts,
		log:      log.With().Str("component", "links").Logger(),
		now:      time.Now,
	}
}

// Create shortens a URL. Without an alias an existing link for the same URL
// is reused, and its expiry is renewed if it already lapsed.
func (s *LinkService) Create(ctx context.Context, in CreateLinkInput) (*model.Link, error) {
	if err := validateURL(in.OriginalURL); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}

	var (
		link *model.Link
		err  error
	)
	if in.CustomAlias != "" {
		link, err = s.createWithAlias(ctx, in)
	} else {
		link, err = s.createOrReuse(ctx, in, now)
	}
	if err != nil {
		return nil, err
	}

	s.bloom.Add(link.ShortCode)

	switch {
	case in.CustomAlias != "":
		s.cacheLink(ctx, link, now)
	case s.promoter.IsPopular(ctx, link.ShortCode):
		s.promoter.Promote(ctx, link, now)
	}

	return link, nil
}

func (s *LinkService) createWithAlias(ctx context.Context, in CreateLinkInput) (*model.Link, error) {
	if err := shortcode.ValidateAlias(in.CustomAlias, s.opts.AliasMinLength, s.opts.AliasMaxLength); err != nil {
		return nil, err
	}

	link := &model.Link{
		ShortCode:   in.CustomAlias,
		OriginalURL: in.OriginalURL,
		ExpiresAt:   in.ExpiresAt,
		Owner:       in.Owner,
	}
	if err := s.store.CreateLink(ctx, link); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAliasTaken
		}
		return nil, err
	}
	return link, nil
}

func (s *LinkService) createOrReuse(ctx context.Context, in CreateLinkInput, now time.Time) (*model.Link, error) {
	existing, err := s.store.FindLinkByURL(ctx, in.OriginalURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IsExpiredAt(now) {
			existing.ExpiresAt = in.ExpiresAt
			if err := s.store.UpdateLink(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	// Snowflake codes do not collide in practice, the retry covers aliases
	// that happen to look like generated codes.
	for i := 0; i < maxCodeAttempts; i++ {
		link := &model.Link{
			ShortCode:   s.codes.Next(),
			OriginalURL: in.OriginalURL,
			ExpiresAt:   in.ExpiresAt,
			Owner:       in.Owner,
		}
		err := s.store.CreateLink(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to generate a unique short code after %d attempts", maxCodeAttempts)
}

// Info returns a live link
func (s *LinkService) Info(ctx context.Context, shortCode string) (*model.Link, error) {
	link, err := s.find(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if link.IsExpiredAt(s.now()) {
		return nil, ErrGone
	}
	return link, nil
}

// Stats returns the durable counters, the latest clicks and the number of
// clicks not yet reconciled.
func (s *LinkService) Stats(ctx context.Context, shortCode string) (*LinkStats, error) {
	link, err := s.find(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.RecentClicks(ctx, link.ID, recentClicksLimit)
	if err != nil {
		return nil, err
	}

	pending, err := s.cache.PendingClicks(ctx, shortCode)
	if err != nil {
		s.log.Warn().Err(err).Str("short_code", shortCode).Msg("failed to read pending clicks")
	}

	return &LinkStats{Link: link, RecentClicks: recent, PendingClicks: pending}, nil
}

// Update points a link at a new URL. The cached mapping is dropped and
// rewritten only for popular links.
func (s *LinkService) Update(ctx context.Context, shortCode, originalURL string) (*model.Link, error) {
	if err := validateURL(originalURL); err != nil {
		return nil, err
	}

	var link *model.Link
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		found, err := tx.FindLinkByCode(ctx, shortCode)
		if err != nil {
			return err
		}
		if found == nil {
			return ErrNotFound
		}
		found.OriginalURL = originalURL
		if err := tx.UpdateLink(ctx, found); err != nil {
			return err
		}
		link = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, shortCode); err != nil {
		s.log.Warn().Err(err).Str("short_code", shortCode).Msg("failed to invalidate cache")
	}
	if s.promoter.IsPopular(ctx, shortCode) {
		s.promoter.Promote(ctx, link, s.now().UTC())
	}

	return link, nil
}

// Delete removes a link with its click history and every Redis trace of it
func (s *LinkService) Delete(ctx context.Context, shortCode string) error {
	if _, err := s.find(ctx, shortCode); err != nil {
		return err
	}
	if err := s.store.DeleteLink(ctx, shortCode); err != nil {
		return err
	}

	logger := s.log.With().Str("short_code", shortCode).Logger()
	if err := s.cache.Delete(ctx, shortCode); err != nil {
		logger.Warn().Err(err).Msg("failed to invalidate cache")
	}
	if err := s.cache.DiscardBuffer(ctx, shortCode); err != nil {
		logger.Warn().Err(err).Msg("failed to discard click buffer")
	}
	if err := s.cache.RemovePopular(ctx, shortCode); err != nil {
		logger.Warn().Err(err).Msg("failed to remove popular mark")
	}
	return nil
}

// Search lists the live links pointing at originalURL
func (s *LinkService) Search(ctx context.Context, originalURL string) ([]model.Link, error) {
	if originalURL == "" {
		return nil, fmt.Errorf("%w: URL cannot be empty", ErrInvalidURL)
	}
	return s.store.ListActiveLinksByURL(ctx, originalURL, s.now().UTC())
}

// InitBloomFilter loads every existing short code into the bloom filter
func (s *LinkService) InitBloomFilter(ctx context.Context) error {
	if s.bloom == nil {
		return nil
	}
	codes, err := s.store.AllShortCodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to get all short codes: %w", err)
	}

	s.bloom.Rebuild(codes)
	s.log.Info().Int("count", len(codes)).Msg("bloom filter initialized")
	return nil
}

// Ping reports whether MySQL and Redis are reachable
func (s *LinkService) Ping(ctx context.Context) error {
	var errs []error
	if err := s.store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mysql: %w", err))
	}
	if err := s.cache.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	return errors.Join(errs...)
}

func (s *LinkService) find(ctx context.Context, shortCode string) (*model.Link, error) {
	link, err := s.store.FindLinkByCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrNotFound
	}
	return link, nil
}

func (s *LinkService) cacheLink(ctx context.Context, link *model.Link, now time.Time) {
	ttl, ok := CacheTTL(link, s.opts.CacheTTL, now)
	if !ok {
		return
	}
	if err := s.cache.SetURL(ctx, link.ShortCode, link.OriginalURL, ttl); err != nil {
		s.log.Warn().Err(err).Str("short_code", link.ShortCode).Msg("failed to cache link")
	}
}

// validateURL validates the URL format
func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: URL cannot be empty", ErrInvalidURL)
	}
	if len(rawURL) > model.MaxURLLength {
		return fmt.Errorf("%w: URL longer than %d bytes", ErrInvalidURL, model.MaxURLLength)
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: URL must use http or https scheme", ErrInvalidURL)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%w: URL must have a valid host", ErrInvalidURL)
	}

	return nil
}
