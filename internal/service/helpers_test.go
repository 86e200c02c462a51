package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/cache"
	"github.com/Monthlyaway/short-link-analytics/internal/filter"
	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/Monthlyaway/short-link-analytics/internal/shortcode"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr       *miniredis.Miniredis
	cache    *cache.RedisCache
	store    *repository.MemoryRepository
	bloom    *filter.CodeFilter
	promoter *Promoter
	links    *LinkService
}

func newFixture(t *testing.T, threshold int64) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gen, err := shortcode.NewGenerator(1, 1)
	require.NoError(t, err)

	f := &fixture{
		mr:    mr,
		cache: cache.NewRedisCacheFromClient(client),
		store: repository.NewMemoryRepository(),
		bloom: filter.NewCodeFilter(1000, 0.001),
	}
	f.promoter = NewPromoter(f.cache, threshold, zerolog.Nop())
	f.links = NewLinkService(f.store, f.cache, f.bloom, gen, f.promoter, LinkOptions{
		CacheTTL:       time.Hour,
		AliasMinLength: 3,
		AliasMaxLength: 20,
	}, zerolog.Nop())
	return f
}

func (f *fixture) resolver() *Resolver {
	return NewResolver(f.cache, f.store, f.bloom, f.promoter, zerolog.Nop())
}

// seed stores a link directly and registers it with the bloom filter.
func (f *fixture) seed(t *testing.T, link *model.Link) *model.Link {
	t.Helper()
	require.NoError(t, f.store.CreateLink(context.Background(), link))
	f.bloom.Add(link.ShortCode)
	return link
}

func (f *fixture) link(t *testing.T, code string) *model.Link {
	t.Helper()
	link, err := f.store.FindLinkByCode(context.Background(), code)
	require.NoError(t, err)
	return link
}

// countingStore counts code lookups, including those made inside transactions.
type countingStore struct {
	repository.Store
	finds *atomic.Int64
}

func newCountingStore(inner repository.Store) *countingStore {
	return &countingStore{Store: inner, finds: &atomic.Int64{}}
}

func (s *countingStore) FindLinkByCode(ctx context.Context, shortCode string) (*model.Link, error) {
	s.finds.Add(1)
	return s.Store.FindLinkByCode(ctx, shortCode)
}

func (s *countingStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&countingStore{Store: tx, finds: s.finds})
	})
}

// countingCache counts URL reads.
type countingCache struct {
	FastStore
	gets atomic.Int64
}

func (c *countingCache) Get(ctx context.Context, shortCode string) (string, error) {
	c.gets.Add(1)
	return c.FastStore.Get(ctx, shortCode)
}

// brokenBuffer serves URL reads but fails every click buffer write.
type brokenBuffer struct {
	FastStore
}

func (brokenBuffer) BufferClick(context.Context, string, model.ClickDetail) error {
	return errors.New("redis: connection refused")
}

// hookedCache runs beforeSet once, ahead of the first URL write.
type hookedCache struct {
	FastStore
	once      sync.Once
	beforeSet func()
}

func (c *hookedCache) SetURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration) error {
	c.once.Do(c.beforeSet)
	return c.FastStore.SetURL(ctx, shortCode, originalURL, ttl)
}

func ptrTime(t time.Time) *time.Time { return &t }
