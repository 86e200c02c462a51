package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Monthlyaway/short-link-analytics/internal/cache"
	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/Monthlyaway/short-link-analytics/internal/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr       *miniredis.Miniredis
	cache    *cache.RedisCache
	store    *repository.MemoryRepository
	promoter *service.Promoter
}

func newFixture(t *testing.T, threshold int64) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := cache.NewRedisCacheFromClient(client)
	return &fixture{
		mr:       mr,
		cache:    c,
		store:    repository.NewMemoryRepository(),
		promoter: service.NewPromoter(c, threshold, zerolog.Nop()),
	}
}

func (f *fixture) reconciler(store repository.Store) *Reconciler {
	return NewReconciler(f.cache, store, f.promoter, 100, zerolog.Nop())
}

func (f *fixture) seed(t *testing.T, link *model.Link) *model.Link {
	t.Helper()
	require.NoError(t, f.store.CreateLink(context.Background(), link))
	return link
}

func (f *fixture) link(t *testing.T, code string) *model.Link {
	t.Helper()
	link, err := f.store.FindLinkByCode(context.Background(), code)
	require.NoError(t, err)
	return link
}

func (f *fixture) buffer(t *testing.T, code string, n int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		detail := model.NewClickDetail(model.ClientMetadata{IPAddress: "198.51.100.1", UserAgent: "test"}, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, f.cache.BufferClick(context.Background(), code, detail))
	}
}

// mutationCounter counts durable writes, inside transactions too.
type mutationCounter struct {
	repository.Store
	writes *atomic.Int64
}

func newMutationCounter(inner repository.Store) *mutationCounter {
	return &mutationCounter{Store: inner, writes: &atomic.Int64{}}
}

func (s *mutationCounter) UpdateLink(ctx context.Context, link *model.Link) error {
	s.writes.Add(1)
	return s.Store.UpdateLink(ctx, link)
}

func (s *mutationCounter) AppendClickEvent(ctx context.Context, event *model.ClickEvent) error {
	s.writes.Add(1)
	return s.Store.AppendClickEvent(ctx, event)
}

func (s *mutationCounter) DeleteLink(ctx context.Context, shortCode string) error {
	s.writes.Add(1)
	return s.Store.DeleteLink(ctx, shortCode)
}

func (s *mutationCounter) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&mutationCounter{Store: tx, writes: s.writes})
	})
}

var errDatabaseDown = errors.New("database down")

// failingStore fails click event inserts and expired listings.
type failingStore struct {
	repository.Store
}

func (failingStore) AppendClickEvent(context.Context, *model.ClickEvent) error {
	return errDatabaseDown
}

func (failingStore) ListExpiredLinks(context.Context, time.Time) ([]model.Link, error) {
	return nil, errDatabaseDown
}

func (s failingStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(failingStore{Store: tx})
	})
}

// strictColumns rejects user agents longer than the column, as MySQL does
// in strict mode.
type strictColumns struct {
	repository.Store
}

func (s strictColumns) AppendClickEvent(ctx context.Context, event *model.ClickEvent) error {
	if utf8.RuneCountInString(event.UserAgent) > model.MaxUserAgentLength {
		return errors.New("Error 1406 (22001): Data too long for column 'user_agent' at row 1")
	}
	return s.Store.AppendClickEvent(ctx, event)
}

func (s strictColumns) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(strictColumns{Store: tx})
	})
}

// midRunClicks calls onTx once, when the first transaction opens. By then
// the reconciler has already taken its snapshots.
type midRunClicks struct {
	repository.Store
	once sync.Once
	onTx func()
}

func (s *midRunClicks) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.once.Do(s.onTx)
	return s.Store.WithinTx(ctx, fn)
}

func ptrTime(t time.Time) *time.Time { return &t }
