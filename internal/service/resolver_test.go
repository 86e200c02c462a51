package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/cache"
	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var meta = model.ClientMetadata{IPAddress: "203.0.113.7", UserAgent: "curl/8.0", Referer: "https://ref.example"}

func TestResolveCacheHitBuffersWithoutDatabase(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.seed(t, &model.Link{ShortCode: "hit", OriginalURL: "https://example.com/hit"})
	require.NoError(t, f.cache.SetURL(ctx, "hit", "https://example.com/hit", 0))

	store := newCountingStore(f.store)
	fast := &countingCache{FastStore: f.cache}
	r := NewResolver(fast, store, f.bloom, f.promoter, zerolog.Nop())

	for i := 1; i <= 3; i++ {
		res, err := r.Resolve(ctx, "hit", meta)
		require.NoError(t, err)
		assert.True(t, res.FromCache)
		assert.Equal(t, "https://example.com/hit", res.URL)

		assert.Equal(t, int64(i), fast.gets.Load())
		pending, err := f.cache.PendingClicks(ctx, "hit")
		require.NoError(t, err)
		assert.Equal(t, int64(i), pending)
	}

	assert.Zero(t, store.finds.Load())
	assert.Equal(t, int64(0), f.link(t, "hit").ClickCount)

	members, err := f.cache.SyncMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hit"}, members)

	entries, err := f.mr.List(cache.ClickLogPrefix + "hit")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Contains(t, entries[0], "203.0.113.7")
}

func TestResolveCacheHitTrustsStaleEntry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	require.NoError(t, f.cache.SetURL(ctx, "gone", "https://example.com/stale", time.Minute))

	res, err := f.resolver().Resolve(ctx, "gone", meta)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/stale", res.URL)
}

func TestResolveCacheMissUpdatesDatabase(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	link := f.seed(t, &model.Link{ShortCode: "miss", OriginalURL: "https://example.com/miss"})

	res, err := f.resolver().Resolve(ctx, "miss", meta)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "https://example.com/miss", res.URL)

	got := f.link(t, "miss")
	assert.Equal(t, int64(1), got.ClickCount)
	require.NotNil(t, got.LastAccessed)

	events := f.store.ClickEvents(link.ID)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.7", events[0].IPAddress)
	assert.Equal(t, "curl/8.0", events[0].UserAgent)
	assert.Equal(t, "https://ref.example", events[0].Referer)

	pending, err := f.cache.PendingClicks(ctx, "miss")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestResolveNotFound(t *testing.T) {
	f := newFixture(t, 10)
	store := newCountingStore(f.store)
	r := NewResolver(f.cache, store, f.bloom, f.promoter, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "nope", meta)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, store.finds.Load(), "bloom filter should reject unknown codes")

	// without the pre-filter the database answers
	r = NewResolver(f.cache, store, nil, f.promoter, zerolog.Nop())
	_, err = r.Resolve(context.Background(), "nope", meta)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), store.finds.Load())
}

func TestResolveExpiredIsGone(t *testing.T) {
	f := newFixture(t, 10)
	link := f.seed(t, &model.Link{
		ShortCode:   "old",
		OriginalURL: "https://example.com/old",
		ExpiresAt:   ptrTime(time.Now().Add(-time.Second)),
	})

	_, err := f.resolver().Resolve(context.Background(), "old", meta)
	assert.ErrorIs(t, err, ErrGone)

	assert.Equal(t, int64(0), f.link(t, "old").ClickCount)
	assert.Empty(t, f.store.ClickEvents(link.ID))
}

func TestResolvePromotionThreshold(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.seed(t, &model.Link{ShortCode: "pop", OriginalURL: "https://example.com/pop", ClickCount: 8})

	_, err := f.resolver().Resolve(ctx, "pop", meta)
	require.NoError(t, err)
	assert.Equal(t, int64(9), f.link(t, "pop").ClickCount)
	assert.False(t, f.mr.Exists(cache.ShortCodePrefix+"pop"))

	_, err = f.resolver().Resolve(ctx, "pop", meta)
	require.NoError(t, err)
	assert.True(t, f.mr.Exists(cache.ShortCodePrefix+"pop"))
	assert.Equal(t, time.Duration(0), f.mr.TTL(cache.ShortCodePrefix+"pop"))

	popular, err := f.cache.IsPopular(ctx, "pop")
	require.NoError(t, err)
	assert.True(t, popular)
}

func TestResolvePromotionTTLBoundedByExpiry(t *testing.T) {
	f := newFixture(t, 1)
	f.seed(t, &model.Link{
		ShortCode:   "soon",
		OriginalURL: "https://example.com/soon",
		ExpiresAt:   ptrTime(time.Now().Add(30 * time.Minute)),
	})

	_, err := f.resolver().Resolve(context.Background(), "soon", meta)
	require.NoError(t, err)

	ttl := f.mr.TTL(cache.ShortCodePrefix + "soon")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 30*time.Minute)
}

func TestResolvePopularSetPromotesBelowThreshold(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	f.seed(t, &model.Link{ShortCode: "known", OriginalURL: "https://example.com/known"})
	require.NoError(t, f.cache.AddPopular(ctx, "known"))

	_, err := f.resolver().Resolve(ctx, "known", meta)
	require.NoError(t, err)
	assert.True(t, f.mr.Exists(cache.ShortCodePrefix+"known"))
}

func TestResolveTenMissesThenHit(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.seed(t, &model.Link{ShortCode: "abc", OriginalURL: "https://example.com/abc"})

	store := newCountingStore(f.store)
	r := NewResolver(f.cache, store, f.bloom, f.promoter, zerolog.Nop())

	for i := 0; i < 10; i++ {
		res, err := r.Resolve(ctx, "abc", meta)
		require.NoError(t, err)
		assert.False(t, res.FromCache, "request %d", i+1)
	}
	assert.Equal(t, int64(10), store.finds.Load())

	res, err := r.Resolve(ctx, "abc", meta)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "https://example.com/abc", res.URL)
	assert.Equal(t, int64(10), store.finds.Load())
}

func TestResolveSwallowsBufferFailure(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	require.NoError(t, f.cache.SetURL(ctx, "hit", "https://example.com/hit", 0))

	r := NewResolver(brokenBuffer{FastStore: f.cache}, f.store, f.bloom, f.promoter, zerolog.Nop())
	res, err := r.Resolve(ctx, "hit", meta)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hit", res.URL)
}

func TestResolveWithRedisDownFallsBackToDatabase(t *testing.T) {
	f := newFixture(t, 1)
	f.seed(t, &model.Link{ShortCode: "down", OriginalURL: "https://example.com/down"})
	f.mr.Close()

	res, err := f.resolver().Resolve(context.Background(), "down", meta)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/down", res.URL)
	assert.Equal(t, int64(1), f.link(t, "down").ClickCount)
}

func TestResolveConcurrentHitsKeepEveryClick(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.seed(t, &model.Link{ShortCode: "hot", OriginalURL: "https://example.com/hot"})
	require.NoError(t, f.cache.SetURL(ctx, "hot", "https://example.com/hot", 0))

	resolver := f.resolver()
	const n = 200
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := resolver.Resolve(ctx, "hot", meta)
			if err != nil {
				return err
			}
			if !res.FromCache {
				return errors.New("resolved from database")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	pending, err := f.cache.PendingClicks(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(n), pending)

	queued, err := f.mr.List(cache.ClickLogPrefix + "hot")
	require.NoError(t, err)
	assert.Len(t, queued, n)
	assert.Equal(t, int64(0), f.link(t, "hot").ClickCount)
}

func TestResolvePromotionLandsBeforeConcurrentUpdate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.seed(t, &model.Link{ShortCode: "moved", OriginalURL: "https://example.com/old"})

	updated := make(chan error, 1)
	hooked := &hookedCache{FastStore: f.cache, beforeSet: func() {
		go func() {
			_, err := f.links.Update(ctx, "moved", "https://example.com/new")
			updated <- err
		}()
		// leave the update room to run ahead of the promotion write
		time.Sleep(100 * time.Millisecond)
	}}
	resolver := NewResolver(f.cache, f.store, f.bloom, NewPromoter(hooked, 1, zerolog.Nop()), zerolog.Nop())

	res, err := resolver.Resolve(ctx, "moved", meta)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/old", res.URL)

	select {
	case err := <-updated:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("update did not finish")
	}

	cached, err := f.cache.Get(ctx, "moved")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/new", cached)
	assert.Equal(t, "https://example.com/new", f.link(t, "moved").OriginalURL)
}
