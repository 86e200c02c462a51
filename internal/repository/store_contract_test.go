package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	t.Run("create and find", func(t *testing.T) {
		link := &model.Link{ShortCode: "contract1", OriginalURL: "https://example.com/a"}
		require.NoError(t, store.CreateLink(ctx, link))
		assert.NotZero(t, link.ID)

		got, err := store.FindLinkByCode(ctx, "contract1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "https://example.com/a", got.OriginalURL)
		assert.Equal(t, int64(0), got.ClickCount)

		byURL, err := store.FindLinkByURL(ctx, "https://example.com/a")
		require.NoError(t, err)
		require.NotNil(t, byURL)
		assert.Equal(t, "contract1", byURL.ShortCode)
	})

	t.Run("missing link is nil without error", func(t *testing.T) {
		got, err := store.FindLinkByCode(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate short code", func(t *testing.T) {
		err := store.CreateLink(ctx, &model.Link{ShortCode: "contract1", OriginalURL: "https://example.com/b"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("update persists counters", func(t *testing.T) {
		link, err := store.FindLinkByCode(ctx, "contract1")
		require.NoError(t, err)

		link.ClickCount = 42
		link.LastAccessed = &now
		require.NoError(t, store.UpdateLink(ctx, link))

		got, err := store.FindLinkByCode(ctx, "contract1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.ClickCount)
		require.NotNil(t, got.LastAccessed)
		assert.WithinDuration(t, now, *got.LastAccessed, time.Second)
	})

	t.Run("click events and cascade delete", func(t *testing.T) {
		link := &model.Link{ShortCode: "contract2", OriginalURL: "https://example.com/c"}
		require.NoError(t, store.CreateLink(ctx, link))

		for i := 0; i < 3; i++ {
			require.NoError(t, store.AppendClickEvent(ctx, &model.ClickEvent{
				LinkID:    link.ID,
				Timestamp: now.Add(time.Duration(i) * time.Second),
				IPAddress: "10.0.0.1",
			}))
		}

		recent, err := store.RecentClicks(ctx, link.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.True(t, recent[0].Timestamp.After(recent[1].Timestamp))

		require.NoError(t, store.DeleteLink(ctx, "contract2"))

		got, err := store.FindLinkByCode(ctx, "contract2")
		require.NoError(t, err)
		assert.Nil(t, got)

		recent, err = store.RecentClicks(ctx, link.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})

	t.Run("expired and active listings", func(t *testing.T) {
		require.NoError(t, store.CreateLink(ctx, &model.Link{ShortCode: "old1", OriginalURL: "https://example.com/x", ExpiresAt: &past}))
		require.NoError(t, store.CreateLink(ctx, &model.Link{ShortCode: "new1", OriginalURL: "https://example.com/x", ExpiresAt: &future}))
		require.NoError(t, store.CreateLink(ctx, &model.Link{ShortCode: "forever1", OriginalURL: "https://example.com/x"}))

		expired, err := store.ListExpiredLinks(ctx, now)
		require.NoError(t, err)
		var codes []string
		for _, l := range expired {
			codes = append(codes, l.ShortCode)
		}
		assert.Equal(t, []string{"old1"}, codes)

		active, err := store.ListActiveLinksByURL(ctx, "https://example.com/x", now)
		require.NoError(t, err)
		assert.Len(t, active, 2)

		all, err := store.AllShortCodes(ctx)
		require.NoError(t, err)
		assert.Subset(t, all, []string{"contract1", "old1", "new1", "forever1"})
	})

	t.Run("transaction rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(tx Store) error {
			link, err := tx.FindLinkByCode(ctx, "contract1")
			if err != nil {
				return err
			}
			link.ClickCount = 1000
			if err := tx.UpdateLink(ctx, link); err != nil {
				return err
			}
			if err := tx.AppendClickEvent(ctx, &model.ClickEvent{LinkID: link.ID, Timestamp: now}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.FindLinkByCode(ctx, "contract1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.ClickCount)

		recent, err := store.RecentClicks(ctx, got.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})

	t.Run("transaction commit", func(t *testing.T) {
		err := store.WithinTx(ctx, func(tx Store) error {
			link, err := tx.FindLinkByCode(ctx, "contract1")
			if err != nil {
				return err
			}
			link.ClickCount++
			return tx.UpdateLink(ctx, link)
		})
		require.NoError(t, err)

		got, err := store.FindLinkByCode(ctx, "contract1")
		require.NoError(t, err)
		assert.Equal(t, int64(43), got.ClickCount)
	})
}

func TestMemoryRepositoryContract(t *testing.T) {
	runStoreContract(t, NewMemoryRepository())
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateLink(ctx, &model.Link{ShortCode: "copy", OriginalURL: "https://example.com"}))

	link, err := repo.FindLinkByCode(ctx, "copy")
	require.NoError(t, err)
	link.ClickCount = 99

	again, err := repo.FindLinkByCode(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.ClickCount)
}
