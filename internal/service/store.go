package service

import (
	"context"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
)

// FastStore is the part of the Redis layer the request path needs.
// *cache.RedisCache implements it.
type FastStore interface {
	Get(ctx context.Context, shortCode string) (string, error)
	SetURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration) error
	Delete(ctx context.Context, shortCode string) error
	BufferClick(ctx context.Context, shortCode string, detail model.ClickDetail) error
	DiscardBuffer(ctx context.Context, shortCode string) error
	PendingClicks(ctx context.Context, shortCode string) (int64, error)
	AddPopular(ctx context.Context, shortCode string) error
	IsPopular(ctx context.Context, shortCode string) (bool, error)
	RemovePopular(ctx context.Context, shortCode string) error
	Ping(ctx context.Context) error
}
