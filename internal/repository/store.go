package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
)

// Store is the system of record for links and their click history.
//
// Lookups return (nil, nil) when nothing matches. Inside WithinTx, the store
// passed to fn is bound to the transaction and FindLinkByCode locks the row
// until commit.
type Store interface {
	FindLinkByCode(ctx context.Context, shortCode string) (*model.Link, error)
	FindLinkByURL(ctx context.Context, originalURL string) (*model.Link, error)
	ListActiveLinksByURL(ctx context.Context, originalURL string, now time.Time) ([]model.Link, error)
	CreateLink(ctx context.Context, link *model.Link) error
	UpdateLink(ctx context.Context, link *model.Link) error
	DeleteLink(ctx context.Context, shortCode string) error
	AppendClickEvent(ctx context.Context, event *model.ClickEvent) error
	RecentClicks(ctx context.Context, linkID uint, limit int) ([]model.ClickEvent, error)
	ListExpiredLinks(ctx context.Context, now time.Time) ([]model.Link, error)
	AllShortCodes(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error

	// WithinTx runs fn in a single transaction. Any error rolls back
	// everything fn did.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// ErrDuplicate is returned by CreateLink when the short code is taken.
var ErrDuplicate = errors.New("short code already exists")
