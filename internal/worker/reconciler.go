package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/cache"
	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/Monthlyaway/short-link-analytics/internal/service"
	"github.com/rs/zerolog"
)

// ClickBuffer is the Redis side of reconciliation. *cache.RedisCache implements it.
type ClickBuffer interface {
	SyncMembers(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, shortCode string, batch int) (*cache.BufferSnapshot, error)
	ClearBuffer(ctx context.Context, snap *cache.BufferSnapshot) (int64, error)
	DiscardBuffer(ctx context.Context, shortCode string) error
	Exists(ctx context.Context, shortCode string) (bool, error)
	Delete(ctx context.Context, shortCode string) error
}

// ReconcileResult summarizes one reconciliation run
type ReconcileResult struct {
	Codes     int
	Clicks    int64
	Events    int
	Malformed int
	Discarded int
	Promoted  int
}

// Reconciler drains buffered click counters and details from Redis into
// MySQL. All durable writes of a run share one transaction. Redis buffers are
// only cleared after that transaction commits, so a failed run loses nothing
// and is retried on the next tick.
type Reconciler struct {
	buffer    ClickBuffer
	store     repository.Store
	promoter  *service.Promoter
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler draining at most batchSize click
// details per code and run.
func NewReconciler(buffer ClickBuffer, store repository.Store, promoter *service.Promoter, batchSize int, log zerolog.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		buffer:    buffer,
		store:     store,
		promoter:  promoter,
		batchSize: batchSize,
		log:       log.With().Str("component", "reconciler").Logger(),
		now:       time.Now,
	}
}

// Run performs one reconciliation pass. It satisfies Task.Run.
func (r *Reconciler) Run(ctx context.Context) error {
	res, err := r.Reconcile(ctx)
	if err != nil {
		return err
	}
	if res.Codes > 0 {
		r.log.Info().
			Int("codes", res.Codes).
			Int64("clicks", res.Clicks).
			Int("events", res.Events).
			Int("discarded", res.Discarded).
			Int("promoted", res.Promoted).
			Msg("reconciliation finished")
	}
	return nil
}

type pendingCode struct {
	snap *cache.BufferSnapshot
	// gone is set when the link was deleted or expired after the clicks were buffered
	gone bool
}

// Reconcile performs one reconciliation pass and reports what it did.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	res := &ReconcileResult{}

	codes, err := r.buffer.SyncMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}
	if len(codes) == 0 {
		return res, nil
	}
	res.Codes = len(codes)

	var (
		pending []*pendingCode
		empty   []string
	)
	for _, code := range codes {
		snap, err := r.buffer.Snapshot(ctx, code, r.batchSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
		}
		if snap.Delta <= 0 {
			empty = append(empty, code)
			continue
		}
		pending = append(pending, &pendingCode{snap: snap})
	}

	now := r.now().UTC()
	err = r.store.WithinTx(ctx, func(tx repository.Store) error {
		for _, p := range pending {
			if err := r.apply(ctx, tx, p, now, res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	for _, code := range empty {
		r.discard(ctx, code, false)
		res.Discarded++
	}

	for _, p := range pending {
		code := p.snap.ShortCode
		if p.gone {
			r.discard(ctx, code, true)
			res.Discarded++
			continue
		}

		if _, err := r.buffer.ClearBuffer(ctx, p.snap); err != nil {
			// the committed delta will be applied again next run
			r.log.Error().Err(err).Str("short_code", code).Msg("failed to clear reconciled buffer")
		}
	}

	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, tx repository.Store, p *pendingCode, now time.Time, res *ReconcileResult) error {
	code := p.snap.ShortCode

	link, err := tx.FindLinkByCode(ctx, code)
	if err != nil {
		return err
	}
	if link == nil || link.IsExpiredAt(now) {
		p.gone = true
		return nil
	}

	link.ClickCount += p.snap.Delta
	if p.snap.LastAccess != nil {
		ts := p.snap.LastAccess.UTC()
		link.LastAccessed = &ts
	}
	if err := tx.UpdateLink(ctx, link); err != nil {
		return err
	}

	// details are queued newest first; store them oldest first
	for i := len(p.snap.Details) - 1; i >= 0; i-- {
		if err := tx.AppendClickEvent(ctx, p.snap.Details[i].Event(link.ID)); err != nil {
			return err
		}
	}
	if p.snap.Malformed > 0 {
		r.log.Warn().Str("short_code", code).Int("count", p.snap.Malformed).Msg("skipped malformed click details")
	}

	// promote while the row is locked so a concurrent update, which deletes
	// the cache entry after its own commit, always lands after this write
	if r.promoteIfUncached(ctx, link, now) {
		res.Promoted++
	}

	res.Clicks += p.snap.Delta
	res.Events += len(p.snap.Details)
	res.Malformed += p.snap.Malformed
	return nil
}

func (r *Reconciler) discard(ctx context.Context, code string, invalidate bool) {
	logger := r.log.With().Str("short_code", code).Logger()
	if err := r.buffer.DiscardBuffer(ctx, code); err != nil {
		logger.Warn().Err(err).Msg("failed to discard click buffer")
	}
	if !invalidate {
		return
	}
	if err := r.buffer.Delete(ctx, code); err != nil {
		logger.Warn().Err(err).Msg("failed to invalidate cache")
	}
	logger.Debug().Msg("discarded clicks of missing or expired link")
}

func (r *Reconciler) promoteIfUncached(ctx context.Context, link *model.Link, now time.Time) bool {
	if !r.promoter.ShouldPromote(link.ClickCount) {
		return false
	}
	cached, err := r.buffer.Exists(ctx, link.ShortCode)
	if err != nil {
		r.log.Warn().Err(err).Str("short_code", link.ShortCode).Msg("cache lookup failed")
		return false
	}
	if cached {
		return false
	}
	return r.promoter.Promote(ctx, link, now)
}
