package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
)

// MemoryRepository is an in-process Store for tests and local runs without
// MySQL. Transactions are serialized and rolled back by restoring a snapshot.
type MemoryRepository struct {
	state *memoryState
	txMu  *sync.Mutex
	inTx  bool
}

type memoryState struct {
	mu          sync.RWMutex
	links       map[string]model.Link
	clicks      map[uint][]model.ClickEvent
	nextLinkID  uint
	nextClickID uint
}

// NewMemoryRepository creates an empty in-memory store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			links:  make(map[string]model.Link),
			clicks: make(map[uint][]model.ClickEvent),
		},
		txMu: &sync.Mutex{},
	}
}

func (r *MemoryRepository) FindLinkByCode(_ context.Context, shortCode string) (*model.Link, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	link, ok := r.state.links[shortCode]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (r *MemoryRepository) FindLinkByURL(_ context.Context, originalURL string) (*model.Link, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var found *model.Link
	for _, link := range r.state.links {
		if link.OriginalURL != originalURL {
			continue
		}
		if found == nil || link.ID < found.ID {
			l := link
			found = &l
		}
	}
	return found, nil
}

func (r *MemoryRepository) ListActiveLinksByURL(_ context.Context, originalURL string, now time.Time) ([]model.Link, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var links []model.Link
	for _, link := range r.state.links {
		if link.OriginalURL == originalURL && (link.ExpiresAt == nil || link.ExpiresAt.After(now)) {
			links = append(links, link)
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links, nil
}

func (r *MemoryRepository) CreateLink(_ context.Context, link *model.Link) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if _, ok := r.state.links[link.ShortCode]; ok {
		return ErrDuplicate
	}
	r.state.nextLinkID++
	link.ID = r.state.nextLinkID
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	stored := *link
	stored.Clicks = nil
	r.state.links[link.ShortCode] = stored
	return nil
}

func (r *MemoryRepository) UpdateLink(_ context.Context, link *model.Link) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	stored := *link
	stored.Clicks = nil
	r.state.links[link.ShortCode] = stored
	return nil
}

func (r *MemoryRepository) DeleteLink(_ context.Context, shortCode string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	link, ok := r.state.links[shortCode]
	if !ok {
		return nil
	}
	delete(r.state.clicks, link.ID)
	delete(r.state.links, shortCode)
	return nil
}

func (r *MemoryRepository) AppendClickEvent(_ context.Context, event *model.ClickEvent) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	r.state.nextClickID++
	event.ID = r.state.nextClickID
	r.state.clicks[event.LinkID] = append(r.state.clicks[event.LinkID], *event)
	return nil
}

func (r *MemoryRepository) RecentClicks(_ context.Context, linkID uint, limit int) ([]model.ClickEvent, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	events := append([]model.ClickEvent(nil), r.state.clicks[linkID]...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// ClickEvents returns every stored event of a link in insertion order.
func (r *MemoryRepository) ClickEvents(linkID uint) []model.ClickEvent {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	return append([]model.ClickEvent(nil), r.state.clicks[linkID]...)
}

func (r *MemoryRepository) ListExpiredLinks(_ context.Context, now time.Time) ([]model.Link, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var links []model.Link
	for _, link := range r.state.links {
		if link.ExpiresAt != nil && link.ExpiresAt.Before(now) {
			links = append(links, link)
		}
	}
	return links, nil
}

func (r *MemoryRepository) AllShortCodes(_ context.Context) ([]string, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	codes := make([]string, 0, len(r.state.links))
	for code := range r.state.links {
		codes = append(codes, code)
	}
	return codes, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) WithinTx(_ context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	snapshot := r.state.clone()
	if err := fn(&MemoryRepository{state: r.state, txMu: r.txMu, inTx: true}); err != nil {
		r.state.restore(snapshot)
		return err
	}
	return nil
}

func (s *memoryState) clone() *memoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &memoryState{
		links:       make(map[string]model.Link, len(s.links)),
		clicks:      make(map[uint][]model.ClickEvent, len(s.clicks)),
		nextLinkID:  s.nextLinkID,
		nextClickID: s.nextClickID,
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.clicks {
		c.clicks[k] = append([]model.ClickEvent(nil), v...)
	}
	return c
}

func (s *memoryState) restore(from *memoryState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links = from.links
	s.clicks = from.clicks
	s.nextLinkID = from.nextLinkID
	s.nextClickID = from.nextClickID
}
