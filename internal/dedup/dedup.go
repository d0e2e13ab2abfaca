// Package dedup keeps discovery from fetching or persisting an item twice.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"lotwatch/internal/db"
	"lotwatch/internal/models"
	urlqueue "lotwatch/internal/url_queue"
)

// Guard answers "is this item already stored" for one run. Positive answers
// are cached; negative ones always go back to the store.
type Guard struct {
	store db.Store

	mu    sync.RWMutex
	known map[string]int64
}

func NewGuard(store db.Store) *Guard {
	return &Guard{store: store, known: make(map[string]int64)}
}

func key(site, url string) string {
	return site + "\x00" + urlqueue.NormalizeURL(url)
}

// IsKnown reports whether url (canonical or original) is stored for site.
func (g *Guard) IsKnown(ctx context.Context, site, url string) (bool, error) {
	k := key(site, url)
	g.mu.RLock()
	_, ok := g.known[k]
	g.mu.RUnlock()
	if ok {
		return true, nil
	}

	item, err := g.store.FindItemByURL(ctx, site, urlqueue.NormalizeURL(url))
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if item == nil {
		return false, nil
	}
	g.remember(site, item.ID, item.CanonicalURL, item.OriginalURL, url)
	return true, nil
}

// MarkKnown settles urls for the rest of the run without touching the
// store, e.g. pages discovery decided to skip.
func (g *Guard) MarkKnown(site string, id int64, urls ...string) {
	g.remember(site, id, urls...)
}

func (g *Guard) remember(site string, id int64, urls ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range urls {
		if u != "" {
			g.known[key(site, u)] = id
		}
	}
}

// Admit persists item. A concurrent writer that already stored the same
// (site, canonical url) wins; the caller then gets its id and created=false,
// the same answer as a dedup hit.
func (g *Guard) Admit(ctx context.Context, item *models.Item) (int64, bool, error) {
	g.mu.RLock()
	id, ok := g.known[key(item.SourceSite, item.CanonicalURL)]
	g.mu.RUnlock()
	if ok {
		item.ID = id
		return id, false, nil
	}

	id, created, err := g.store.InsertItem(ctx, item)
	if err != nil {
		return 0, false, fmt.Errorf("admit %s: %w", item.CanonicalURL, err)
	}
	g.remember(item.SourceSite, id, item.CanonicalURL, item.OriginalURL)
	return id, created, nil
}

func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.known)
}
