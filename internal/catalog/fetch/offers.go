package fetch

import (
	"sync"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
)

// OffersCache keeps the last non-empty offers page per namespace for the
// lifetime of the process. Entries are never invalidated.
type OffersCache struct {
	mu    sync.RWMutex
	pages map[string]*schema.OfferPage
}

// NewOffersCache creates an empty cache.
func NewOffersCache() *OffersCache {
	return &OffersCache{pages: make(map[string]*schema.OfferPage)}
}

// Get returns the cached page for ns.
func (c *OffersCache) Get(ns string) (*schema.OfferPage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[ns]
	return p, ok
}

// Put caches page for ns. Empty pages are not cached.
func (c *OffersCache) Put(ns string, page *schema.OfferPage) {
	if page == nil || len(page.Elements) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[ns] = page
}

// Len returns the number of cached namespaces.
func (c *OffersCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}
