package backend

import (
	"sync"
	"time"
)

type listingEntry struct {
	paths   []string
	fetched time.Time
}

// ListingCache memoizes List results per prefix with a TTL. Both backends
// embed one so repeated partition enumeration over the same hour does not
// hammer the store.
type ListingCache struct {
	mtx     sync.Mutex
	ttl     time.Duration
	entries map[string]listingEntry
	now     func() time.Time
}

func NewListingCache(ttl time.Duration) *ListingCache {
	return &ListingCache{
		ttl:     ttl,
		entries: make(map[string]listingEntry),
		now:     time.Now,
	}
}

// Get returns the cached listing for prefix if it is younger than the TTL.
func (c *ListingCache) Get(prefix string) ([]string, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e, ok := c.entries[prefix]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetched) > c.ttl {
		delete(c.entries, prefix)
		return nil, false
	}
	return e.paths, true
}

func (c *ListingCache) Put(prefix string, paths []string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.entries[prefix] = listingEntry{paths: paths, fetched: c.now()}
}

func (c *ListingCache) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.entries = make(map[string]listingEntry)
}
