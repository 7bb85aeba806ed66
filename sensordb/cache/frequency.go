package cache

import (
	"sync"
	"time"
)

// frequencyTracker counts accesses per fingerprint for adaptive TTL. It has
// its own lock so tracking a miss never serializes against the cache proper.
type frequencyTracker struct {
	mtx     sync.Mutex
	maxAge  time.Duration
	entries map[uint64]*frequencyEntry
	now     func() time.Time
}

type frequencyEntry struct {
	count      int
	lastAccess time.Time
}

func newFrequencyTracker(maxAge time.Duration) *frequencyTracker {
	return &frequencyTracker{
		maxAge:  maxAge,
		entries: make(map[uint64]*frequencyEntry),
		now:     time.Now,
	}
}

// Track records one access, hit or miss, and returns the updated count.
func (f *frequencyTracker) Track(fp uint64) int {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	e, ok := f.entries[fp]
	if !ok {
		e = &frequencyEntry{}
		f.entries[fp] = e
	}
	e.count++
	e.lastAccess = f.now()
	return e.count
}

func (f *frequencyTracker) Count(fp uint64) int {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if e, ok := f.entries[fp]; ok {
		return e.count
	}
	return 0
}

// Cleanup drops trackers idle past maxAge and reports how many were removed.
func (f *frequencyTracker) Cleanup() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	cutoff := f.now().Add(-f.maxAge)
	removed := 0
	for fp, e := range f.entries {
		if e.lastAccess.Before(cutoff) {
			delete(f.entries, fp)
			removed++
		}
	}
	return removed
}

func (f *frequencyTracker) Clear() {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.entries = make(map[uint64]*frequencyEntry)
}
