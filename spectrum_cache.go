package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cwsl/reactorwatch/analysis"
)

// SpectrumCache is a bounded read-through cache of stored spectra keyed by
// file path and modification time. Entries are evicted FIFO; an entry whose
// backing file changed on disk is reloaded on the next Get. Safe for
// concurrent use by the status server's handlers.
type SpectrumCache struct {
	maxEntries int
	load       func(base string) (*analysis.Spectrum, error)
	pathOf     func(base string) string

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order for FIFO eviction
}

type cacheEntry struct {
	spectrum *analysis.Spectrum
	modTime  time.Time
}

func NewSpectrumCache(maxEntries int, store *SpectrumStore) *SpectrumCache {
	return &SpectrumCache{
		maxEntries: maxEntries,
		load:       store.Load,
		pathOf:     store.AxisPath,
		entries:    make(map[string]cacheEntry),
	}
}

// Get returns the spectrum for base, loading it on a miss and reloading it
// when the file's mtime changed since it was cached.
func (c *SpectrumCache) Get(base string) (*analysis.Spectrum, error) {
	info, err := os.Stat(c.pathOf(base))
	if err != nil {
		return nil, fmt.Errorf("failed to stat spectrum %s: %w", base, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[base]; ok {
		if e.modTime.Equal(info.ModTime()) {
			return e.spectrum, nil
		}
		// Stale entry: drop it and fall through to a fresh load.
		c.remove(base)
	}

	spec, err := c.load(base)
	if err != nil {
		return nil, err
	}
	c.insert(base, cacheEntry{spectrum: spec, modTime: info.ModTime()})
	return spec, nil
}

// Len reports the number of cached spectra.
func (c *SpectrumCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SpectrumCache) insert(base string, e cacheEntry) {
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[base] = e
	c.order = append(c.order, base)
}

func (c *SpectrumCache) remove(base string) {
	delete(c.entries, base)
	for i, b := range c.order {
		if b == base {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
