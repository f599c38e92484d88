// Package cache provides the in-process record cache that lets repeated
// fetches for the same video skip the network.
package cache

import (
	"sync"

	"github.com/tubemeta/tubemeta/internal/metrics"
	"github.com/tubemeta/tubemeta/internal/tube"
)

// RecordCache is a mutex-guarded map keyed by video ID. Entries never
// expire; a force Put is the only way to replace one.
type RecordCache struct {
	mu      sync.RWMutex
	records map[string]*tube.Record
}

func New() *RecordCache {
	return &RecordCache{records: make(map[string]*tube.Record)}
}

// Get returns the cached record for videoID, if any.
func (c *RecordCache) Get(videoID string) (*tube.Record, bool) {
	c.mu.RLock()
	record, ok := c.records[videoID]
	c.mu.RUnlock()
	metrics.ObserveCacheLookup(ok)
	return record, ok
}

// Put stores record under videoID. An existing entry is kept unless force
// is set; the return value reports whether the cache now holds record.
func (c *RecordCache) Put(videoID string, record *tube.Record, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.records[videoID]; exists && !force {
		return false
	}
	c.records[videoID] = record
	return true
}

// Len reports the number of cached records.
func (c *RecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
