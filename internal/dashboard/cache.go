package dashboard

import (
	"sync"
	"time"
)

type cachedSnapshot struct {
	snapshot  Snapshot
	timestamp time.Time
}

// snapshotCache keeps the last read of each tenant for a short TTL so the
// auto-refresh does not hit the Sheets quota on every page load.
type snapshotCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{ttl: ttl, now: time.Now}
}

func (c *snapshotCache) get(key string) (Snapshot, bool) {
	cached, ok := c.entries.Load(key)
	if !ok {
		return Snapshot{}, false
	}
	entry := cached.(cachedSnapshot)
	if c.now().Sub(entry.timestamp) >= c.ttl {
		c.entries.Delete(key)
		return Snapshot{}, false
	}
	return entry.snapshot, true
}

func (c *snapshotCache) set(key string, s Snapshot) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Store(key, cachedSnapshot{snapshot: s, timestamp: c.now()})
}

// clear drops every entry; used by the force-sync button.
func (c *snapshotCache) clear() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}
