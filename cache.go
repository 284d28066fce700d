/*
File: cache.go
Version: 1.2.1
Description: Bounded LRU + TTL cache for completed predictions, keyed by the
             raw request URL. Single mutex: the strict global recency order
             matters more here than shard-level parallelism, and entries are
             small.
*/

package main

import (
	"container/list"
	"encoding/json"
	"os"
	"sync"
	"time"
)

const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 30 * time.Minute
)

type cacheEntry struct {
	key     string
	result  *PredictionResult
	created time.Time
}

// PredictionCache caches final prediction outcomes. Keys are the raw URLs as
// received, before normalization: two spellings of the same page are distinct
// entries on purpose, so a cached response is byte-identical to a fresh one.
type PredictionCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

func NewPredictionCache(capacity int, ttl time.Duration) *PredictionCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PredictionCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached result for key, refreshing its recency. Expired
// entries are evicted on access and reported as a miss.
func (c *PredictionCache) Get(key string) (*PredictionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.created) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return entry.result, true
}

// Put stores a result under key, evicting the least recently used entry when
// the cache is full. An existing entry is overwritten with a fresh timestamp.
func (c *PredictionCache) Put(key string, result *PredictionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.created = time.Now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, result: result, created: time.Now()})
	c.items[key] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len reports all resident entries, expired ones included.
func (c *PredictionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Fresh reports only entries still within their TTL.
func (c *PredictionCache) Fresh() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := 0
	now := time.Now()
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if now.Sub(elem.Value.(*cacheEntry).created) <= c.ttl {
			fresh++
		}
	}
	return fresh
}

// Flush discards every entry.
func (c *PredictionCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

// --- Snapshot persistence ---

type cacheSnapshotEntry struct {
	Key     string            `json:"key"`
	Result  *PredictionResult `json:"result"`
	Created time.Time         `json:"created"`
}

type cacheSnapshot struct {
	Version int                  `json:"version"`
	Saved   time.Time            `json:"saved"`
	Entries []cacheSnapshotEntry `json:"entries"`
}

// SaveSnapshot writes the fresh entries to path, LRU first so reloading
// rebuilds the same recency order. Write is atomic via rename.
func (c *PredictionCache) SaveSnapshot(path string) error {
	c.mu.Lock()
	snap := cacheSnapshot{Version: 1, Saved: time.Now()}
	now := time.Now()
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if now.Sub(entry.created) > c.ttl {
			continue
		}
		snap.Entries = append(snap.Entries, cacheSnapshotEntry{
			Key:     entry.key,
			Result:  entry.result,
			Created: entry.created,
		})
	}
	c.mu.Unlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	LogDebug("[CACHE] Saved %d entries to %s", len(snap.Entries), path)
	return nil
}

// LoadSnapshot restores entries from path, skipping any that expired while
// the process was down. A missing file is not an error.
func (c *PredictionCache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap cacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	restored := 0
	now := time.Now()
	c.mu.Lock()
	for _, se := range snap.Entries {
		if se.Key == "" || se.Result == nil {
			continue
		}
		if now.Sub(se.Created) > c.ttl {
			continue
		}
		if _, exists := c.items[se.Key]; exists {
			continue
		}
		elem := c.order.PushFront(&cacheEntry{key: se.Key, result: se.Result, created: se.Created})
		c.items[se.Key] = elem
		restored++
		if c.order.Len() > c.capacity {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
	c.mu.Unlock()

	LogInfo("[CACHE] Restored %d entries from %s (%d in snapshot)", restored, path, len(snap.Entries))
	return nil
}

// StartSnapshotLoop persists the cache periodically until stop is closed,
// taking a final snapshot on the way out.
func (c *PredictionCache) StartSnapshotLoop(path string, interval time.Duration, stop <-chan struct{}, done *sync.WaitGroup) {
	if path == "" || interval <= 0 {
		return
	}
	done.Add(1)
	go func() {
		defer done.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.SaveSnapshot(path); err != nil {
					LogWarn("[CACHE] Snapshot failed: %v", err)
				}
			case <-stop:
				if err := c.SaveSnapshot(path); err != nil {
					LogWarn("[CACHE] Final snapshot failed: %v", err)
				}
				return
			}
		}
	}()
}
