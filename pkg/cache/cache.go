// Package cache implements the Cache (C6): a content-addressed store of
// materialized plan results keyed by fingerprint, with at-most-one
// concurrent build per fingerprint, atomic payload writes, and LRU eviction
// that respects in-use pins.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// CacheEntry is the metadata record for one stored payload.
type CacheEntry struct {
	Fingerprint     string
	Schema          types.Schema
	PayloadLocation string
	Size            int64

	refCount int
	elem     *list.Element
}

// PayloadProducer materializes the bytes and schema for a fingerprint that
// is not yet cached — normally a worker run wrapped by the Output-Field
// Validator (pkg/validate).
type PayloadProducer func() ([]byte, types.Schema, error)

// Cache is the coordinator's content-addressed store. The zero value is not
// usable; construct with New.
type Cache struct {
	mu        sync.Mutex
	dir       string
	maxBytes  int64
	usedBytes int64
	entries   map[string]*CacheEntry
	lru       *list.List // front = most recently used

	group    singleflight.Group
	distLock *redis.Client // optional cross-replica build lock
	janitor  *cron.Cron
}

// New creates a Cache rooted at dir, evicting once usedBytes exceeds
// maxBytes (maxBytes <= 0 disables eviction). distLock may be nil to run
// with in-process-only single-flighting (sufficient for a single
// coordinator instance).
func New(dir string, maxBytes int64, distLock *redis.Client) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		entries:  make(map[string]*CacheEntry),
		lru:      list.New(),
		distLock: distLock,
	}, nil
}

// StartJanitor schedules a periodic eviction sweep on a cron expression
// (e.g. "@every 1m"), following the teacher's cron.Cron scheduler idiom
// (internal/application/trigger/cron_scheduler.go) repurposed for cache
// upkeep instead of user-facing flow triggers.
func (c *Cache) StartJanitor(schedule string) error {
	c.janitor = cron.New()
	if _, err := c.janitor.AddFunc(schedule, c.evictUntilUnderLimit); err != nil {
		return fmt.Errorf("schedule cache janitor: %w", err)
	}
	c.janitor.Start()
	return nil
}

// StopJanitor halts the background eviction sweep, if one was started.
func (c *Cache) StopJanitor() {
	if c.janitor != nil {
		c.janitor.Stop()
	}
}

// Lookup implements plan.CacheLookup: resolves a fingerprint to a CacheRef
// and bumps its recency.
func (c *Cache) Lookup(fingerprint string) (plan.CacheRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return plan.CacheRef{}, false
	}
	c.lru.MoveToFront(e.elem)
	return plan.CacheRef{Fingerprint: e.Fingerprint, Schema: e.Schema, PayloadLocation: e.PayloadLocation}, true
}

// Acquire pins fingerprint against eviction for the duration of a running
// node's reference to it; Release unpins. Acquiring an absent fingerprint
// is a no-op — the caller only pins entries it already looked up.
func (c *Cache) Acquire(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fingerprint]; ok {
		e.refCount++
	}
}

// Release unpins fingerprint once the run holding it completes.
func (c *Cache) Release(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fingerprint]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// Insert returns the existing entry for fingerprint, or materializes one by
// calling produce. Concurrent callers for the same fingerprint block on a
// single in-flight producer and all observe its result (spec §4.6).
func (c *Cache) Insert(ctx context.Context, fingerprint string, produce PayloadProducer) (plan.CacheRef, error) {
	if ref, ok := c.Lookup(fingerprint); ok {
		return ref, nil
	}

	release := c.acquireDistLock(ctx, fingerprint)
	defer release()

	v, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		if ref, ok := c.Lookup(fingerprint); ok {
			return ref, nil
		}
		payload, schema, err := produce()
		if err != nil {
			return nil, err
		}
		return c.store(fingerprint, schema, payload)
	})
	if err != nil {
		return plan.CacheRef{}, err
	}
	return v.(plan.CacheRef), nil
}

// acquireDistLock best-effort coordinates builders across coordinator
// replicas via Redis SETNX. It is an optimization, not a correctness
// requirement: correctness within one process is already guaranteed by
// singleflight.Group, so a lock acquisition failure here only risks a
// redundant build across replicas, never a torn read.
func (c *Cache) acquireDistLock(ctx context.Context, fingerprint string) func() {
	if c.distLock == nil {
		return func() {}
	}
	key := "fctl:cache:build-lock:" + fingerprint
	ok, err := c.distLock.SetNX(ctx, key, "1", 30*time.Second).Result()
	if err != nil || !ok {
		return func() {}
	}
	return func() { c.distLock.Del(ctx, key) }
}

func (c *Cache) store(fingerprint string, schema types.Schema, payload []byte) (plan.CacheRef, error) {
	loc := c.payloadPath(fingerprint)
	if err := os.MkdirAll(filepath.Dir(loc), 0o755); err != nil {
		return plan.CacheRef{}, fmt.Errorf("create cache shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(loc), ".tmp-*")
	if err != nil {
		return plan.CacheRef{}, fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return plan.CacheRef{}, fmt.Errorf("write cache payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return plan.CacheRef{}, fmt.Errorf("fsync cache payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return plan.CacheRef{}, fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), loc); err != nil {
		return plan.CacheRef{}, fmt.Errorf("rename cache payload into place: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &CacheEntry{Fingerprint: fingerprint, Schema: schema, PayloadLocation: loc, Size: int64(len(payload))}
	entry.elem = c.lru.PushFront(entry)
	c.entries[fingerprint] = entry
	c.usedBytes += entry.Size
	c.evictUntilUnderLimitLocked()

	return plan.CacheRef{Fingerprint: fingerprint, Schema: schema, PayloadLocation: loc}, nil
}

// payloadPath shards payloads under a two-character fingerprint prefix
// directory, matching the persisted-state layout's
// <cache_dir>/<fingerprint_prefix>/<fingerprint>.
func (c *Cache) payloadPath(fingerprint string) string {
	prefix := fingerprint
	if len(prefix) > 2 {
		prefix = fingerprint[:2]
	}
	return filepath.Join(c.dir, prefix, fingerprint)
}

func (c *Cache) evictUntilUnderLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictUntilUnderLimitLocked()
}

func (c *Cache) evictUntilUnderLimitLocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.usedBytes > c.maxBytes {
		victim := c.evictionVictimLocked()
		if victim == nil {
			return // everything still in use is pinned; nothing left to evict
		}
		c.lru.Remove(victim.elem)
		delete(c.entries, victim.Fingerprint)
		c.usedBytes -= victim.Size
		os.Remove(victim.PayloadLocation)
	}
}

func (c *Cache) evictionVictimLocked() *CacheEntry {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*CacheEntry)
		if entry.refCount == 0 {
			return entry
		}
	}
	return nil
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes reports total bytes currently held by cached payloads.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
