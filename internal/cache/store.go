package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/storage"
	"github.com/sirupsen/logrus"
)

// keyPrefix namespaces cache entries inside the shared KV.
const keyPrefix = "cache:"

// Store is the TTL cache over a size-bounded storage.KV.
//
// Store is safe for concurrent use. It never initiates writes on its own;
// domain services decide what to cache and when.
type Store struct {
	kv    storage.KV
	cfg   Config
	log   *logrus.Entry
	mu    sync.Mutex
	sizes map[string]int // cache key -> size_bytes, mirrors storage
	stats Stats
}

// New creates a Store over kv and rebuilds size accounting by scanning the
// persisted entries. Corrupt entries found during the scan are removed.
func New(kv storage.KV, cfg Config) *Store {
	if cfg.MaxItemBytes <= 0 {
		cfg.MaxItemBytes = core.DefaultMaxItemBytes
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = core.DefaultMaxTotalBytes
	}
	if cfg.CleanupRatio <= 0 || cfg.CleanupRatio > 1 {
		cfg.CleanupRatio = core.DefaultCleanupRatio
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = core.DiscardLogger()
	}

	s := &Store{
		kv:    kv,
		cfg:   cfg,
		log:   cfg.Logger,
		sizes: make(map[string]int),
	}
	s.rebuild()
	return s
}

// rebuild recomputes sizes and stats from storage.
func (s *Store) rebuild() {
	keys, err := s.kv.Keys(keyPrefix)
	if err != nil {
		s.log.WithError(err).Warn("cache scan failed; starting empty")
		return
	}
	for _, storageKey := range keys {
		key := strings.TrimPrefix(storageKey, keyPrefix)
		entry, ok := s.read(key)
		if !ok {
			continue
		}
		s.sizes[key] = entry.SizeBytes
		s.stats.TotalSizeBytes += entry.SizeBytes
	}
	s.stats.ItemCount = len(s.sizes)
	s.log.WithFields(logrus.Fields{
		"items": s.stats.ItemCount,
		"bytes": s.stats.TotalSizeBytes,
	}).Debug("cache stats rebuilt")
}

// read loads and decodes the envelope for key. Corrupt envelopes are removed.
// Caller must hold s.mu or be single-threaded (construction).
func (s *Store) read(key string) (*Entry, bool) {
	data, err := s.kv.Get(keyPrefix + key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		s.log.WithField("key", key).Warn("corrupt cache entry removed")
		s.removeStorage(key)
		return nil, false
	}
	return &entry, true
}

// Set caches value under key. Oversized values and storage failures are
// dropped silently (logged only).
func (s *Store) Set(key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache value not serializable")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		Key:       key,
		StoredAt:  s.cfg.Now().UnixMilli(),
		Payload:   payload,
		SizeBytes: len(payload) + len(key),
	}

	if entry.SizeBytes > s.cfg.MaxItemBytes {
		s.log.WithFields(logrus.Fields{"key": key, "bytes": entry.SizeBytes}).Debug("cache item over per-item ceiling; not cached")
		// A previous, smaller value under the same key is now stale
		s.forget(key)
		return
	}

	if s.stats.TotalSizeBytes-s.sizes[key]+entry.SizeBytes > s.cfg.MaxTotalBytes {
		s.evict(entry.SizeBytes, s.threshold())
	}

	if err := s.write(&entry); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache write rejected; evicting and retrying")
		// Storage ran out before the configured ceiling did, so shrink against
		// what is actually held rather than the ceiling
		quota := int(float64(s.stats.TotalSizeBytes) * s.cfg.CleanupRatio)
		if t := s.threshold(); t < quota {
			quota = t
		}
		s.evict(entry.SizeBytes, quota)
		if err := s.write(&entry); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("cache write dropped")
			cacheDroppedWrites.Inc()
			return
		}
	}

	s.track(key, entry.SizeBytes)
}

// write serializes the envelope into storage.
func (s *Store) write(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.kv.Set(keyPrefix+entry.Key, data)
}

// track records key at size in the accounting.
func (s *Store) track(key string, size int) {
	s.stats.TotalSizeBytes += size - s.sizes[key]
	s.sizes[key] = size
	s.stats.ItemCount = len(s.sizes)
}

// forget removes key from storage and accounting.
func (s *Store) forget(key string) {
	s.removeStorage(key)
	if size, ok := s.sizes[key]; ok {
		s.stats.TotalSizeBytes -= size
		delete(s.sizes, key)
		s.stats.ItemCount = len(s.sizes)
	}
}

func (s *Store) removeStorage(key string) {
	if err := s.kv.Remove(keyPrefix + key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache remove failed")
	}
}

// Get decodes the cached value for key into out and reports whether it was
// fresh. Entries older than ttl are deleted on access.
func (s *Store) Get(key string, ttl time.Duration, out interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.read(key)
	if !ok {
		s.forgetAccounting(key)
		s.miss()
		return false
	}

	if s.cfg.Now().UnixMilli()-entry.StoredAt > ttl.Milliseconds() {
		s.forget(key)
		s.miss()
		return false
	}

	if err := json.Unmarshal(entry.Payload, out); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache payload does not match requested type; dropped")
		s.forget(key)
		s.miss()
		return false
	}

	entry.HitCount++
	if err := s.write(entry); err != nil {
		s.log.WithError(err).WithField("key", key).Debug("hit count not persisted")
	}
	s.stats.Hits++
	cacheHits.Inc()
	return true
}

// forgetAccounting drops key from accounting when storage no longer has it.
func (s *Store) forgetAccounting(key string) {
	if size, ok := s.sizes[key]; ok {
		s.stats.TotalSizeBytes -= size
		delete(s.sizes, key)
		s.stats.ItemCount = len(s.sizes)
	}
}

func (s *Store) miss() {
	s.stats.Misses++
	cacheMisses.Inc()
}

// GetOrSet returns the fresh cached value for key, or calls factory once,
// caches its result and returns it. Factory errors are returned uncached.
//
// Concurrent callers for the same key may each call their factory; compose
// with dedupe.Group where that matters.
func GetOrSet[T any](ctx context.Context, s *Store, key string, ttl time.Duration, factory func(context.Context) (T, error)) (T, error) {
	var cached T
	if s.Get(key, ttl, &cached) {
		return cached, nil
	}

	value, err := factory(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.Set(key, value)
	return value, nil
}

// Clear removes a single entry.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forget(key)
}

// ClearAllForScope removes every entry whose key starts with scopePrefix.
func (s *Store) ClearAllForScope(scopePrefix string) {
	s.removeMatching(func(key string) bool { return strings.HasPrefix(key, scopePrefix) })
}

// InvalidatePattern removes every entry whose key contains substring.
func (s *Store) InvalidatePattern(substring string) {
	s.removeMatching(func(key string) bool { return strings.Contains(key, substring) })
}

func (s *Store) removeMatching(match func(string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(keyPrefix)
	if err != nil {
		s.log.WithError(err).Warn("cache scan failed")
		return
	}
	removed := 0
	for _, storageKey := range keys {
		key := strings.TrimPrefix(storageKey, keyPrefix)
		if match(key) {
			s.forget(key)
			removed++
		}
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Debug("cache entries invalidated")
	}
}

// Stats returns a snapshot of the cache telemetry.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// threshold is the size eviction shrinks the cache below.
func (s *Store) threshold() int {
	return int(float64(s.cfg.MaxTotalBytes) * s.cfg.CleanupRatio)
}

// evict removes least-hit, then oldest, entries until the total plus incoming
// bytes is below threshold. Caller must hold s.mu.
func (s *Store) evict(incoming, threshold int) {
	candidates := make([]*Entry, 0, len(s.sizes))
	for key := range s.sizes {
		entry, ok := s.read(key)
		if !ok {
			s.forgetAccounting(key)
			continue
		}
		candidates = append(candidates, entry)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].HitCount != candidates[j].HitCount {
			return candidates[i].HitCount < candidates[j].HitCount
		}
		return candidates[i].StoredAt < candidates[j].StoredAt
	})

	evicted := 0
	for _, entry := range candidates {
		if s.stats.TotalSizeBytes+incoming < threshold {
			break
		}
		s.forget(entry.Key)
		evicted++
	}

	if evicted > 0 {
		cacheEvictions.Add(float64(evicted))
		s.log.WithFields(logrus.Fields{
			"evicted": evicted,
			"bytes":   s.stats.TotalSizeBytes,
		}).Debug("cache eviction")
	}
}
