// Package cache provides the local TTL cache that backs every domain service.
//
// # Overview
//
// Entries live in a storage.KV under the "cache:" namespace. Keys are the
// composite strings built by core.CacheKey:
//
//	{userScope}_{domain}_{resource}[_{dateOrId}]
//
// Each stored value is an Entry envelope:
//
//	{
//	  "key": "u1_nutrition_meals_2024-07-15",
//	  "stored_at": 1721034000000,
//	  "payload": [...],
//	  "size_bytes": 1834,
//	  "hit_count": 3
//	}
//
// # Size Accounting
//
// size_bytes is the serialized payload length plus the key length. Items larger
// than the per-item ceiling are never stored. When a write would push the total
// past the ceiling, eviction runs first: entries are ordered by
// (hit_count, stored_at) ascending and removed until the total, including the
// incoming item, is below CleanupRatio of the ceiling.
//
// # Failure Policy
//
// The cache is advisory. Storage errors, corrupt envelopes and serialization
// failures are logged and turned into misses or dropped writes; nothing is
// returned to callers. Every caller must tolerate a permanent miss.
package cache

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is the persisted envelope for one cached value.
type Entry struct {
	Key       string          `json:"key"`
	StoredAt  int64           `json:"stored_at"` // epoch ms
	Payload   json.RawMessage `json:"payload"`
	SizeBytes int             `json:"size_bytes"`
	HitCount  int             `json:"hit_count"`
}

// Stats is the aggregate cache telemetry. TotalSizeBytes and ItemCount are
// recomputed from storage when a Store is created; Hits and Misses count from zero.
type Stats struct {
	TotalSizeBytes int    `json:"total_size_bytes"`
	ItemCount      int    `json:"item_count"`
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
}

// Config holds the size ceilings and collaborators of a Store.
type Config struct {
	MaxItemBytes  int
	MaxTotalBytes int
	CleanupRatio  float64

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *logrus.Entry
}
