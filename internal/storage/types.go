// Package storage provides the persistent key/value primitive shared by the
// cache store and the rate limiter.
//
// Three backends are available:
//
//   - MemoryKV: map-backed, with an optional byte quota. Used by tests and the
//     "memory" storage driver.
//   - FileKV: one JSON file per key under a root directory, written with
//     temp file + rename.
//   - BadgerKV: an embedded BadgerDB instance. Default for the CLI.
//
// Callers namespace their own keys (the cache uses "cache:", the rate limiter
// "ratelimit:") and never touch another subsystem's keys.
package storage

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// ErrQuotaExceeded is returned by Set when the backend has no room for the value.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// KV is the persistent key/value storage primitive.
type KV interface {
	// Get returns the stored value or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys lists every key beginning with prefix, in no particular order.
	Keys(prefix string) ([]string, error)
}
