package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/dedupe"
	"github.com/colthorp/healthsync-go/internal/ratelimit"
	"github.com/colthorp/healthsync-go/internal/remote"
)

// loadCached returns a collection from the cache, fetching and caching it on
// a miss. Concurrent loads of the same key share one fetch.
func loadCached[T any](ctx context.Context, d *Deps, key string, ttl time.Duration, q remote.Query) ([]T, error) {
	return dedupe.Do(ctx, d.Dedupe, "load:"+key, func(ctx context.Context) ([]T, error) {
		return cache.GetOrSet(ctx, d.Cache, key, ttl, func(ctx context.Context) ([]T, error) {
			rows, err := d.Remote.Fetch(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", q.Collection, err)
			}
			return remote.DecodeRows[T](rows)
		})
	})
}

// confirm issues a remote write and decodes the confirmed row.
func confirm[T any](ctx context.Context, d *Deps, m remote.Mutation) (T, error) {
	var zero T
	row, err := d.Remote.Write(ctx, m)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", m.Op, m.Collection, err)
	}
	out, err := remote.DecodeRow[T](row)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", m.Op, m.Collection, err)
	}
	return out, nil
}

// insert encodes v and inserts it into collection.
func insert[T any](ctx context.Context, d *Deps, collection string, v T) (T, error) {
	row, err := remote.EncodeRow(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return confirm[T](ctx, d, remote.Mutation{Collection: collection, Op: remote.OpInsert, Payload: row})
}

// deleteByID removes one row by id.
func deleteByID(ctx context.Context, d *Deps, collection, id string) error {
	_, err := d.Remote.Write(ctx, remote.Mutation{
		Collection: collection,
		Op:         remote.OpDelete,
		Match:      []remote.Filter{remote.Where("id", id)},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	return nil
}

// applyOptimistic runs one optimistic mutation against a single entity.
//
// mutate edits a copy of the current value; an error from it leaves
// everything untouched and nothing is written. Otherwise the edited copy is
// published with set before persist runs. If persist fails, the pre-mutation
// snapshot is published again and the error returned; on success the
// confirmed value is published.
func applyOptimistic[T any](ctx context.Context, current T, set func(T), mutate func(*T) error, persist func(context.Context, T) (T, error)) (T, error) {
	before := clone(current)
	next := clone(current)
	if err := mutate(&next); err != nil {
		return before, err
	}

	set(next)
	confirmed, err := persist(ctx, next)
	if err != nil {
		set(before)
		return before, err
	}
	set(confirmed)
	return confirmed, nil
}

// clone deep-copies v through JSON.
func clone[T any](v T) T {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// generate runs an AI action once per semantic key among concurrent callers.
// The limiter, when given, is charged once per shared call.
func (d *Deps) generate(ctx context.Context, kind, key string, limiter *ratelimit.Limiter, action string, payload map[string]interface{}) (ai.Result, error) {
	userID, err := d.Session.UserID()
	if err != nil {
		return nil, err
	}
	res, err := dedupe.Do(ctx, d.Dedupe, "gen:"+key, func(ctx context.Context) (ai.Result, error) {
		if limiter != nil {
			if err := limiter.Allow(userID); err != nil {
				return nil, err
			}
		}
		return d.AI.Call(ctx, action, payload)
	})
	if err != nil {
		return nil, &GenerationError{Kind: kind, Err: err}
	}
	return res, nil
}

// insight reads a text field out of an AI result.
func (d *Deps) insight(kind string, res ai.Result, field string) (Insight, error) {
	text, _ := res[field].(string)
	if text == "" {
		return Insight{}, &GenerationError{Kind: kind, Err: fmt.Errorf("%w: missing %q", ai.ErrMalformedResponse, field)}
	}
	return Insight{Text: text, GeneratedAt: d.now()}, nil
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
