// Package dedupe coalesces concurrent calls that share a key into one in-flight call.
//
// It does not cache results: once the in-flight call settles, success or
// failure, the key is released and the next call starts fresh. Completed
// results are cached, if at all, by the cache package layered on top.
package dedupe

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var dedupeShared = promauto.NewCounter(prometheus.CounterOpts{
	Name: "healthsync_dedupe_shared_total",
	Help: "Number of callers that received another caller's in-flight result",
})

// Group collapses concurrent identical requests.
// The zero value is ready to use.
type Group struct {
	flight singleflight.Group

	mu       sync.Mutex
	inFlight map[string]int
}

// Do runs fn once per key among concurrent callers. Every caller waiting on
// the same key receives the same value and error.
//
// fn runs with the first caller's context values but without its
// cancellation, so one caller going away never fails the others. A caller
// whose own ctx ends stops waiting and gets ctx.Err(); the shared call keeps
// running to completion.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	g.enter(key)
	defer g.leave(key)

	shared := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(key, func() (interface{}, error) {
		return fn(shared)
	})

	select {
	case res := <-ch:
		if res.Shared {
			dedupeShared.Inc()
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of callers currently waiting on key.
func (g *Group) InFlight(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[key]
}

func (g *Group) enter(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == nil {
		g.inFlight = make(map[string]int)
	}
	g.inFlight[key]++
}

func (g *Group) leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[key] <= 1 {
		delete(g.inFlight, key)
		return
	}
	g.inFlight[key]--
}

// Do is the typed form of Group.Do.
func Do[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, error) {
	v, err := g.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}
