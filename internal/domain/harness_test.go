package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/ratelimit"
	"github.com/colthorp/healthsync-go/internal/remote"
	"github.com/colthorp/healthsync-go/internal/storage"
)

const testUser = "user-1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *Services
	deps   *Deps
	remote *remote.InMemoryBackend
	ai     *ai.MockCaller
	cache  *cache.Store
	kv     *storage.MemoryKV
	clock  *testClock
	limits core.LimitsConfig
}

type harnessOption func(*harness)

func withLimits(l core.LimitsConfig) harnessOption {
	return func(h *harness) { h.limits = l }
}

// newHarness builds services over in-memory collaborators. The clock starts
// at 2024-07-15 09:00 UTC.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		remote: remote.NewInMemoryBackend(),
		ai:     ai.NewMockCaller(),
		kv:     storage.NewMemoryKV(0),
		clock:  &testClock{now: time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)},
		limits: core.DefaultConfig().Limits,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.cache = cache.New(h.kv, cache.Config{
		MaxItemBytes:  core.DefaultMaxItemBytes,
		MaxTotalBytes: core.DefaultMaxTotalBytes,
		CleanupRatio:  core.DefaultCleanupRatio,
		Now:           h.clock.Now,
		Logger:        core.DiscardLogger(),
	})
	h.svc = New(Deps{
		Cache:  h.cache,
		Limits: ratelimit.NewRegistry(h.kv, h.limits, h.clock.Now, core.DiscardLogger()),
		Remote: h.remote,
		AI:     h.ai,
		TTL:    core.DefaultConfig().TTL,
		Now:    h.clock.Now,
	})
	h.deps = h.svc.deps
	return h
}

// signIn starts the session for testUser and loads every domain.
func (h *harness) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.SignIn(context.Background(), testUser, "token"))
}

func (h *harness) seedProfile(anchor string, length int) {
	h.remote.Seed(CollectionProfiles, remote.Row{"id": testUser, "cycle_anchor": anchor, "cycle_length": length})
}

func (h *harness) seedWorkoutPlan(completed ...bool) {
	days := make([]interface{}, 0, len(completed))
	for i, done := range completed {
		days = append(days, map[string]interface{}{"day": i + 1, "title": "Session", "is_completed": done})
	}
	h.remote.Seed(CollectionWorkoutPlans, remote.Row{
		"id":         "wp-1",
		"user_id":    testUser,
		"goal":       "strength",
		"days":       days,
		"created_at": "2024-07-01T00:00:00Z",
	})
}

func (h *harness) seedMealPlan() {
	slots := func() []interface{} {
		return []interface{}{
			map[string]interface{}{"kind": SlotBreakfast, "name": "Oats", "calories": 350, "logged": false},
			map[string]interface{}{"kind": SlotLunch, "name": "Salad", "calories": 500, "logged": false},
		}
	}
	h.remote.Seed(CollectionMealPlans, remote.Row{
		"id":      "mp-1",
		"user_id": testUser,
		"goal":    "balanced",
		"days": []interface{}{
			map[string]interface{}{"day": 1, "slots": slots()},
			map[string]interface{}{"day": 2, "slots": slots()},
		},
		"created_at": "2024-07-14T00:00:00Z",
	})
}

// cached decodes the cache entry for key.
func cached[T any](t *testing.T, h *harness, key string) (T, bool) {
	t.Helper()
	var out T
	ok := h.cache.Get(key, time.Hour, &out)
	return out, ok
}
