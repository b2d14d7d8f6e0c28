package ratelimit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/storage"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLimiter(kv storage.KV, max int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)}
	l := New(ClassAIText, kv, Options{MaxRequests: max, Window: window, Now: clock.Now})
	return l, clock
}

func TestFixedWindowAllowsMaxThenDenies(t *testing.T) {
	l, _ := newTestLimiter(storage.NewMemoryKV(0), 3, time.Second)

	var allowed []bool
	for i := 0; i < 4; i++ {
		allowed = append(allowed, l.Check("u1").Allowed)
	}
	assert.Equal(t, []bool{true, true, true, false}, allowed)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	l, clock := newTestLimiter(kv, 3, time.Second)
	for i := 0; i < 4; i++ {
		l.Check("u1")
	}

	clock.now = clock.now.Add(1001 * time.Millisecond)
	res := l.Check("u1")
	require.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)

	data, err := kv.Get("ratelimit:ai_text:u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1,"reset_at":1721034002001}`, string(data))
}

func TestWindowStillActiveAtResetInstant(t *testing.T) {
	l, clock := newTestLimiter(storage.NewMemoryKV(0), 1, time.Second)
	require.True(t, l.Check("u1").Allowed)

	clock.now = clock.now.Add(time.Second)
	assert.False(t, l.Check("u1").Allowed, "window only resets once now is past reset_at")
}

func TestDeniedRequestDoesNotIncrement(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	l, _ := newTestLimiter(kv, 2, time.Minute)
	l.Check("u1")
	l.Check("u1")
	l.Check("u1")
	l.Check("u1")

	var w window
	data, err := kv.Get("ratelimit:ai_text:u1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &w))
	assert.Equal(t, 2, w.Count)
}

func TestStatusDoesNotMutate(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	l, _ := newTestLimiter(kv, 2, time.Minute)

	st := l.Status("u1")
	assert.True(t, st.Allowed)
	assert.Equal(t, 2, st.Remaining)
	assert.Empty(t, mustKeys(t, kv))

	l.Check("u1")
	l.Check("u1")
	st = l.Status("u1")
	assert.False(t, st.Allowed)
	assert.Equal(t, 0, st.Remaining)

	st = l.Status("u1")
	assert.False(t, st.Allowed)
}

func TestIdentifiersAndClassesAreIndependent(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	clock := &fakeClock{now: time.Now()}
	text := New(ClassAIText, kv, Options{MaxRequests: 1, Window: time.Minute, Now: clock.Now})
	vision := New(ClassAIVision, kv, Options{MaxRequests: 1, Window: time.Minute, Now: clock.Now})

	assert.True(t, text.Check("u1").Allowed)
	assert.False(t, text.Check("u1").Allowed)
	assert.True(t, text.Check("u2").Allowed)
	assert.True(t, vision.Check("u1").Allowed)
}

func TestFailsOpenOnStorageErrors(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	l, _ := newTestLimiter(kv, 1, time.Minute)

	kv.FailSets = 3
	assert.True(t, l.Check("u1").Allowed)
	assert.True(t, l.Check("u1").Allowed, "unpersisted window must not deny")
}

func TestCorruptWindowTreatedAsAbsent(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	require.NoError(t, kv.Set("ratelimit:ai_text:u1", []byte("{")))
	l, _ := newTestLimiter(kv, 1, time.Minute)

	assert.True(t, l.Check("u1").Allowed)
}

func TestAllowReturnsLimitError(t *testing.T) {
	l, clock := newTestLimiter(storage.NewMemoryKV(0), 1, time.Minute)
	before := testutil.ToFloat64(deniedTotal.WithLabelValues(ClassAIText))

	require.NoError(t, l.Allow("u1"))
	clock.now = clock.now.Add(15 * time.Second)
	err := l.Allow("u1")

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, ClassAIText, limitErr.Class)
	assert.Equal(t, "try again in 45 seconds", limitErr.RetryMessage())
	assert.Contains(t, err.Error(), "ai_text")
	assert.Equal(t, before+1, testutil.ToFloat64(deniedTotal.WithLabelValues(ClassAIText)))
}

func TestRetryMessage(t *testing.T) {
	now := time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		wait time.Duration
		want string
	}{
		{1 * time.Second, "try again in 1 second"},
		{200 * time.Millisecond, "try again in 1 second"},
		{30*time.Second + 100*time.Millisecond, "try again in 31 seconds"},
		{time.Minute, "try again in 1 minute"},
		{90 * time.Second, "try again in 2 minutes"},
		{-time.Second, "try again in 1 second"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			e := &LimitError{Class: ClassAIVision, ResetAt: now.Add(tt.wait), Now: now}
			assert.Equal(t, tt.want, e.RetryMessage())
		})
	}
}

func TestRegistryBuildsEveryClass(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	r := NewRegistry(kv, core.DefaultConfig().Limits, nil, nil)

	classes := []string{}
	for _, l := range r.All() {
		classes = append(classes, l.Class())
	}
	assert.Equal(t, []string{ClassAIText, ClassAIVision, ClassMealLog, ClassWorkoutLog}, classes)

	for i := 0; i < core.DefaultAIVisionRequests; i++ {
		require.True(t, r.AIVision.Check("u1").Allowed)
	}
	assert.False(t, r.AIVision.Check("u1").Allowed)
	assert.True(t, r.AIText.Check("u1").Allowed)
}

func mustKeys(t *testing.T, kv storage.KV) []string {
	t.Helper()
	keys, err := kv.Keys(keyPrefix)
	require.NoError(t, err)
	return keys
}
