package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentCallsShareOneExecution(t *testing.T) {
	var g Group
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "plan-v1", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), &g, "u1_plan", fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-started
	require.Eventually(t, func() bool { return g.InFlight("u1_plan") == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"plan-v1", "plan-v1"}, results)
	assert.Equal(t, 0, g.InFlight("u1_plan"))
}

func TestKeyReleasedAfterSuccess(t *testing.T) {
	var g Group
	calls := 0
	fn := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	first, err := Do(context.Background(), &g, "k", fn)
	require.NoError(t, err)
	second, err := Do(context.Background(), &g, "k", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second, "a settled call must not be reused")
}

func TestErrorSharedThenCleared(t *testing.T) {
	var g Group
	boom := errors.New("upstream failed")
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32

	fn := func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return 0, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Do(context.Background(), &g, "k", fn)
		}(i)
	}
	<-started
	require.Eventually(t, func() bool { return g.InFlight("k") == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	v, err := Do(context.Background(), &g, "k", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDistinctKeysRunIndependently(t *testing.T) {
	var g Group
	a, err := Do(context.Background(), &g, "a", func(ctx context.Context) (string, error) { return "A", nil })
	require.NoError(t, err)
	b, err := Do(context.Background(), &g, "b", func(ctx context.Context) (string, error) { return "B", nil })
	require.NoError(t, err)
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}

func TestWaiterContextCancelled(t *testing.T) {
	var g Group
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = Do(context.Background(), &g, "slow", func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		})
	}()
	require.Eventually(t, func() bool { return g.InFlight("slow") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, &g, "slow", func(ctx context.Context) (int, error) { return 2, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFirstCallerCancelDoesNotFailOthers(t *testing.T) {
	var g Group
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
			return "insight", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Do(ctx, &g, "k", fn)
		firstErr <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		v, err := Do(context.Background(), &g, "k", fn)
		assert.NoError(t, err)
		second <- v
	}()
	require.Eventually(t, func() bool { return g.InFlight("k") == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)
	assert.Equal(t, "insight", <-second)
}
