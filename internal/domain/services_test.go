package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/cycle"
	"github.com/colthorp/healthsync-go/internal/remote"
)

func TestOperationsRequireSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.svc.Start(ctx), ErrNoSession)
	_, err := h.svc.Nutrition.LogMeal(ctx, MealInput{Name: "Eggs"})
	require.ErrorIs(t, err, ErrNoSession)
	_, err = h.svc.Fitness.CompleteWorkoutDay(ctx, 1)
	require.ErrorIs(t, err, ErrNoSession)
	_, err = h.svc.Wellness.SymptomSuggestions(ctx, cycle.Luteal)
	require.ErrorIs(t, err, ErrNoSession)
	_, err = h.svc.Journal.PatternInsight(ctx)
	require.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, h.remote.RequestLog)
}

func TestSignInLoadsFromCacheOnSecondStart(t *testing.T) {
	h := newHarness(t)
	h.seedProfile("2024-07-01", 28)
	h.signIn(t)
	fetches := h.remote.FetchesMade(CollectionProfiles)
	require.Equal(t, 1, fetches)

	deps := *h.deps
	deps.Session = nil
	again := New(deps)
	require.NoError(t, again.SignIn(context.Background(), testUser, "token"))

	assert.Equal(t, fetches, h.remote.FetchesMade(CollectionProfiles))
	p, ok := again.Profile.Profile()
	require.True(t, ok)
	assert.Equal(t, "2024-07-01", p.CycleAnchor)
}

func TestSignInSurfacesFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.remote.FailFetches(1, nil)

	err := h.svc.SignIn(context.Background(), testUser, "token")
	require.ErrorIs(t, err, remote.ErrInjected)
}

func TestSignOutClearsUserScope(t *testing.T) {
	h := newHarness(t)
	seedMeal(h, "m-1", "2024-07-15", "2024-07-15T07:30:00Z")
	h.signIn(t)

	other := core.CacheKey("user-2", core.DomainNutrition, "meals", "2024-07-15")
	h.cache.Set(other, []Meal{})
	extended := core.CacheKey(testUser+"_b", core.DomainNutrition, "meals", "2024-07-15")
	h.cache.Set(extended, []Meal{})
	require.Greater(t, h.cache.Stats().ItemCount, 2)
	require.Len(t, h.svc.Nutrition.Meals(), 1)

	h.svc.SignOut()

	assert.Equal(t, 2, h.cache.Stats().ItemCount)
	_, ok := cached[[]Meal](t, h, other)
	assert.True(t, ok, "other users' entries survive")
	_, ok = cached[[]Meal](t, h, extended)
	assert.True(t, ok, "a user id extending this one is a different scope")
	assert.Empty(t, h.svc.Nutrition.Meals())
	_, ok = h.svc.Profile.Profile()
	assert.False(t, ok)
	_, err := h.svc.Session().UserID()
	assert.ErrorIs(t, err, ErrNoSession)

	// No session: second sign-out is a no-op.
	h.svc.SignOut()
}
