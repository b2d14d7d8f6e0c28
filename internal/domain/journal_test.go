package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/core"
)

func TestJournalAddAndDelete(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	ctx := context.Background()

	_, err := h.svc.Journal.AddEntry(ctx, "   ", 0)
	require.Error(t, err)

	older, err := h.svc.Journal.AddEntry(ctx, "Slept badly", 2)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	newer, err := h.svc.Journal.AddEntry(ctx, "  Long walk  ", 4)
	require.NoError(t, err)
	assert.Equal(t, "Long walk", newer.Content)

	entries := h.svc.Journal.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, newer.ID, entries[0].ID)

	h.remote.FailWrites(1, nil)
	require.Error(t, h.svc.Journal.DeleteEntry(ctx, older.ID))
	assert.Len(t, h.svc.Journal.Entries(), 2)

	require.NoError(t, h.svc.Journal.DeleteEntry(ctx, older.ID))
	entries = h.svc.Journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, newer.ID, entries[0].ID)

	fromCache, ok := cached[[]JournalEntry](t, h, core.CacheKey(testUser, core.DomainJournal, "entries"))
	require.True(t, ok)
	assert.Len(t, fromCache, 1)

	require.ErrorIs(t, h.svc.Journal.DeleteEntry(ctx, "missing"), ErrNotFound)
}

func TestPatternInsightCachedUntilNewEntry(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.ai.Respond(ai.ActionPatternInsight, ai.Result{"insight": "Walks lift your mood."})
	ctx := context.Background()

	_, err := h.svc.Journal.PatternInsight(ctx)
	require.Error(t, err, "no entries to analyze")

	_, err = h.svc.Journal.AddEntry(ctx, "Long walk", 4)
	require.NoError(t, err)

	ins, err := h.svc.Journal.PatternInsight(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Walks lift your mood.", ins.Text)
	_, err = h.svc.Journal.PatternInsight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.ai.CallsMade(ai.ActionPatternInsight))

	_, err = h.svc.Journal.AddEntry(ctx, "Another walk", 5)
	require.NoError(t, err)
	_, err = h.svc.Journal.PatternInsight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.ai.CallsMade(ai.ActionPatternInsight))
}

func TestPatternInsightFailureIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.ai.Respond(ai.ActionPatternInsight, ai.Result{"insight": "ok"})
	ctx := context.Background()
	_, err := h.svc.Journal.AddEntry(ctx, "note", 3)
	require.NoError(t, err)

	h.ai.FailNext(1, nil)
	_, err = h.svc.Journal.PatternInsight(ctx)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, ai.ErrInjected)
	assert.Contains(t, err.Error(), "could not generate pattern insight")

	ins, err := h.svc.Journal.PatternInsight(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", ins.Text)
}
