package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/domain"
	"github.com/colthorp/healthsync-go/internal/remote"
	"github.com/colthorp/healthsync-go/internal/storage"
)

type testEnv struct {
	app    *app
	remote *remote.InMemoryBackend
	ai     *ai.MockCaller
}

type envOption func(*core.Config, *ai.Caller)

func withCaller(c ai.Caller) envOption {
	return func(_ *core.Config, caller *ai.Caller) { *caller = c }
}

func withMealLimit(n int) envOption {
	return func(cfg *core.Config, _ *ai.Caller) { cfg.Limits.MealLog.MaxRequests = n }
}

// newTestEnv builds a signed-in app over in-memory backends at 2024-07-15
// 09:00 UTC. seed runs before sign-in.
func newTestEnv(t *testing.T, seed func(b *remote.InMemoryBackend), opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{remote: remote.NewInMemoryBackend(), ai: ai.NewMockCaller()}
	if seed != nil {
		seed(env.remote)
	}

	cfg := core.DefaultConfig()
	var caller ai.Caller = env.ai
	for _, opt := range opts {
		opt(&cfg, &caller)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	now := func() time.Time { return time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC) }

	env.app = buildApp(cfg, logger, storage.NewMemoryKV(0), env.remote, caller, now)
	require.NoError(t, env.app.svc.SignIn(context.Background(), cfg.User, ""))

	prev := newApp
	newApp = func(context.Context) (*app, error) { return env.app, nil }
	t.Cleanup(func() { newApp = prev })
	return env
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI with args and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--quiet"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedProfile(anchor string) func(b *remote.InMemoryBackend) {
	return func(b *remote.InMemoryBackend) {
		b.Seed(domain.CollectionProfiles, remote.Row{"id": core.DefaultUser, "cycle_anchor": anchor, "cycle_length": 28, "goal": "strength"})
	}
}

func TestMealsLogAndList(t *testing.T) {
	env := newTestEnv(t, nil)

	out, err := env.run(t, "meals", "log", "--name", "Eggs", "--calories", "150", "--protein", "12", "--type", "breakfast")
	require.NoError(t, err)
	assert.Contains(t, out, "logged Eggs (150 kcal) as ")

	out, err = env.run(t, "meals", "list", "--raw")
	require.NoError(t, err)
	var listed struct {
		Meals  []domain.Meal `json:"meals"`
		Totals domain.Totals `json:"totals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Meals, 1)
	assert.Equal(t, "2024-07-15", listed.Meals[0].LogDate)
	assert.Equal(t, 150.0, listed.Totals.Calories)
	assert.Equal(t, 12.0, listed.Totals.ProteinG)

	out, err = env.run(t, "meals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Eggs")
	assert.Contains(t, out, "total: 150 kcal, 12g protein")
}

func TestMealsLogForEarlierDayIsNotListed(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.run(t, "meals", "log", "--name", "Pizza", "--date", "yesterday")
	require.NoError(t, err)
	out, err := env.run(t, "meals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no meals logged today")

	rows := env.remote.Rows(domain.CollectionMeals)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-07-14", rows[0]["log_date"])
}

func TestPhaseFromFlags(t *testing.T) {
	env := newTestEnv(t, nil)

	out, err := env.run(t, "phase", "--anchor", "2024-07-01", "--date", "2024-07-15", "--raw")
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"ovulatory","day_of_cycle":15,"is_predicted_period":false}`, out)

	out, err = env.run(t, "phase", "--anchor", "2024-07-01", "--date", "2024-07-29")
	require.NoError(t, err)
	assert.Contains(t, out, "menstrual")
	assert.Contains(t, out, "1 of 28")
}

func TestPhaseFromProfile(t *testing.T) {
	env := newTestEnv(t, seedProfile("2024-07-01"))

	out, err := env.run(t, "phase", "--date", "d-3", "--raw")
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"follicular","day_of_cycle":12,"is_predicted_period":false}`, out)
}

func TestPhaseWithoutAnchorFails(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.run(t, "phase")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cycle anchor")
}

func TestCheckinWithPeriodMovesAnchor(t *testing.T) {
	env := newTestEnv(t, seedProfile("2024-07-01"))

	out, err := env.run(t, "checkin", "--period", "--mood", "2", "--symptoms", "cramps, fatigue,")
	require.NoError(t, err)
	assert.Equal(t, "checked in for 2024-07-15\n", out)

	today, ok := env.app.svc.Wellness.TodayLog()
	require.True(t, ok)
	assert.Equal(t, []string{"cramps", "fatigue"}, today.Symptoms)
	p, _ := env.app.svc.Profile.Profile()
	assert.Equal(t, "2024-07-15", p.CycleAnchor)
}

func TestPlanCompleteDay(t *testing.T) {
	env := newTestEnv(t, func(b *remote.InMemoryBackend) {
		b.Seed(domain.CollectionWorkoutPlans, remote.Row{
			"id":      "wp-1",
			"user_id": core.DefaultUser,
			"goal":    "strength",
			"days": []interface{}{
				map[string]interface{}{"day": 1, "title": "Push", "is_completed": true},
				map[string]interface{}{"day": 2, "title": "Pull", "is_completed": false},
			},
			"created_at": "2024-07-01T00:00:00Z",
		})
	})

	out, err := env.run(t, "plan", "complete-day", "2")
	require.NoError(t, err)
	assert.Equal(t, "day 2 completed\n", out)

	_, err = env.run(t, "plan", "complete-day", "2")
	require.ErrorIs(t, err, domain.ErrAlreadyLogged)

	_, err = env.run(t, "plan", "complete-day", "zero")
	require.Error(t, err)

	out, err = env.run(t, "plan", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "goal: strength")
	assert.Contains(t, out, "Pull")
}

func TestPlanGenerateNeedsGoal(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.run(t, "plan", "generate", "--meals")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no goal")
	assert.Zero(t, env.ai.CallsMade(ai.ActionMealPlan))
}

func TestCacheStatsAndClear(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.run(t, "meals", "log", "--name", "Eggs")
	require.NoError(t, err)

	out, err := env.run(t, "cache", "stats", "--raw")
	require.NoError(t, err)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Positive(t, stats.ItemCount)

	_, err = env.run(t, "cache", "clear")
	require.NoError(t, err)
	assert.Zero(t, env.app.store.Stats().ItemCount)
}

func TestLimitsReportRemaining(t *testing.T) {
	env := newTestEnv(t, nil, withMealLimit(2))
	_, err := env.run(t, "meals", "log", "--name", "Eggs")
	require.NoError(t, err)

	out, err := env.run(t, "limits", "--raw")
	require.NoError(t, err)
	var statuses []limitStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	remaining := map[string]int{}
	for _, s := range statuses {
		remaining[s.Class] = s.Remaining
	}
	assert.Equal(t, 1, remaining["meal_log"])
	assert.Equal(t, core.DefaultAITextRequests, remaining["ai_text"])
}

func TestInsightWithoutModelFails(t *testing.T) {
	env := newTestEnv(t, nil, withCaller(ai.Unavailable(errors.New("OPENAI_API_KEY environment variable not set"))))

	_, err := env.run(t, "journal", "add", "Slept", "well", "--mood", "4")
	require.NoError(t, err)
	entries := env.app.svc.Journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Slept well", entries[0].Content)

	_, err = env.run(t, "insight", "patterns")
	var genErr *domain.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, err.Error(), "could not generate pattern insight")
}

func TestChallengeJoinAndProgress(t *testing.T) {
	env := newTestEnv(t, func(b *remote.InMemoryBackend) {
		b.Seed(domain.CollectionChallenges, remote.Row{"id": "ch-1", "title": "Walk 10k", "unit": "km", "target": 10})
	})

	_, err := env.run(t, "challenge", "join", "ch-1")
	require.NoError(t, err)
	out, err := env.run(t, "challenge", "progress", "ch-1", "10")
	require.NoError(t, err)
	assert.Equal(t, "progress 10, challenge completed\n", out)

	out, err = env.run(t, "challenge", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "10 km (done)")
	assert.Contains(t, out, "achievements: 1")
}

func TestOpenKVRejectsUnknownDriver(t *testing.T) {
	_, _, err := openKV(core.StorageConfig{Driver: "tape"}, logrus.New())
	assert.Error(t, err)

	kv, closeKV, err := openKV(core.StorageConfig{Driver: "file", Path: t.TempDir()}, logrus.New())
	require.NoError(t, err)
	assert.Nil(t, closeKV)
	require.NoError(t, kv.Set("k", []byte("v")))
}

func TestOpenRemoteSQLite(t *testing.T) {
	b, closeRemote, err := openRemote(core.RemoteConfig{Driver: "sqlite", Path: t.TempDir() + "/db/remote.db"}, logrus.New())
	require.NoError(t, err)
	defer closeRemote()

	row, err := b.Write(context.Background(), remote.Mutation{
		Collection: domain.CollectionMeals,
		Op:         remote.OpInsert,
		Payload:    remote.Row{"name": "Eggs"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID())

	_, _, err = openRemote(core.RemoteConfig{Driver: "http"}, logrus.New())
	assert.Error(t, err, "http driver needs a URL")
}
