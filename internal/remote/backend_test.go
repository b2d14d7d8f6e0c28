package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backendContract runs the same behavior checks against any embedded Backend.
func backendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("insert assigns id", func(t *testing.T) {
		b := newBackend(t)
		row, err := b.Write(ctx, Mutation{Collection: "meals", Op: OpInsert, Payload: Row{"user_id": "u1", "name": "oatmeal", "calories": 300}})
		require.NoError(t, err)
		assert.NotEmpty(t, row.ID())
		assert.Equal(t, "oatmeal", row["name"])
	})

	t.Run("fetch filters orders and limits", func(t *testing.T) {
		b := newBackend(t)
		for _, r := range []Row{
			{"user_id": "u1", "logged_at": "2024-07-15T08:00:00Z", "calories": 300},
			{"user_id": "u1", "logged_at": "2024-07-15T12:00:00Z", "calories": 650},
			{"user_id": "u1", "logged_at": "2024-07-14T19:00:00Z", "calories": 800},
			{"user_id": "u2", "logged_at": "2024-07-15T09:00:00Z", "calories": 200},
		} {
			_, err := b.Write(ctx, Mutation{Collection: "meals", Op: OpInsert, Payload: r})
			require.NoError(t, err)
		}

		rows, err := b.Fetch(ctx, Query{
			Collection: "meals",
			Filters: []Filter{
				Where("user_id", "u1"),
				{Column: "logged_at", Op: Gte, Value: "2024-07-15"},
			},
			Order: &Order{Column: "logged_at", Desc: true},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, float64(650), rows[0]["calories"])
		assert.Equal(t, float64(300), rows[1]["calories"])

		rows, err = b.Fetch(ctx, Query{
			Collection: "meals",
			Filters:    []Filter{{Column: "calories", Op: Gt, Value: 250}},
			Order:      &Order{Column: "calories"},
			Limit:      2,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, float64(300), rows[0]["calories"])
		assert.Equal(t, float64(650), rows[1]["calories"])
	})

	t.Run("update merges matching row", func(t *testing.T) {
		b := newBackend(t)
		row, err := b.Write(ctx, Mutation{Collection: "workout_plans", Op: OpInsert, Payload: Row{"user_id": "u1", "goal": "strength", "active": true}})
		require.NoError(t, err)

		updated, err := b.Write(ctx, Mutation{
			Collection: "workout_plans",
			Op:         OpUpdate,
			Payload:    Row{"active": false},
			Match:      []Filter{Where("id", row.ID())},
		})
		require.NoError(t, err)
		assert.Equal(t, row.ID(), updated.ID())
		assert.Equal(t, false, updated["active"])
		assert.Equal(t, "strength", updated["goal"])

		_, err = b.Write(ctx, Mutation{Collection: "workout_plans", Op: OpUpdate, Payload: Row{"active": true}, Match: []Filter{Where("id", "missing")}})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert by conflict key", func(t *testing.T) {
		b := newBackend(t)
		first, err := b.Write(ctx, Mutation{
			Collection:  "daily_logs",
			Op:          OpUpsert,
			Payload:     Row{"user_id": "u1", "log_date": "2024-07-15", "mood": 3},
			ConflictKey: "user_id,log_date",
		})
		require.NoError(t, err)

		second, err := b.Write(ctx, Mutation{
			Collection:  "daily_logs",
			Op:          OpUpsert,
			Payload:     Row{"user_id": "u1", "log_date": "2024-07-15", "mood": 5},
			ConflictKey: "user_id,log_date",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID(), second.ID())
		assert.Equal(t, float64(5), second["mood"])

		rows, err := b.Fetch(ctx, Query{Collection: "daily_logs"})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("written rows read back as stored", func(t *testing.T) {
		b := newBackend(t)
		inserted, err := b.Write(ctx, Mutation{Collection: "meals", Op: OpInsert, Payload: Row{"user_id": "u1", "calories": 350}})
		require.NoError(t, err)
		assert.Equal(t, float64(350), inserted["calories"])

		updated, err := b.Write(ctx, Mutation{
			Collection: "meals",
			Op:         OpUpdate,
			Payload:    Row{"calories": 400},
			Match:      []Filter{Where("id", inserted.ID())},
		})
		require.NoError(t, err)
		assert.Equal(t, float64(400), updated["calories"])

		created, err := b.Write(ctx, Mutation{
			Collection:  "daily_logs",
			Op:          OpUpsert,
			Payload:     Row{"user_id": "u1", "log_date": "2024-07-16", "mood": 2},
			ConflictKey: "user_id,log_date",
		})
		require.NoError(t, err)
		assert.Equal(t, float64(2), created["mood"])

		rows, err := b.Fetch(ctx, Query{Collection: "meals"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, updated, rows[0])
	})

	t.Run("delete removes row", func(t *testing.T) {
		b := newBackend(t)
		row, err := b.Write(ctx, Mutation{Collection: "meals", Op: OpInsert, Payload: Row{"user_id": "u1"}})
		require.NoError(t, err)

		removed, err := b.Write(ctx, Mutation{Collection: "meals", Op: OpDelete, Match: []Filter{Where("id", row.ID())}})
		require.NoError(t, err)
		assert.Equal(t, row.ID(), removed.ID())

		rows, err := b.Fetch(ctx, Query{Collection: "meals"})
		require.NoError(t, err)
		assert.Empty(t, rows)

		_, err = b.Write(ctx, Mutation{Collection: "meals", Op: OpDelete, Match: []Filter{Where("id", row.ID())}})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unsupported op", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Write(ctx, Mutation{Collection: "meals", Op: "truncate"})
		assert.Error(t, err)
	})
}

func TestInMemoryBackendContract(t *testing.T) {
	backendContract(t, func(t *testing.T) Backend { return NewInMemoryBackend() })
}

func TestSQLiteBackendContract(t *testing.T) {
	backendContract(t, func(t *testing.T) Backend {
		b, err := NewSQLiteBackend(":memory:", nil)
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestSQLiteBackendPersists(t *testing.T) {
	path := t.TempDir() + "/remote.db"
	ctx := context.Background()

	b, err := NewSQLiteBackend(path, nil)
	require.NoError(t, err)
	row, err := b.Write(ctx, Mutation{Collection: "profiles", Op: OpInsert, Payload: Row{"id": "u1", "cycle_length": 30}})
	require.NoError(t, err)
	assert.Equal(t, "u1", row.ID())
	require.NoError(t, b.Close())

	reopened, err := NewSQLiteBackend(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	rows, err := reopened.Fetch(ctx, Query{Collection: "profiles", Filters: []Filter{Where("id", "u1")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(30), rows[0]["cycle_length"])
}

func TestInMemoryBackendFailureInjectionAndLog(t *testing.T) {
	b := NewInMemoryBackend()
	ctx := context.Background()
	custom := errors.New("connection reset")

	b.FailWrites(1, custom)
	_, err := b.Write(ctx, Mutation{Collection: "meals", Op: OpInsert, Payload: Row{"name": "toast"}})
	assert.ErrorIs(t, err, custom)
	assert.Empty(t, b.Rows("meals"), "failed write must not land")

	_, err = b.Write(ctx, Mutation{Collection: "meals", Op: OpInsert, Payload: Row{"name": "toast"}})
	require.NoError(t, err)

	b.FailFetches(1, nil)
	_, err = b.Fetch(ctx, Query{Collection: "meals"})
	assert.ErrorIs(t, err, ErrInjected)

	assert.Equal(t, 2, b.WritesMade("meals"))
	assert.Equal(t, 1, b.FetchesMade("meals"))

	b.Reset()
	assert.Empty(t, b.RequestLog)
	assert.Empty(t, b.Rows("meals"))
}

func TestInMemoryBackendReturnsCopies(t *testing.T) {
	b := NewInMemoryBackend()
	b.Seed("meals", Row{"name": "soup"})

	rows, err := b.Fetch(context.Background(), Query{Collection: "meals"})
	require.NoError(t, err)
	rows[0]["name"] = "changed"

	assert.Equal(t, "soup", b.Rows("meals")[0]["name"])
}

func TestEncodeDecodeRows(t *testing.T) {
	type meal struct {
		ID       string  `json:"id,omitempty"`
		UserID   string  `json:"user_id"`
		Calories float64 `json:"calories"`
	}

	row, err := EncodeRow(meal{UserID: "u1", Calories: 420})
	require.NoError(t, err)
	_, hasID := row["id"]
	assert.False(t, hasID)
	assert.Equal(t, "u1", row["user_id"])

	meals, err := DecodeRows[meal]([]Row{{"id": "m1", "user_id": "u1", "calories": 420}})
	require.NoError(t, err)
	assert.Equal(t, []meal{{ID: "m1", UserID: "u1", Calories: 420}}, meals)

	_, err = DecodeRow[meal](Row{"calories": "lots"})
	assert.Error(t, err)
}
