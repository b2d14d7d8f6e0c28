package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/dedupe"
	"github.com/colthorp/healthsync-go/internal/remote"
)

const (
	workoutHistoryLimit = 50
	weightHistoryLimit  = 90
)

// FitnessService owns workout history, weight history and the active workout plan.
type FitnessService struct {
	d     *Deps
	log   *logrus.Entry
	plans keyedMutex

	mu       sync.RWMutex
	workouts []Workout     // newest first
	weights  []WeightEntry // newest first
	plan     *WorkoutPlan
}

// NewFitnessService creates the service.
func NewFitnessService(d *Deps) *FitnessService {
	return &FitnessService{d: d, log: d.component(core.DomainFitness)}
}

func (s *FitnessService) workoutsKey(userID string) string {
	return core.CacheKey(userID, core.DomainFitness, "workouts")
}

func (s *FitnessService) weightsKey(userID string) string {
	return core.CacheKey(userID, core.DomainFitness, "weights")
}

func (s *FitnessService) planKey(userID string) string {
	return core.CacheKey(userID, core.DomainFitness, "workout_plan")
}

// Load fetches workout history, weight history and the latest plan.
func (s *FitnessService) Load(ctx context.Context) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	byUser := []remote.Filter{remote.Where("user_id", userID)}

	workouts, err := loadCached[Workout](ctx, s.d, s.workoutsKey(userID), s.d.TTL.History, remote.Query{
		Collection: CollectionWorkouts,
		Filters:    byUser,
		Order:      &remote.Order{Column: "performed_at", Desc: true},
		Limit:      workoutHistoryLimit,
	})
	if err != nil {
		return err
	}
	weights, err := loadCached[WeightEntry](ctx, s.d, s.weightsKey(userID), s.d.TTL.History, remote.Query{
		Collection: CollectionWeightEntries,
		Filters:    byUser,
		Order:      &remote.Order{Column: "logged_at", Desc: true},
		Limit:      weightHistoryLimit,
	})
	if err != nil {
		return err
	}
	plans, err := loadCached[WorkoutPlan](ctx, s.d, s.planKey(userID), s.d.TTL.Plans, remote.Query{
		Collection: CollectionWorkoutPlans,
		Filters:    byUser,
		Order:      &remote.Order{Column: "created_at", Desc: true},
		Limit:      1,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.workouts = workouts
	s.weights = weights
	s.plan = nil
	if len(plans) > 0 {
		p := plans[0]
		s.plan = &p
	}
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"workouts": len(workouts), "weights": len(weights)}).Debug("fitness loaded")
	return nil
}

// Workouts returns the workout history, newest first.
func (s *FitnessService) Workouts() []Workout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Workout(nil), s.workouts...)
}

// Weights returns the weight history, newest first.
func (s *FitnessService) Weights() []WeightEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]WeightEntry(nil), s.weights...)
}

// LatestWeight returns the newest weigh-in.
func (s *FitnessService) LatestWeight() (WeightEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.weights) == 0 {
		return WeightEntry{}, false
	}
	return s.weights[0], true
}

// WorkoutPlan returns a copy of the active plan.
func (s *FitnessService) WorkoutPlan() (WorkoutPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plan == nil {
		return WorkoutPlan{}, false
	}
	return clone(*s.plan), true
}

// LogWorkout inserts a workout and adds the confirmed row to the history.
func (s *FitnessService) LogWorkout(ctx context.Context, in WorkoutInput) (Workout, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Workout{}, err
	}
	if in.Kind == "" || in.DurationMin <= 0 {
		return Workout{}, fmt.Errorf("workout kind and a positive duration are required")
	}
	if err := s.d.Limits.WorkoutLog.Allow(userID); err != nil {
		return Workout{}, err
	}
	performedAt := in.PerformedAt
	if performedAt.IsZero() {
		performedAt = s.d.now()
	}

	w, err := insert(ctx, s.d, CollectionWorkouts, Workout{
		UserID:      userID,
		Kind:        in.Kind,
		DurationMin: in.DurationMin,
		Calories:    in.Calories,
		Notes:       in.Notes,
		PerformedAt: performedAt,
	})
	if err != nil {
		return Workout{}, err
	}

	s.mu.Lock()
	s.workouts = newestFirst(append(s.workouts, w), func(w Workout) time.Time { return w.PerformedAt }, workoutHistoryLimit)
	s.d.Cache.Set(s.workoutsKey(userID), s.workouts)
	s.mu.Unlock()
	return w, nil
}

// LogWeight inserts a weigh-in.
func (s *FitnessService) LogWeight(ctx context.Context, kg float64, at time.Time) (WeightEntry, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return WeightEntry{}, err
	}
	if kg <= 0 {
		return WeightEntry{}, fmt.Errorf("weight must be positive")
	}
	if at.IsZero() {
		at = s.d.now()
	}

	e, err := insert(ctx, s.d, CollectionWeightEntries, WeightEntry{UserID: userID, WeightKg: kg, LoggedAt: at})
	if err != nil {
		return WeightEntry{}, err
	}

	s.mu.Lock()
	s.weights = newestFirst(append(s.weights, e), func(e WeightEntry) time.Time { return e.LoggedAt }, weightHistoryLimit)
	s.d.Cache.Set(s.weightsKey(userID), s.weights)
	s.mu.Unlock()
	return e, nil
}

func newestFirst[T any](items []T, at func(T) time.Time, limit int) []T {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).After(at(items[j])) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// CompleteWorkoutDay marks one plan day completed. The day flips locally
// before the remote write and is restored if the write fails. A day that is
// already completed returns ErrAlreadyLogged without writing.
func (s *FitnessService) CompleteWorkoutDay(ctx context.Context, day int) (WorkoutPlan, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return WorkoutPlan{}, err
	}
	current, ok := s.WorkoutPlan()
	if !ok {
		return WorkoutPlan{}, ErrNotFound
	}

	unlock := s.plans.Lock(current.ID)
	defer unlock()
	current, ok = s.WorkoutPlan()
	if !ok {
		return WorkoutPlan{}, ErrNotFound
	}

	return applyOptimistic(ctx, current,
		func(p WorkoutPlan) { s.publishPlan(userID, p) },
		func(p *WorkoutPlan) error {
			for i := range p.Days {
				if p.Days[i].Day != day {
					continue
				}
				if p.Days[i].IsCompleted {
					return ErrAlreadyLogged
				}
				p.Days[i].IsCompleted = true
				return nil
			}
			return ErrNotFound
		},
		func(ctx context.Context, p WorkoutPlan) (WorkoutPlan, error) {
			return confirm[WorkoutPlan](ctx, s.d, remote.Mutation{
				Collection: CollectionWorkoutPlans,
				Op:         remote.OpUpdate,
				Payload:    remote.Row{"days": p.Days},
				Match:      []remote.Filter{remote.Where("id", p.ID)},
			})
		},
	)
}

func (s *FitnessService) publishPlan(userID string, p WorkoutPlan) {
	s.mu.Lock()
	s.plan = &p
	s.mu.Unlock()
	s.d.Cache.Set(s.planKey(userID), []WorkoutPlan{p})
}

// GenerateWorkoutPlan asks the AI for a new plan. Only users with no plan or a
// fully completed plan may regenerate; otherwise ErrPlanIncomplete.
// Concurrent requests for the same goal and length share one generation.
func (s *FitnessService) GenerateWorkoutPlan(ctx context.Context, goal string, days int) (WorkoutPlan, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return WorkoutPlan{}, err
	}
	if current, ok := s.WorkoutPlan(); ok && !current.Complete() {
		return WorkoutPlan{}, ErrPlanIncomplete
	}
	if days <= 0 {
		days = 30
	}
	key := fmt.Sprintf("workout_plan:%s:%s:%d", userID, goal, days)
	plan, err := dedupe.Do(ctx, s.d.Dedupe, key, func(ctx context.Context) (WorkoutPlan, error) {
		return s.generateWorkoutPlan(ctx, userID, key, goal, days)
	})
	return clone(plan), err
}

func (s *FitnessService) generateWorkoutPlan(ctx context.Context, userID, key, goal string, days int) (WorkoutPlan, error) {
	res, err := s.d.generate(ctx, "workout plan", key, s.d.Limits.AIText,
		ai.ActionWorkoutPlan, map[string]interface{}{"goal": goal, "days": days})
	if err != nil {
		return WorkoutPlan{}, err
	}
	generated, err := ai.Decode[struct {
		Days []WorkoutPlanDay `json:"days"`
	}](res)
	if err != nil || len(generated.Days) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: plan has no days", ai.ErrMalformedResponse)
		}
		return WorkoutPlan{}, &GenerationError{Kind: "workout plan", Err: err}
	}
	for i := range generated.Days {
		generated.Days[i].IsCompleted = false
		if generated.Days[i].Day == 0 {
			generated.Days[i].Day = i + 1
		}
	}

	plan, err := insert(ctx, s.d, CollectionWorkoutPlans, WorkoutPlan{
		UserID:    userID,
		Goal:      goal,
		Days:      generated.Days,
		CreatedAt: s.d.now(),
	})
	if err != nil {
		return WorkoutPlan{}, err
	}
	s.publishPlan(userID, plan)
	return plan, nil
}

func (s *FitnessService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts, s.weights, s.plan = nil, nil, nil
}
