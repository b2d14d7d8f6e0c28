package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/dedupe"
	"github.com/colthorp/healthsync-go/internal/remote"
)

// NutritionService owns today's meals and the active weekly meal plan.
type NutritionService struct {
	d     *Deps
	log   *logrus.Entry
	plans keyedMutex

	mu    sync.RWMutex
	date  string
	meals []Meal
	plan  *WeeklyMealPlan
}

// NewNutritionService creates the service.
func NewNutritionService(d *Deps) *NutritionService {
	return &NutritionService{d: d, log: d.component(core.DomainNutrition)}
}

func (s *NutritionService) mealsKey(userID, date string) string {
	return core.CacheKey(userID, core.DomainNutrition, "meals", date)
}

func (s *NutritionService) planKey(userID string) string {
	return core.CacheKey(userID, core.DomainNutrition, "meal_plan")
}

// Load fetches today's meals and the latest meal plan.
func (s *NutritionService) Load(ctx context.Context) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	today := s.d.today()

	meals, err := loadCached[Meal](ctx, s.d, s.mealsKey(userID, today), s.d.TTL.TodayMeals, remote.Query{
		Collection: CollectionMeals,
		Filters:    []remote.Filter{remote.Where("user_id", userID), remote.Where("log_date", today)},
		Order:      &remote.Order{Column: "logged_at"},
	})
	if err != nil {
		return err
	}
	plans, err := loadCached[WeeklyMealPlan](ctx, s.d, s.planKey(userID), s.d.TTL.Plans, remote.Query{
		Collection: CollectionMealPlans,
		Filters:    []remote.Filter{remote.Where("user_id", userID)},
		Order:      &remote.Order{Column: "created_at", Desc: true},
		Limit:      1,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.date = today
	s.meals = meals
	s.plan = nil
	if len(plans) > 0 {
		p := plans[0]
		s.plan = &p
	}
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"meals": len(meals), "plan": len(plans) > 0}).Debug("nutrition loaded")
	return nil
}

// Meals returns today's meals ordered by time.
func (s *NutritionService) Meals() []Meal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Meal(nil), s.meals...)
}

// MealPlan returns a copy of the active plan.
func (s *NutritionService) MealPlan() (WeeklyMealPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plan == nil {
		return WeeklyMealPlan{}, false
	}
	return clone(*s.plan), true
}

// DailyTotals sums today's meals.
func (s *NutritionService) DailyTotals() Totals {
	var t Totals
	for _, m := range s.Meals() {
		t.Meals++
		t.Calories += m.Calories
		t.ProteinG += m.ProteinG
		t.CarbsG += m.CarbsG
		t.FatG += m.FatG
	}
	return t
}

// LogMeal inserts a meal and, once confirmed, adds it to today's collection.
func (s *NutritionService) LogMeal(ctx context.Context, in MealInput) (Meal, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Meal{}, err
	}
	if in.Name == "" {
		return Meal{}, fmt.Errorf("meal name is required")
	}
	if err := s.d.Limits.MealLog.Allow(userID); err != nil {
		return Meal{}, err
	}

	loggedAt := in.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = s.d.now()
	}
	source := in.Source
	if source == "" {
		source = "manual"
	}
	meal, err := insert(ctx, s.d, CollectionMeals, Meal{
		UserID:   userID,
		Name:     in.Name,
		MealType: in.MealType,
		Calories: in.Calories,
		ProteinG: in.ProteinG,
		CarbsG:   in.CarbsG,
		FatG:     in.FatG,
		LogDate:  core.FormatDate(loggedAt),
		LoggedAt: loggedAt,
		Source:   source,
	})
	if err != nil {
		return Meal{}, err
	}

	s.mu.Lock()
	if meal.LogDate == s.date {
		s.meals = append(s.meals, meal)
		sort.SliceStable(s.meals, func(i, j int) bool { return s.meals[i].LoggedAt.Before(s.meals[j].LoggedAt) })
		s.d.Cache.Set(s.mealsKey(userID, s.date), s.meals)
	}
	s.mu.Unlock()
	s.log.WithField("id", meal.ID).Debug("meal logged")
	return meal, nil
}

// DeleteMeal removes a meal remotely, then locally. On remote failure the meal stays.
func (s *NutritionService) DeleteMeal(ctx context.Context, id string) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	s.mu.RLock()
	idx := indexMeal(s.meals, id)
	s.mu.RUnlock()
	if idx < 0 {
		return ErrNotFound
	}

	if err := deleteByID(ctx, s.d, CollectionMeals, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx = indexMeal(s.meals, id); idx >= 0 {
		s.meals = append(s.meals[:idx:idx], s.meals[idx+1:]...)
		s.d.Cache.Set(s.mealsKey(userID, s.date), s.meals)
	}
	return nil
}

func indexMeal(meals []Meal, id string) int {
	for i, m := range meals {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// LogMealSlot marks one slot of the active plan as logged. The slot flips
// locally before the remote write and is restored if the write fails. A slot
// that is already logged returns ErrAlreadyLogged without writing.
func (s *NutritionService) LogMealSlot(ctx context.Context, day int, kind string) (WeeklyMealPlan, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return WeeklyMealPlan{}, err
	}
	current, ok := s.MealPlan()
	if !ok {
		return WeeklyMealPlan{}, ErrNotFound
	}

	unlock := s.plans.Lock(current.ID)
	defer unlock()
	// Re-read under the plan lock so the guard sees the previous mutation
	current, ok = s.MealPlan()
	if !ok {
		return WeeklyMealPlan{}, ErrNotFound
	}

	return applyOptimistic(ctx, current,
		func(p WeeklyMealPlan) { s.publishPlan(userID, p) },
		func(p *WeeklyMealPlan) error {
			slot := findSlot(p, day, kind)
			if slot == nil {
				return ErrNotFound
			}
			if slot.Logged {
				return ErrAlreadyLogged
			}
			slot.Logged = true
			return nil
		},
		func(ctx context.Context, p WeeklyMealPlan) (WeeklyMealPlan, error) {
			return confirm[WeeklyMealPlan](ctx, s.d, remote.Mutation{
				Collection: CollectionMealPlans,
				Op:         remote.OpUpdate,
				Payload:    remote.Row{"days": p.Days},
				Match:      []remote.Filter{remote.Where("id", p.ID)},
			})
		},
	)
}

func findSlot(p *WeeklyMealPlan, day int, kind string) *MealSlot {
	for i := range p.Days {
		if p.Days[i].Day != day {
			continue
		}
		for j := range p.Days[i].Slots {
			if p.Days[i].Slots[j].Kind == kind {
				return &p.Days[i].Slots[j]
			}
		}
	}
	return nil
}

func (s *NutritionService) publishPlan(userID string, p WeeklyMealPlan) {
	s.mu.Lock()
	s.plan = &p
	s.mu.Unlock()
	s.d.Cache.Set(s.planKey(userID), []WeeklyMealPlan{p})
}

// GenerateMealPlan asks the AI for a weekly plan, stores it remotely and makes
// it the active plan. Concurrent requests for the same goal share one
// generation and one stored plan.
func (s *NutritionService) GenerateMealPlan(ctx context.Context, goal string) (WeeklyMealPlan, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return WeeklyMealPlan{}, err
	}
	key := "meal_plan:" + userID + ":" + goal
	plan, err := dedupe.Do(ctx, s.d.Dedupe, key, func(ctx context.Context) (WeeklyMealPlan, error) {
		return s.generateMealPlan(ctx, userID, key, goal)
	})
	return clone(plan), err
}

func (s *NutritionService) generateMealPlan(ctx context.Context, userID, key, goal string) (WeeklyMealPlan, error) {
	res, err := s.d.generate(ctx, "meal plan", key, s.d.Limits.AIText,
		ai.ActionMealPlan, map[string]interface{}{"goal": goal, "days": 7, "slots": []string{SlotBreakfast, SlotLunch, SlotDinner, SlotSnack}})
	if err != nil {
		return WeeklyMealPlan{}, err
	}

	generated, err := ai.Decode[struct {
		Days []MealPlanDay `json:"days"`
	}](res)
	if err != nil || len(generated.Days) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: plan has no days", ai.ErrMalformedResponse)
		}
		return WeeklyMealPlan{}, &GenerationError{Kind: "meal plan", Err: err}
	}
	days := normalizeMealDays(generated.Days)

	plan, err := insert(ctx, s.d, CollectionMealPlans, WeeklyMealPlan{
		UserID:    userID,
		Goal:      goal,
		Days:      days,
		CreatedAt: s.d.now(),
	})
	if err != nil {
		return WeeklyMealPlan{}, err
	}
	s.publishPlan(userID, plan)
	return plan, nil
}

// normalizeMealDays clears logged flags and keeps at most four slots per day.
func normalizeMealDays(days []MealPlanDay) []MealPlanDay {
	out := make([]MealPlanDay, 0, len(days))
	for i, d := range days {
		if d.Day == 0 {
			d.Day = i + 1
		}
		if len(d.Slots) > 4 {
			d.Slots = d.Slots[:4]
		}
		for j := range d.Slots {
			d.Slots[j].Logged = false
		}
		out = append(out, d)
	}
	return out
}

// AnalyzeMealPhoto estimates a meal from a base64 image. Identical images in
// flight at the same time share one vision call. The estimate is not logged.
func (s *NutritionService) AnalyzeMealPhoto(ctx context.Context, imageBase64 string) (MealEstimate, error) {
	if _, err := s.d.Session.UserID(); err != nil {
		return MealEstimate{}, err
	}
	sum := sha256.Sum256([]byte(imageBase64))
	res, err := s.d.generate(ctx, "meal estimate", "meal_photo:"+hex.EncodeToString(sum[:]), s.d.Limits.AIVision,
		ai.ActionMealPhoto, map[string]interface{}{ai.ImageField: imageBase64})
	if err != nil {
		return MealEstimate{}, err
	}
	est, err := ai.Decode[MealEstimate](res)
	if err != nil || est.Name == "" {
		if err == nil {
			err = fmt.Errorf("%w: no meal name", ai.ErrMalformedResponse)
		}
		return MealEstimate{}, &GenerationError{Kind: "meal estimate", Err: err}
	}
	return est, nil
}

func (s *NutritionService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date, s.meals, s.plan = "", nil, nil
}
