package domain

import "time"

// Remote collection names
const (
	CollectionProfiles       = "profiles"
	CollectionMeals          = "meals"
	CollectionMealPlans      = "meal_plans"
	CollectionWorkouts       = "workouts"
	CollectionWeightEntries  = "weight_entries"
	CollectionWorkoutPlans   = "workout_plans"
	CollectionDailyLogs      = "daily_logs"
	CollectionJournalEntries = "journal_entries"
	CollectionChallenges     = "challenges"
	CollectionParticipants   = "challenge_participants"
	CollectionAchievements   = "achievements"
)

// Meal slot kinds, in display order.
const (
	SlotBreakfast = "breakfast"
	SlotLunch     = "lunch"
	SlotDinner    = "dinner"
	SlotSnack     = "snack"
)

// Entities carry a server-assigned ID. An entity with an empty ID has not
// been confirmed by the remote and is never kept in a collection.

// Profile is the signed-in user's profile.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CycleAnchor string `json:"cycle_anchor,omitempty"` // YYYY-MM-DD of the last period start
	CycleLength int    `json:"cycle_length,omitempty"`
	Goal        string `json:"goal,omitempty"`
	CalorieGoal int    `json:"calorie_goal,omitempty"`
}

// Meal is one logged meal.
type Meal struct {
	ID       string    `json:"id,omitempty"`
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	MealType string    `json:"meal_type,omitempty"`
	Calories float64   `json:"calories"`
	ProteinG float64   `json:"protein_g"`
	CarbsG   float64   `json:"carbs_g"`
	FatG     float64   `json:"fat_g"`
	LogDate  string    `json:"log_date"`
	LoggedAt time.Time `json:"logged_at"`
	Source   string    `json:"source,omitempty"` // manual, photo, plan
}

// MealInput is the user-provided part of a Meal.
type MealInput struct {
	Name     string    `json:"name"`
	MealType string    `json:"meal_type,omitempty"`
	Calories float64   `json:"calories"`
	ProteinG float64   `json:"protein_g"`
	CarbsG   float64   `json:"carbs_g"`
	FatG     float64   `json:"fat_g"`
	LoggedAt time.Time `json:"logged_at,omitempty"`
	Source   string    `json:"source,omitempty"`
}

// Totals sums a set of meals.
type Totals struct {
	Meals    int     `json:"meals"`
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// MealSlot is one loggable meal within a weekly plan.
type MealSlot struct {
	Kind     string  `json:"kind"`
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Logged   bool    `json:"logged"`
}

// MealPlanDay holds up to four slots.
type MealPlanDay struct {
	Day   int        `json:"day"`
	Slots []MealSlot `json:"slots"`
}

// WeeklyMealPlan is a generated seven-day meal plan.
type WeeklyMealPlan struct {
	ID        string        `json:"id,omitempty"`
	UserID    string        `json:"user_id"`
	Goal      string        `json:"goal"`
	Days      []MealPlanDay `json:"days"`
	CreatedAt time.Time     `json:"created_at"`
}

// Workout is one logged session.
type Workout struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	DurationMin int       `json:"duration_min"`
	Calories    float64   `json:"calories,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

// WorkoutInput is the user-provided part of a Workout.
type WorkoutInput struct {
	Kind        string    `json:"kind"`
	DurationMin int       `json:"duration_min"`
	Calories    float64   `json:"calories,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	PerformedAt time.Time `json:"performed_at,omitempty"`
}

// WeightEntry is one weigh-in.
type WeightEntry struct {
	ID       string    `json:"id,omitempty"`
	UserID   string    `json:"user_id"`
	WeightKg float64   `json:"weight_kg"`
	LoggedAt time.Time `json:"logged_at"`
}

// WorkoutPlanDay is one day of a workout plan.
type WorkoutPlanDay struct {
	Day         int      `json:"day"`
	Title       string   `json:"title"`
	Exercises   []string `json:"exercises,omitempty"`
	IsCompleted bool     `json:"is_completed"`
}

// WorkoutPlan is a generated multi-day workout plan.
type WorkoutPlan struct {
	ID        string           `json:"id,omitempty"`
	UserID    string           `json:"user_id"`
	Goal      string           `json:"goal"`
	Days      []WorkoutPlanDay `json:"days"`
	CreatedAt time.Time        `json:"created_at"`
}

// Complete reports whether every day is completed.
func (p WorkoutPlan) Complete() bool {
	for _, d := range p.Days {
		if !d.IsCompleted {
			return false
		}
	}
	return true
}

// DailyLog is one day's wellness check-in.
type DailyLog struct {
	ID        string   `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	LogDate   string   `json:"log_date"`
	Mood      int      `json:"mood,omitempty"`
	Energy    int      `json:"energy,omitempty"`
	Symptoms  []string `json:"symptoms,omitempty"`
	HadPeriod bool     `json:"had_period"`
	Notes     string   `json:"notes,omitempty"`
}

// CheckInInput is the user-provided part of a DailyLog. An empty Date means today.
type CheckInInput struct {
	Date      string   `json:"date,omitempty"`
	Mood      int      `json:"mood,omitempty"`
	Energy    int      `json:"energy,omitempty"`
	Symptoms  []string `json:"symptoms,omitempty"`
	HadPeriod bool     `json:"had_period"`
	Notes     string   `json:"notes,omitempty"`
}

// JournalEntry is one journal note.
type JournalEntry struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Mood      int       `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Challenge is a community challenge.
type Challenge struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Unit   string  `json:"unit,omitempty"`
	Target float64 `json:"target"`
}

// Participation is the user's progress in a challenge.
type Participation struct {
	ID          string  `json:"id,omitempty"`
	UserID      string  `json:"user_id"`
	ChallengeID string  `json:"challenge_id"`
	Progress    float64 `json:"progress"`
	Completed   bool    `json:"completed"`
}

// Achievement is an earned badge.
type Achievement struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	EarnedAt    time.Time `json:"earned_at"`
}

// Insight is AI-generated text shown to the user.
type Insight struct {
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
}

// MealEstimate is the AI reading of a meal photo. It is not persisted.
type MealEstimate struct {
	Name       string  `json:"name"`
	Calories   float64 `json:"calories"`
	ProteinG   float64 `json:"protein_g"`
	CarbsG     float64 `json:"carbs_g"`
	FatG       float64 `json:"fat_g"`
	Confidence string  `json:"confidence,omitempty"`
}
