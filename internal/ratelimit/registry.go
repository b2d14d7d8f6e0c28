package ratelimit

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/storage"
)

// Limiter classes
const (
	ClassAIText     = "ai_text"
	ClassAIVision   = "ai_vision"
	ClassMealLog    = "meal_log"
	ClassWorkoutLog = "workout_log"
)

// Registry holds one limiter per expensive-operation class.
type Registry struct {
	AIText     *Limiter
	AIVision   *Limiter
	MealLog    *Limiter
	WorkoutLog *Limiter
}

// NewRegistry builds every class from cfg over a shared kv.
func NewRegistry(kv storage.KV, cfg core.LimitsConfig, now func() time.Time, logger *logrus.Entry) *Registry {
	build := func(class string, lc core.LimitConfig) *Limiter {
		return New(class, kv, Options{
			MaxRequests: lc.MaxRequests,
			Window:      lc.Window,
			Now:         now,
			Logger:      logger,
		})
	}
	return &Registry{
		AIText:     build(ClassAIText, cfg.AIText),
		AIVision:   build(ClassAIVision, cfg.AIVision),
		MealLog:    build(ClassMealLog, cfg.MealLog),
		WorkoutLog: build(ClassWorkoutLog, cfg.WorkoutLog),
	}
}

// All returns the limiters in a stable order.
func (r *Registry) All() []*Limiter {
	return []*Limiter{r.AIText, r.AIVision, r.MealLog, r.WorkoutLog}
}
