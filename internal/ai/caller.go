// Package ai is the single entry point to the external text and vision model.
//
// Domain services name an action and pass a payload; the Caller turns the
// model's reply into a decoded JSON object. Deduplication, rate limiting and
// caching happen above this package.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when the model reply is not a JSON object.
var ErrMalformedResponse = errors.New("ai: malformed response")

// Actions understood by the callers.
const (
	ActionCycleInsight       = "cycle_insight"
	ActionSymptomSuggestions = "symptom_suggestions"
	ActionPatternInsight     = "pattern_insight"
	ActionWorkoutPlan        = "workout_plan"
	ActionMealPlan           = "meal_plan"
	ActionMealPhoto          = "meal_photo"
)

// ImageField is the payload key carrying a base64 image for vision actions.
const ImageField = "image_base64"

// Result is a decoded model reply.
type Result map[string]interface{}

// Caller performs one remote AI call.
type Caller interface {
	Call(ctx context.Context, action string, payload map[string]interface{}) (Result, error)
}

// Unavailable returns a Caller whose every call fails with err. It stands in
// when no model is configured.
func Unavailable(err error) Caller {
	return unavailable{err: err}
}

type unavailable struct {
	err error
}

func (u unavailable) Call(ctx context.Context, action string, payload map[string]interface{}) (Result, error) {
	return nil, fmt.Errorf("ai unavailable: %w", u.err)
}

// Decode converts a Result into T through its JSON form.
func Decode[T any](r Result) (T, error) {
	var out T
	data, err := json.Marshal(r)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// parseResult decodes raw model text into a Result.
func parseResult(text string) (Result, error) {
	var out Result
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: empty object", ErrMalformedResponse)
	}
	return out, nil
}
