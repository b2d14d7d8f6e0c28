package domain

import (
	"errors"
	"fmt"

	"github.com/colthorp/healthsync-go/internal/ratelimit"
)

var (
	// ErrNoSession is returned by every operation invoked before SignIn.
	ErrNoSession = errors.New("no active session")

	// ErrAlreadyLogged is returned when a plan slot, plan day or challenge is
	// already in its final state. Nothing is written.
	ErrAlreadyLogged = errors.New("already logged")

	// ErrPlanIncomplete is returned when regenerating a workout plan while the
	// current one still has incomplete days.
	ErrPlanIncomplete = errors.New("current plan still has incomplete days")

	// ErrNotFound is returned when the addressed entity is not loaded.
	ErrNotFound = errors.New("not found")
)

// GenerationError wraps any failure of an AI-backed generation.
// Its message is suitable for showing to the user as is.
type GenerationError struct {
	Kind string
	Err  error
}

func (e *GenerationError) Error() string {
	var limitErr *ratelimit.LimitError
	if errors.As(e.Err, &limitErr) {
		return fmt.Sprintf("could not generate %s right now, %s", e.Kind, limitErr.RetryMessage())
	}
	return fmt.Sprintf("could not generate %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
