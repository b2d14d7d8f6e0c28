// Package cycle maps a cycle anchor date and cycle length to the phase of any
// calendar day.
//
// All arithmetic is on calendar dates: each time.Time is reduced to its own
// year, month and day before differencing, so the result does not depend on
// the zone or on DST transitions between the two dates.
package cycle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/colthorp/healthsync-go/internal/core"
)

// Phase is one of the four cycle phases.
type Phase int

const (
	Menstrual Phase = iota
	Follicular
	Ovulatory
	Luteal
)

// Phase band boundaries, as the first day of each phase. They are fixed and
// are not rescaled for short or long cycles.
const (
	follicularStart = 6
	ovulatoryStart  = 14
	lutealStart     = 17
	periodDays      = 5
)

func (p Phase) String() string {
	switch p {
	case Menstrual:
		return "menstrual"
	case Follicular:
		return "follicular"
	case Ovulatory:
		return "ovulatory"
	case Luteal:
		return "luteal"
	}
	return "unknown"
}

// MarshalJSON encodes the phase by name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a phase name written by MarshalJSON.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParsePhase(name)
	if !ok {
		return fmt.Errorf("unknown cycle phase %q", name)
	}
	*p = parsed
	return nil
}

// ParsePhase returns the phase with the given name.
func ParsePhase(name string) (Phase, bool) {
	for _, p := range []Phase{Menstrual, Follicular, Ovulatory, Luteal} {
		if p.String() == strings.ToLower(name) {
			return p, true
		}
	}
	return 0, false
}

// Result is the computed position of a day within the cycle.
type Result struct {
	Phase             Phase `json:"phase"`
	DayOfCycle        int   `json:"day_of_cycle"`
	IsPredictedPeriod bool  `json:"is_predicted_period"`
}

// Calculate returns the phase of query for a cycle anchored at anchor.
// query may be before or after anchor; days wrap modulo length. A length
// below 1 falls back to core.DefaultCycleLength.
func Calculate(anchor time.Time, length int, query time.Time) Result {
	if length < 1 {
		length = core.DefaultCycleLength
	}
	delta := daysBetween(anchor, query)
	day := ((delta%length)+length)%length + 1
	return Result{
		Phase:             phaseForDay(day),
		DayOfCycle:        day,
		IsPredictedPeriod: day <= periodDays,
	}
}

// Today returns the phase of now's calendar day. It reports false when now is
// before anchor, meaning the recorded cycle has not started yet.
func Today(anchor time.Time, length int, now time.Time) (Result, bool) {
	if daysBetween(anchor, now) < 0 {
		return Result{}, false
	}
	return Calculate(anchor, length, now), true
}

// daysBetween counts whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	da := core.DateOnly(a)
	db := core.DateOnly(b)
	return int(db.Sub(da).Hours()) / 24
}

func phaseForDay(day int) Phase {
	switch {
	case day < follicularStart:
		return Menstrual
	case day < ovulatoryStart:
		return Follicular
	case day < lutealStart:
		return Ovulatory
	default:
		return Luteal
	}
}
