package core

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a text logger on stderr. Verbose enables debug output;
// otherwise only warnings and errors are written.
func NewLogger(verbose bool) *logrus.Logger {
	return newLogger(os.Stderr, verbose)
}

func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: !verbose, FullTimestamp: verbose})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// DiscardLogger returns a logger that drops everything. Used by tests.
func DiscardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Component scopes a logger to a named component.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		return DiscardLogger().WithField("component", name)
	}
	return logger.WithField("component", name)
}

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to the local zone if the name is empty or unknown.
func GetTZ(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Timezone '%s' not found; falling back to local time.\n", name)
		return time.Local
	}
	return loc
}

// scopeEscaper keeps '_' out of the user segment so one user's prefix never
// matches another user's keys.
var scopeEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// CacheKey builds the composite key {userScope}_{domain}_{resource}[_{part}...].
// Underscores in userScope are escaped.
func CacheKey(userScope, domain, resource string, parts ...string) string {
	segments := make([]string, 0, 3+len(parts))
	segments = append(segments, scopeEscaper.Replace(userScope), domain, resource)
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, "_")
}

// ScopePrefix returns the key prefix covering every cache entry of a user.
func ScopePrefix(userScope string) string {
	return scopeEscaper.Replace(userScope) + "_"
}

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(APIDateFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

var (
	mdRegex  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relRegex = regexp.MustCompile(`^([dwmy])-(\d+)$`)
)

// ParseDateSpec returns a concrete date for flexible spec strings.
// Supports:
// 1. today, yesterday, tomorrow
// 2. Exact YYYY-MM-DD
// 3. M/D or MM/DD (most recent past occurrence)
// 4. Relative forms like d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
func ParseDateSpec(spec string, now time.Time) (time.Time, error) {
	today := DateOnly(now)

	switch strings.ToLower(spec) {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	if t, err := time.Parse(APIDateFmt, spec); err == nil {
		return t, nil
	}

	if matches := mdRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := time.Date(today.Year(), time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if target.After(today) {
			target = time.Date(today.Year()-1, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		}
		return target, nil
	}

	if matches := relRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		unit := matches[1]
		num, _ := strconv.Atoi(matches[2])

		switch unit {
		case "d":
			return today.AddDate(0, 0, -num), nil
		case "w":
			return today.AddDate(0, 0, -num*7), nil
		case "m":
			return today.AddDate(0, -num, 0), nil
		case "y":
			return today.AddDate(-num, 0, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
}

// DateOnly returns the calendar date of t (in t's own location) at midnight UTC.
// Comparing two DateOnly values never drifts across DST transitions.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(APIDateFmt)
}

// FormatDatetime formats a time.Time as YYYY-MM-DD HH:MM:SS.
func FormatDatetime(t time.Time) string {
	return t.Format(APIDatetimeFmt)
}
