// Package ratelimit provides fixed-window request limiters keyed by
// (class, identifier).
//
// Windows are persisted in a storage.KV under "ratelimit:{class}:{id}" so they
// survive cache eviction and process restarts. The limiter fails open: if the
// store cannot be read or written the request is allowed.
package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/storage"
)

const keyPrefix = "ratelimit:"

var deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "healthsync_ratelimit_denied_total",
	Help: "Number of requests denied by a rate limiter",
}, []string{"class"})

// window is the persisted counter for one (class, identifier).
type window struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"reset_at"` // epoch ms
}

// Result describes a limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is one fixed-window class.
type Limiter struct {
	class  string
	max    int
	window time.Duration
	kv     storage.KV
	now    func() time.Time
	log    *logrus.Entry

	mu sync.Mutex
}

// Options configures a Limiter.
type Options struct {
	MaxRequests int
	Window      time.Duration
	Now         func() time.Time
	Logger      *logrus.Entry
}

// New creates a limiter for class over kv.
func New(class string, kv storage.KV, opts Options) *Limiter {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 1
	}
	if opts.Window <= 0 {
		opts.Window = core.DefaultLimitWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = core.DiscardLogger()
	}
	return &Limiter{
		class:  class,
		max:    opts.MaxRequests,
		window: opts.Window,
		kv:     kv,
		now:    opts.Now,
		log:    opts.Logger.WithField("class", class),
	}
}

// Class returns the limiter class name.
func (l *Limiter) Class() string { return l.class }

// Check records one request for id and reports whether it is allowed.
// A denied request does not consume the window.
func (l *Limiter) Check(id string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.load(id)
	if !ok || now.UnixMilli() > w.ResetAt {
		w = window{Count: 1, ResetAt: now.Add(l.window).UnixMilli()}
		l.store(id, w)
		return l.result(true, w)
	}

	if w.Count < l.max {
		w.Count++
		l.store(id, w)
		return l.result(true, w)
	}

	deniedTotal.WithLabelValues(l.class).Inc()
	l.log.WithField("id", id).Debug("rate limit exceeded")
	return l.result(false, w)
}

// Status reports the current window for id without recording a request.
func (l *Limiter) Status(id string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.load(id)
	if !ok || now.UnixMilli() > w.ResetAt {
		return Result{Allowed: true, Remaining: l.max, ResetAt: now.Add(l.window)}
	}
	return l.result(w.Count < l.max, w)
}

// Allow is Check returning a *LimitError on denial.
func (l *Limiter) Allow(id string) error {
	res := l.Check(id)
	if res.Allowed {
		return nil
	}
	return &LimitError{Class: l.class, ResetAt: res.ResetAt, Now: l.now()}
}

func (l *Limiter) result(allowed bool, w window) Result {
	remaining := l.max - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: time.UnixMilli(w.ResetAt)}
}

func (l *Limiter) key(id string) string {
	return keyPrefix + l.class + ":" + id
}

// load returns the stored window. Missing, unreadable and corrupt windows
// all read as absent.
func (l *Limiter) load(id string) (window, bool) {
	data, err := l.kv.Get(l.key(id))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.WithError(err).WithField("id", id).Warn("rate window read failed; allowing")
		}
		return window{}, false
	}
	var w window
	if err := json.Unmarshal(data, &w); err != nil {
		l.log.WithField("id", id).Warn("corrupt rate window discarded")
		return window{}, false
	}
	return w, true
}

func (l *Limiter) store(id string, w window) {
	data, _ := json.Marshal(w)
	if err := l.kv.Set(l.key(id), data); err != nil {
		l.log.WithError(err).WithField("id", id).Warn("rate window write failed; allowing")
	}
}

// LimitError is returned when a limiter denies a request.
type LimitError struct {
	Class   string
	ResetAt time.Time
	Now     time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit reached for %s: %s", e.Class, e.RetryMessage())
}

// RetryMessage is a human-readable wait estimate derived from the reset time.
func (e *LimitError) RetryMessage() string {
	wait := e.ResetAt.Sub(e.Now)
	if wait < time.Second {
		wait = time.Second
	}
	if wait < time.Minute {
		n := int(math.Ceil(wait.Seconds()))
		return fmt.Sprintf("try again in %d %s", n, plural(n, "second"))
	}
	n := int(math.Ceil(wait.Minutes()))
	return fmt.Sprintf("try again in %d %s", n, plural(n, "minute"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
