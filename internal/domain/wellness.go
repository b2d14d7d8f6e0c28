package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/cycle"
	"github.com/colthorp/healthsync-go/internal/remote"
)

const recentLogDays = 30

// WellnessService owns daily check-ins and the cycle-derived views.
type WellnessService struct {
	d       *Deps
	profile *ProfileService
	log     *logrus.Entry

	mu   sync.RWMutex
	logs []DailyLog // newest first
}

// NewWellnessService creates the service. It reads and updates the cycle
// anchor through profile.
func NewWellnessService(d *Deps, profile *ProfileService) *WellnessService {
	return &WellnessService{d: d, profile: profile, log: d.component(core.DomainWellness)}
}

func (s *WellnessService) logsKey(userID string) string {
	return core.CacheKey(userID, core.DomainWellness, "daily_logs")
}

func (s *WellnessService) insightKey(userID string, phase cycle.Phase) string {
	return core.CacheKey(userID, core.DomainWellness, "insight", phase.String())
}

func (s *WellnessService) symptomsKey(userID string, phase cycle.Phase) string {
	return core.CacheKey(userID, core.DomainWellness, "symptoms", phase.String())
}

// Load fetches the last thirty days of check-ins.
func (s *WellnessService) Load(ctx context.Context) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	since := core.FormatDate(s.d.now().AddDate(0, 0, -recentLogDays))
	logs, err := loadCached[DailyLog](ctx, s.d, s.logsKey(userID), s.d.TTL.History, remote.Query{
		Collection: CollectionDailyLogs,
		Filters: []remote.Filter{
			remote.Where("user_id", userID),
			{Column: "log_date", Op: remote.Gte, Value: since},
		},
		Order: &remote.Order{Column: "log_date", Desc: true},
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.logs = logs
	s.mu.Unlock()
	s.log.WithField("logs", len(logs)).Debug("wellness loaded")
	return nil
}

// Logs returns recent check-ins, newest first.
func (s *WellnessService) Logs() []DailyLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DailyLog(nil), s.logs...)
}

// TodayLog returns today's check-in, if any.
func (s *WellnessService) TodayLog() (DailyLog, bool) {
	today := s.d.today()
	for _, l := range s.Logs() {
		if l.LogDate == today {
			return l, true
		}
	}
	return DailyLog{}, false
}

// Phase returns today's cycle phase. It reports false when no anchor is
// recorded or the anchor is in the future.
func (s *WellnessService) Phase() (cycle.Result, bool) {
	anchor, length, ok := s.profile.Anchor()
	if !ok {
		return cycle.Result{}, false
	}
	return cycle.Today(anchor, length, s.d.now())
}

// PhaseOn returns the predicted phase of any date, including ones before the anchor.
func (s *WellnessService) PhaseOn(date time.Time) (cycle.Result, bool) {
	anchor, length, ok := s.profile.Anchor()
	if !ok {
		return cycle.Result{}, false
	}
	return cycle.Calculate(anchor, length, date), true
}

// CheckIn upserts the check-in for a date.
//
// A check-in with HadPeriod set on a date after the recorded cycle anchor
// moves the anchor to that date and drops cached cycle insights. If the
// anchor update fails, the confirmed check-in is still returned along with
// the error.
func (s *WellnessService) CheckIn(ctx context.Context, in CheckInInput) (DailyLog, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return DailyLog{}, err
	}
	date := in.Date
	if date == "" {
		date = s.d.today()
	}
	if _, err := core.ParseDate(date); err != nil {
		return DailyLog{}, err
	}

	row, err := remote.EncodeRow(DailyLog{
		UserID:    userID,
		LogDate:   date,
		Mood:      in.Mood,
		Energy:    in.Energy,
		Symptoms:  in.Symptoms,
		HadPeriod: in.HadPeriod,
		Notes:     in.Notes,
	})
	if err != nil {
		return DailyLog{}, err
	}
	entry, err := confirm[DailyLog](ctx, s.d, remote.Mutation{
		Collection:  CollectionDailyLogs,
		Op:          remote.OpUpsert,
		Payload:     row,
		ConflictKey: "user_id,log_date",
	})
	if err != nil {
		return DailyLog{}, err
	}

	s.mu.Lock()
	replaced := false
	for i := range s.logs {
		if s.logs[i].LogDate == entry.LogDate {
			s.logs[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.logs = append(s.logs, entry)
	}
	sort.SliceStable(s.logs, func(i, j int) bool { return s.logs[i].LogDate > s.logs[j].LogDate })
	s.d.Cache.Set(s.logsKey(userID), s.logs)
	s.mu.Unlock()

	if entry.HadPeriod && s.anchorBefore(entry.LogDate) {
		if _, err := s.profile.UpdateCycleAnchor(ctx, entry.LogDate); err != nil {
			return entry, fmt.Errorf("update cycle anchor: %w", err)
		}
		s.d.Cache.InvalidatePattern(core.CacheKey(userID, core.DomainWellness, "insight"))
		s.log.WithField("anchor", entry.LogDate).Debug("cycle anchor moved")
	}
	return entry, nil
}

// anchorBefore reports whether date is after the recorded anchor, or no anchor exists.
func (s *WellnessService) anchorBefore(date string) bool {
	p, ok := s.profile.Profile()
	if !ok || p.CycleAnchor == "" {
		return true
	}
	return date > p.CycleAnchor
}

// CycleInsight returns the AI insight for today's phase, cached per phase.
func (s *WellnessService) CycleInsight(ctx context.Context) (Insight, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Insight{}, err
	}
	phase, ok := s.Phase()
	if !ok {
		return Insight{}, &GenerationError{Kind: "cycle insight", Err: fmt.Errorf("no cycle anchor recorded")}
	}

	return cache.GetOrSet(ctx, s.d.Cache, s.insightKey(userID, phase.Phase), s.d.TTL.CycleInsight, func(ctx context.Context) (Insight, error) {
		res, err := s.d.generate(ctx, "cycle insight", "cycle_insight:"+userID+":"+phase.Phase.String(), s.d.Limits.AIText,
			ai.ActionCycleInsight, map[string]interface{}{
				"phase":        phase.Phase.String(),
				"day_of_cycle": phase.DayOfCycle,
				"recent_logs":  s.recentSymptoms(7),
			})
		if err != nil {
			return Insight{}, err
		}
		return s.d.insight("cycle insight", res, "insight")
	})
}

// SymptomSuggestions returns AI suggestions for managing symptoms in phase,
// cached per phase.
func (s *WellnessService) SymptomSuggestions(ctx context.Context, phase cycle.Phase) ([]string, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return nil, err
	}
	return cache.GetOrSet(ctx, s.d.Cache, s.symptomsKey(userID, phase), s.d.TTL.SymptomSuggestions, func(ctx context.Context) ([]string, error) {
		res, err := s.d.generate(ctx, "symptom suggestions", "symptoms:"+userID+":"+phase.String(), s.d.Limits.AIText,
			ai.ActionSymptomSuggestions, map[string]interface{}{"phase": phase.String()})
		if err != nil {
			return nil, err
		}
		out, err := ai.Decode[struct {
			Suggestions []string `json:"suggestions"`
		}](res)
		if err != nil || len(out.Suggestions) == 0 {
			if err == nil {
				err = fmt.Errorf("%w: no suggestions", ai.ErrMalformedResponse)
			}
			return nil, &GenerationError{Kind: "symptom suggestions", Err: err}
		}
		return out.Suggestions, nil
	})
}

func (s *WellnessService) recentSymptoms(n int) []map[string]interface{} {
	logs := s.Logs()
	if len(logs) > n {
		logs = logs[:n]
	}
	out := make([]map[string]interface{}, 0, len(logs))
	for _, l := range logs {
		out = append(out, map[string]interface{}{"date": l.LogDate, "mood": l.Mood, "energy": l.Energy, "symptoms": l.Symptoms})
	}
	return out
}

func (s *WellnessService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
}
