package domain

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/remote"
)

// ProfileService owns the signed-in user's profile.
type ProfileService struct {
	d   *Deps
	log *logrus.Entry

	mu      sync.RWMutex
	profile Profile
	loaded  bool
}

// NewProfileService creates the service.
func NewProfileService(d *Deps) *ProfileService {
	return &ProfileService{d: d, log: d.component(core.DomainProfile)}
}

func (s *ProfileService) key(userID string) string {
	return core.CacheKey(userID, core.DomainProfile, "profile")
}

// Load fetches the profile. A user with no profile row gets defaults, which
// are not written until the first update.
func (s *ProfileService) Load(ctx context.Context) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	rows, err := loadCached[Profile](ctx, s.d, s.key(userID), s.d.TTL.Profile, remote.Query{
		Collection: CollectionProfiles,
		Filters:    []remote.Filter{remote.Where("id", userID)},
		Limit:      1,
	})
	if err != nil {
		return err
	}

	p := Profile{ID: userID, CycleLength: core.DefaultCycleLength}
	if len(rows) > 0 {
		p = rows[0]
		if p.CycleLength <= 0 {
			p.CycleLength = core.DefaultCycleLength
		}
	}

	s.mu.Lock()
	s.profile = p
	s.loaded = true
	s.mu.Unlock()
	s.log.WithField("user", userID).Debug("profile loaded")
	return nil
}

// Profile returns the loaded profile.
func (s *ProfileService) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, s.loaded
}

// Anchor returns the cycle anchor date and length, or false if no anchor is recorded.
func (s *ProfileService) Anchor() (time.Time, int, bool) {
	p, ok := s.Profile()
	if !ok || p.CycleAnchor == "" {
		return time.Time{}, 0, false
	}
	anchor, err := core.ParseDate(p.CycleAnchor)
	if err != nil {
		s.log.WithError(err).Warn("stored cycle anchor unreadable")
		return time.Time{}, 0, false
	}
	return anchor, p.CycleLength, true
}

// ProfileUpdate lists the editable profile fields. Nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string
	CycleAnchor *string
	CycleLength *int
	Goal        *string
	CalorieGoal *int
}

// Update upserts the profile and publishes the confirmed row.
func (s *ProfileService) Update(ctx context.Context, u ProfileUpdate) (Profile, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Profile{}, err
	}

	payload := remote.Row{"id": userID}
	if u.DisplayName != nil {
		payload["display_name"] = *u.DisplayName
	}
	if u.CycleAnchor != nil {
		if _, err := core.ParseDate(*u.CycleAnchor); err != nil {
			return Profile{}, err
		}
		payload["cycle_anchor"] = *u.CycleAnchor
	}
	if u.CycleLength != nil {
		payload["cycle_length"] = *u.CycleLength
	}
	if u.Goal != nil {
		payload["goal"] = *u.Goal
	}
	if u.CalorieGoal != nil {
		payload["calorie_goal"] = *u.CalorieGoal
	}

	p, err := confirm[Profile](ctx, s.d, remote.Mutation{
		Collection: CollectionProfiles,
		Op:         remote.OpUpsert,
		Payload:    payload,
	})
	if err != nil {
		return Profile{}, err
	}
	if p.CycleLength <= 0 {
		p.CycleLength = core.DefaultCycleLength
	}

	s.mu.Lock()
	s.profile = p
	s.loaded = true
	s.mu.Unlock()
	s.d.Cache.Set(s.key(userID), []Profile{p})
	return p, nil
}

// UpdateCycleAnchor records a new last-period start date.
func (s *ProfileService) UpdateCycleAnchor(ctx context.Context, date string) (Profile, error) {
	return s.Update(ctx, ProfileUpdate{CycleAnchor: &date})
}

func (s *ProfileService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = Profile{}
	s.loaded = false
}
