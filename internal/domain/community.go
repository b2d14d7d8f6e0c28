package domain

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/remote"
)

// AchievementChallengeComplete is the achievement kind earned by finishing a challenge.
const AchievementChallengeComplete = "challenge_complete"

// CommunityService owns challenges, the user's participations and achievements.
type CommunityService struct {
	d     *Deps
	log   *logrus.Entry
	parts keyedMutex

	mu             sync.RWMutex
	challenges     []Challenge
	participations []Participation
	achievements   []Achievement // newest first
}

// NewCommunityService creates the service.
func NewCommunityService(d *Deps) *CommunityService {
	return &CommunityService{d: d, log: d.component(core.DomainCommunity)}
}

func (s *CommunityService) key(userID, resource string) string {
	return core.CacheKey(userID, core.DomainCommunity, resource)
}

// Load fetches challenges, participations and achievements.
func (s *CommunityService) Load(ctx context.Context) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	byUser := []remote.Filter{remote.Where("user_id", userID)}

	challenges, err := loadCached[Challenge](ctx, s.d, s.key(userID, "challenges"), s.d.TTL.Community, remote.Query{
		Collection: CollectionChallenges,
		Order:      &remote.Order{Column: "title"},
	})
	if err != nil {
		return err
	}
	parts, err := loadCached[Participation](ctx, s.d, s.key(userID, "participations"), s.d.TTL.Community, remote.Query{
		Collection: CollectionParticipants,
		Filters:    byUser,
	})
	if err != nil {
		return err
	}
	achievements, err := loadCached[Achievement](ctx, s.d, s.key(userID, "achievements"), s.d.TTL.Community, remote.Query{
		Collection: CollectionAchievements,
		Filters:    byUser,
		Order:      &remote.Order{Column: "earned_at", Desc: true},
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.challenges = challenges
	s.participations = parts
	s.achievements = achievements
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"challenges": len(challenges), "joined": len(parts)}).Debug("community loaded")
	return nil
}

// Challenges returns every available challenge.
func (s *CommunityService) Challenges() []Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Challenge(nil), s.challenges...)
}

// Participations returns the challenges the user has joined.
func (s *CommunityService) Participations() []Participation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Participation(nil), s.participations...)
}

// Achievements returns earned achievements, newest first.
func (s *CommunityService) Achievements() []Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Achievement(nil), s.achievements...)
}

func (s *CommunityService) challenge(id string) (Challenge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.challenges {
		if c.ID == id {
			return c, true
		}
	}
	return Challenge{}, false
}

func (s *CommunityService) participation(challengeID string) (Participation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participations {
		if p.ChallengeID == challengeID {
			return p, true
		}
	}
	return Participation{}, false
}

// JoinChallenge enrolls the user. Joining a challenge twice returns the
// existing participation without writing.
func (s *CommunityService) JoinChallenge(ctx context.Context, challengeID string) (Participation, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Participation{}, err
	}
	if _, ok := s.challenge(challengeID); !ok {
		return Participation{}, ErrNotFound
	}
	if p, ok := s.participation(challengeID); ok {
		return p, nil
	}

	row, err := remote.EncodeRow(Participation{UserID: userID, ChallengeID: challengeID})
	if err != nil {
		return Participation{}, err
	}
	p, err := confirm[Participation](ctx, s.d, remote.Mutation{
		Collection:  CollectionParticipants,
		Op:          remote.OpUpsert,
		Payload:     row,
		ConflictKey: "user_id,challenge_id",
	})
	if err != nil {
		return Participation{}, err
	}
	s.publishParticipation(userID, p)
	return p, nil
}

// UpdateChallengeProgress records new progress. Reaching the target marks the
// participation completed and earns an achievement. A completed participation
// returns ErrAlreadyLogged without writing once its achievement exists; until
// then each call retries the award.
//
// The progress change is visible before the remote write and is restored if
// the write fails.
func (s *CommunityService) UpdateChallengeProgress(ctx context.Context, challengeID string, progress float64) (Participation, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Participation{}, err
	}
	ch, ok := s.challenge(challengeID)
	if !ok {
		return Participation{}, ErrNotFound
	}

	unlock := s.parts.Lock(challengeID)
	defer unlock()
	current, ok := s.participation(challengeID)
	if !ok {
		return Participation{}, ErrNotFound
	}
	if current.Completed {
		if s.hasAchievement(challengeID) {
			return current, ErrAlreadyLogged
		}
		if _, err := s.award(ctx, userID, ch); err != nil {
			return current, fmt.Errorf("award achievement: %w", err)
		}
		return current, nil
	}

	updated, err := applyOptimistic(ctx, current,
		func(p Participation) { s.publishParticipation(userID, p) },
		func(p *Participation) error {
			if p.Completed {
				return ErrAlreadyLogged
			}
			p.Progress = progress
			p.Completed = ch.Target > 0 && progress >= ch.Target
			return nil
		},
		func(ctx context.Context, p Participation) (Participation, error) {
			return confirm[Participation](ctx, s.d, remote.Mutation{
				Collection: CollectionParticipants,
				Op:         remote.OpUpdate,
				Payload:    remote.Row{"progress": p.Progress, "completed": p.Completed},
				Match:      []remote.Filter{remote.Where("id", p.ID)},
			})
		},
	)
	if err != nil || !updated.Completed {
		return updated, err
	}

	if _, err := s.award(ctx, userID, ch); err != nil {
		return updated, fmt.Errorf("award achievement: %w", err)
	}
	return updated, nil
}

func (s *CommunityService) award(ctx context.Context, userID string, ch Challenge) (Achievement, error) {
	a, err := insert(ctx, s.d, CollectionAchievements, Achievement{
		UserID:      userID,
		ChallengeID: ch.ID,
		Kind:        AchievementChallengeComplete,
		Title:       "Completed " + ch.Title,
		EarnedAt:    s.d.now(),
	})
	if err != nil {
		return Achievement{}, err
	}
	s.mu.Lock()
	s.achievements = append([]Achievement{a}, s.achievements...)
	s.d.Cache.Set(s.key(userID, "achievements"), s.achievements)
	s.mu.Unlock()
	s.log.WithField("challenge", ch.ID).Debug("achievement earned")
	return a, nil
}

func (s *CommunityService) hasAchievement(challengeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.achievements {
		if a.Kind == AchievementChallengeComplete && a.ChallengeID == challengeID {
			return true
		}
	}
	return false
}

func (s *CommunityService) publishParticipation(userID string, p Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	next := make([]Participation, 0, len(s.participations)+1)
	for _, cur := range s.participations {
		if cur.ChallengeID == p.ChallengeID {
			cur = p
			replaced = true
		}
		next = append(next, cur)
	}
	if !replaced {
		next = append(next, p)
	}
	s.participations = next
	s.d.Cache.Set(s.key(userID, "participations"), s.participations)
}

func (s *CommunityService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges, s.participations, s.achievements = nil, nil, nil
}
