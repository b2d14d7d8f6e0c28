package domain

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/dedupe"
)

// Services is the aggregate facade over every domain service. It owns the
// session and is the only type the outer surfaces construct.
type Services struct {
	deps *Deps

	Profile   *ProfileService
	Nutrition *NutritionService
	Fitness   *FitnessService
	Wellness  *WellnessService
	Journal   *JournalService
	Community *CommunityService
}

// New wires every service to deps. A nil Session or Dedupe is replaced with a
// fresh one.
func New(deps Deps) *Services {
	d := &deps
	if d.Session == nil {
		d.Session = &Session{}
	}
	if d.Dedupe == nil {
		d.Dedupe = &dedupe.Group{}
	}
	profile := NewProfileService(d)
	return &Services{
		deps:      d,
		Profile:   profile,
		Nutrition: NewNutritionService(d),
		Fitness:   NewFitnessService(d),
		Wellness:  NewWellnessService(d, profile),
		Journal:   NewJournalService(d),
		Community: NewCommunityService(d),
	}
}

// Session returns the active session.
func (s *Services) Session() *Session {
	return s.deps.Session
}

// SignIn starts a session for userID and loads every domain.
func (s *Services) SignIn(ctx context.Context, userID, accessToken string) error {
	s.deps.Session.Begin(userID, accessToken)
	return s.Start(ctx)
}

// Start loads every domain concurrently. The first failure cancels the others
// and is returned.
func (s *Services) Start(ctx context.Context) error {
	if _, err := s.deps.Session.UserID(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, load := range []func(context.Context) error{
		s.Profile.Load,
		s.Nutrition.Load,
		s.Fitness.Load,
		s.Wellness.Load,
		s.Journal.Load,
		s.Community.Load,
	} {
		load := load
		g.Go(func() error { return load(ctx) })
	}
	return g.Wait()
}

// SignOut drops every cache entry of the current user, clears in-memory
// state and ends the session. Calling it without a session is a no-op.
func (s *Services) SignOut() {
	userID, err := s.deps.Session.UserID()
	if err != nil {
		return
	}
	s.deps.Cache.ClearAllForScope(core.ScopePrefix(userID))
	s.Profile.reset()
	s.Nutrition.reset()
	s.Fitness.reset()
	s.Wellness.reset()
	s.Journal.reset()
	s.Community.reset()
	s.deps.Session.End()
	s.deps.component("session").WithField("user", userID).Debug("signed out")
}
