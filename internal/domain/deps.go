// Package domain holds the per-domain synchronization services.
//
// Each service owns its in-memory collections, loads them through the cache
// from the remote backend, and changes them only through the mutation
// protocol in protocol.go: the remote write is confirmed first, then memory
// and cache are updated together. Plan-slot mutations apply locally first and
// restore a snapshot when the remote write fails.
package domain

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/dedupe"
	"github.com/colthorp/healthsync-go/internal/ratelimit"
	"github.com/colthorp/healthsync-go/internal/remote"
)

// Deps are the collaborators shared by every domain service.
type Deps struct {
	Cache   *cache.Store
	Dedupe  *dedupe.Group
	Limits  *ratelimit.Registry
	Remote  remote.Backend
	AI      ai.Caller
	TTL     core.TTLConfig
	Session *Session
	Now     func() time.Time
	Logger  *logrus.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Deps) today() string {
	return core.FormatDate(d.now())
}

func (d *Deps) component(name string) *logrus.Entry {
	return core.Component(d.Logger, name)
}

// Session is the active user scope.
type Session struct {
	mu          sync.RWMutex
	userID      string
	accessToken string
}

// Begin starts a session for userID.
func (s *Session) Begin(userID, accessToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.accessToken = accessToken
}

// End clears the session.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.accessToken = ""
}

// UserID returns the signed-in user or ErrNoSession.
func (s *Session) UserID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", ErrNoSession
	}
	return s.userID, nil
}

// AccessToken returns the bearer token of the session.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}
