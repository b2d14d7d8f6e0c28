package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/remote"
)

const (
	journalLimit       = 50
	patternSampleLimit = 20
)

// JournalService owns journal entries and the pattern insight derived from them.
type JournalService struct {
	d   *Deps
	log *logrus.Entry

	mu      sync.RWMutex
	entries []JournalEntry // newest first
}

// NewJournalService creates the service.
func NewJournalService(d *Deps) *JournalService {
	return &JournalService{d: d, log: d.component(core.DomainJournal)}
}

func (s *JournalService) entriesKey(userID string) string {
	return core.CacheKey(userID, core.DomainJournal, "entries")
}

func (s *JournalService) insightKey(userID string) string {
	return core.CacheKey(userID, core.DomainJournal, "pattern_insight")
}

// Load fetches the most recent entries.
func (s *JournalService) Load(ctx context.Context) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	entries, err := loadCached[JournalEntry](ctx, s.d, s.entriesKey(userID), s.d.TTL.Journal, remote.Query{
		Collection: CollectionJournalEntries,
		Filters:    []remote.Filter{remote.Where("user_id", userID)},
		Order:      &remote.Order{Column: "created_at", Desc: true},
		Limit:      journalLimit,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Entries returns the loaded entries, newest first.
func (s *JournalService) Entries() []JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]JournalEntry(nil), s.entries...)
}

// AddEntry inserts an entry. The stored pattern insight is dropped so the
// next request sees the new entry.
func (s *JournalService) AddEntry(ctx context.Context, content string, mood int) (JournalEntry, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return JournalEntry{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return JournalEntry{}, fmt.Errorf("journal entry is empty")
	}

	e, err := insert(ctx, s.d, CollectionJournalEntries, JournalEntry{
		UserID:    userID,
		Content:   content,
		Mood:      mood,
		CreatedAt: s.d.now(),
	})
	if err != nil {
		return JournalEntry{}, err
	}

	s.mu.Lock()
	s.entries = newestFirst(append(s.entries, e), func(e JournalEntry) time.Time { return e.CreatedAt }, journalLimit)
	s.d.Cache.Set(s.entriesKey(userID), s.entries)
	s.mu.Unlock()
	s.d.Cache.Clear(s.insightKey(userID))
	s.log.WithField("id", e.ID).Debug("journal entry added")
	return e, nil
}

// DeleteEntry removes an entry remotely, then locally.
func (s *JournalService) DeleteEntry(ctx context.Context, id string) error {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return err
	}
	if !s.has(id) {
		return ErrNotFound
	}
	if err := deleteByID(ctx, s.d, CollectionJournalEntries, id); err != nil {
		return err
	}

	s.mu.Lock()
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.d.Cache.Set(s.entriesKey(userID), s.entries)
	s.mu.Unlock()
	s.d.Cache.Clear(s.insightKey(userID))
	return nil
}

func (s *JournalService) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// PatternInsight summarizes recurring themes across recent entries.
func (s *JournalService) PatternInsight(ctx context.Context) (Insight, error) {
	userID, err := s.d.Session.UserID()
	if err != nil {
		return Insight{}, err
	}
	entries := s.Entries()
	if len(entries) == 0 {
		return Insight{}, &GenerationError{Kind: "pattern insight", Err: fmt.Errorf("no journal entries")}
	}
	if len(entries) > patternSampleLimit {
		entries = entries[:patternSampleLimit]
	}

	return cache.GetOrSet(ctx, s.d.Cache, s.insightKey(userID), s.d.TTL.PatternInsights, func(ctx context.Context) (Insight, error) {
		sample := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			sample = append(sample, map[string]interface{}{"content": e.Content, "mood": e.Mood, "date": core.FormatDate(e.CreatedAt)})
		}
		res, err := s.d.generate(ctx, "pattern insight", "pattern_insight:"+userID, s.d.Limits.AIText,
			ai.ActionPatternInsight, map[string]interface{}{"entries": sample})
		if err != nil {
			return Insight{}, err
		}
		return s.d.insight("pattern insight", res, "insight")
	})
}

func (s *JournalService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
