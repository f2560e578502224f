// Package memstore is the in-memory Store implementation, used in tests
// and in ephemeral deployments where conversation durability is not
// required.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/memory"
)

// Store keeps messages and profiles in process memory.
type Store struct {
	cfg memory.Config

	mu       sync.Mutex
	messages map[string][]core.Message
	profiles map[string]*core.ClientProfile

	// now is swappable so retention tests can control the clock.
	now func() time.Time
}

// New creates an empty in-memory store.
func New(cfg memory.Config) *Store {
	return &Store{
		cfg:      cfg,
		messages: make(map[string][]core.Message),
		profiles: make(map[string]*core.ClientProfile),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AppendMessage records one turn timestamped at call time.
func (s *Store) AppendMessage(_ context.Context, clientID, userText, assistantText string, lang core.Language, metadata map[string]string) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := core.Message{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		UserText:  userText,
		Assistant: assistantText,
		Language:  lang,
		Timestamp: s.now(),
		Metadata:  metadata,
	}
	s.messages[clientID] = append(s.messages[clientID], msg)
	return msg, nil
}

// History returns up to q.Limit messages, most recent first, honoring the
// retention window and optional language filter.
func (s *Store) History(_ context.Context, clientID string, q memory.HistoryQuery) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff time.Time
	if s.cfg.Retention > 0 {
		cutoff = s.now().Add(-s.cfg.Retention)
	}

	log := s.messages[clientID]
	results := make([]core.Message, 0, q.Limit)
	for i := len(log) - 1; i >= 0 && len(results) < q.Limit; i-- {
		msg := log[i]
		if !cutoff.IsZero() && msg.Timestamp.Before(cutoff) {
			break // log is append-ordered; everything earlier is older
		}
		if q.Language != "" && msg.Language != q.Language {
			continue
		}
		results = append(results, msg)
	}
	return results, nil
}

// Profile returns the stored profile or nil when absent.
func (s *Store) Profile(_ context.Context, clientID string) (*core.ClientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[clientID]
	if !ok {
		return nil, nil
	}
	cp := clone(p)
	return &cp, nil
}

// UpdateProfile merges last-write-wins per field and bumps the
// interaction counter.
func (s *Store) UpdateProfile(_ context.Context, clientID string, update memory.ProfileUpdate) (*core.ClientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[clientID]
	if !ok {
		p = &core.ClientProfile{ClientID: clientID, Fields: make(map[string]string)}
		s.profiles[clientID] = p
	}

	if update.PreferredLanguage != "" {
		p.PreferredLanguage = update.PreferredLanguage
	}
	if update.RiskAppetite != "" {
		p.RiskAppetite = update.RiskAppetite
	}
	for k, v := range update.Fields {
		p.Fields[k] = v
	}
	p.InteractionCount++
	p.LastInteraction = s.now()

	cp := clone(p)
	return &cp, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func clone(p *core.ClientProfile) core.ClientProfile {
	cp := *p
	cp.Fields = make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		cp.Fields[k] = v
	}
	return cp
}
