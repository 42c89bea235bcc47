// services/memory_store.go
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rps-match-service/models"
)

// MemoryStore is a MatchStore held in process memory. It is used for tests
// and for running without DATABASE_URL.
type MemoryStore struct {
	mu      sync.Mutex
	matches map[string]*models.Match
	audit   []models.AuditLog
	nextID  uint64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]*models.Match),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, m *models.Match, audit *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[m.ID]; exists {
		return fmt.Errorf("create match %s: duplicate id", m.ID)
	}
	stored := m.Clone()
	now := s.now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.matches[m.ID] = stored
	m.CreatedAt, m.UpdatedAt = now, now
	s.appendAudit(audit, now)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, next *models.Match, expectedVersion int64, audit *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.matches[next.ID]
	if !ok {
		return ErrMatchNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	stored.CreatedAt = cur.CreatedAt
	stored.UpdatedAt = s.now()
	s.matches[next.ID] = stored
	next.Version = stored.Version
	next.UpdatedAt = stored.UpdatedAt
	s.appendAudit(audit, stored.UpdatedAt)
	return nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, m := range s.matches {
		if deadlineElapsed(m, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) AuditTrail(_ context.Context, matchID string) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AuditLog
	for _, a := range s.audit {
		if a.MatchID == matchID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) appendAudit(audit *models.AuditLog, at time.Time) {
	if audit == nil {
		return
	}
	s.nextID++
	row := *audit
	row.ID = s.nextID
	row.CreatedAt = at
	s.audit = append(s.audit, row)
}
