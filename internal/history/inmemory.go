package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps turns in process memory, indexed by user for the
// recent-history view and by session for per-session replay. Local/dev use
// only; nothing survives a restart.
type InMemoryStore struct {
	mu        sync.RWMutex
	byUser    map[string][]TurnRecord
	bySession map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byUser:    make(map[string][]TurnRecord),
		bySession: make(map[string][]TurnRecord),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[record.UserID] = append(s.byUser[record.UserID], record)
	if record.SessionID != "" {
		s.bySession[record.SessionID] = append(s.bySession[record.SessionID], record)
	}
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.byUser[userID]
	if len(turns) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(turns) {
		limit = len(turns)
	}
	out := make([]TurnRecord, limit)
	copy(out, turns[len(turns)-limit:])
	return out, nil
}

func (s *InMemoryStore) SessionTurns(_ context.Context, sessionID string) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.bySession[sessionID]
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]TurnRecord, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
