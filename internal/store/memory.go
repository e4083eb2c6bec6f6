package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/chat-relay/internal/domain"
)

// MemoryStore keeps turns in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	turns []domain.Turn
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{turns: make([]domain.Turn, 0, 64)}
}

// Append stores a turn with the next sequential id.
func (s *MemoryStore) Append(_ context.Context, author domain.Author, text string) (*domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev time.Time
	if n := len(s.turns); n > 0 {
		prev = s.turns[n-1].CreatedAt
	}

	turn := domain.Turn{
		ID:        int64(len(s.turns)) + 1,
		Author:    author,
		Text:      text,
		CreatedAt: domain.NextTimestamp(prev, time.Now().UTC()),
	}
	s.turns = append(s.turns, turn)
	return &turn, nil
}

// ListAll returns a copy of all turns.
func (s *MemoryStore) ListAll(ctx context.Context) ([]domain.Turn, error) {
	return s.ListSince(ctx, 0)
}

// ListSince returns a copy of the turns after afterID.
func (s *MemoryStore) ListSince(_ context.Context, afterID int64) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ids are 1-based positions
	start := afterID
	if start < 0 {
		start = 0
	}
	if start > int64(len(s.turns)) {
		start = int64(len(s.turns))
	}

	copied := make([]domain.Turn, len(s.turns)-int(start))
	copy(copied, s.turns[start:])
	return copied, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
