// Package store keeps the ids of the active battle flow so a restarted client
// can resume it.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Barz/internal/domain"
	"github.com/jonboulle/clockwork"
)

var ErrNotFound = errors.New("snapshot not found")

// Snapshot holds ids only; everything else is refetched on resume.
type Snapshot struct {
	UserID        domain.UserID        `json:"userId"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	BattleID      domain.BattleID      `json:"battleId,omitempty"`
	ChallengeID   domain.ChallengeID   `json:"challengeId,omitempty"`
	SavedAt       time.Time            `json:"savedAt"`
}

func (s Snapshot) Empty() bool {
	return s.ParticipantID == "" && s.ChallengeID == ""
}

type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context, user domain.UserID) (Snapshot, error)
	Clear(ctx context.Context, user domain.UserID) error
}

type memoryEntry struct {
	snap    Snapshot
	expires time.Time
}

type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	ttl   time.Duration
	items map[domain.UserID]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(clock clockwork.Clock, ttl time.Duration) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, ttl: ttl, items: make(map[domain.UserID]memoryEntry)}
}

func (m *MemoryStore) Save(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if s.SavedAt.IsZero() {
		s.SavedAt = now
	}
	m.items[s.UserID] = memoryEntry{snap: s, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, user domain.UserID) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[user]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if m.ttl > 0 && !m.clock.Now().Before(e.expires) {
		delete(m.items, user)
		return Snapshot{}, ErrNotFound
	}
	return e.snap, nil
}

func (m *MemoryStore) Clear(ctx context.Context, user domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, user)
	return nil
}
