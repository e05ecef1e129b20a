package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"rendezvous/internal/model"
)

type memoryEntry struct {
	lastSeen  time.Time
	expiresAt time.Time
}

type activityEntry struct {
	activity  model.Activity
	expiresAt time.Time
}

// MemoryStore keeps presence in process. Expired entries are treated as
// absent on read and removed by Sweep.
type MemoryStore struct {
	mu          sync.RWMutex
	online      map[string]memoryEntry
	activities  map[string]activityEntry
	ttl         time.Duration
	activityTTL time.Duration
	now         func() time.Time
}

// MemoryOption customises a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an in-process store
func NewMemoryStore(ttl, activityTTL time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if activityTTL <= 0 {
		activityTTL = DefaultActivityTTL
	}

	s := &MemoryStore{
		online:      make(map[string]memoryEntry),
		activities:  make(map[string]activityEntry),
		ttl:         ttl,
		activityTTL: activityTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) SetOnline(_ context.Context, userID string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.online[userID] = memoryEntry{lastSeen: now, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) SetOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.online, userID)
	return nil
}

func (s *MemoryStore) CheckOnline(_ context.Context, userIDs []string) ([]model.PresenceStatus, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]model.PresenceStatus, 0, len(userIDs))
	for _, id := range userIDs {
		entry, ok := s.online[id]
		if !ok || !now.Before(entry.expiresAt) {
			statuses = append(statuses, offlineStatus(id))
			continue
		}
		statuses = append(statuses, onlineStatus(id, entry.lastSeen))
	}
	return statuses, nil
}

func (s *MemoryStore) ExtendTTL(_ context.Context, userID string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.online[userID]
	if !ok || !now.Before(entry.expiresAt) {
		entry.lastSeen = now
	}
	entry.expiresAt = now.Add(s.ttl)
	s.online[userID] = entry
	return nil
}

func (s *MemoryStore) ListOnlineUserIDs(_ context.Context) ([]string, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.online))
	for id, entry := range s.online {
		if now.Before(entry.expiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SetActivity(_ context.Context, userID string, activity model.Activity) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities[userID] = activityEntry{activity: activity, expiresAt: now.Add(s.activityTTL)}
	return nil
}

func (s *MemoryStore) GetActivity(_ context.Context, userID string) (model.Activity, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.activities[userID]
	if !ok || !now.Before(entry.expiresAt) {
		return model.Activity{}, ErrNoActivity
	}
	return entry.activity, nil
}

// Sweep drops expired entries and returns how many were removed
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.online {
		if !now.Before(entry.expiresAt) {
			delete(s.online, id)
			removed++
		}
	}
	for id, entry := range s.activities {
		if !now.Before(entry.expiresAt) {
			delete(s.activities, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
