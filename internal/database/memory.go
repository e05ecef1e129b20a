package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"rendezvous/internal/model"
)

type memoryUser struct {
	firstName string
	nickname  string
	suspended bool
}

type blockKey struct {
	blocker, blocked string
}

// MemoryStore implements Store in process. It is used for local development
// and tests; data does not survive a restart.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]memoryUser
	blocks        map[blockKey]struct{}
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]memoryUser),
		blocks:        make(map[blockKey]struct{}),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
		now:           time.Now,
	}
}

func copyConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	return &cp
}

func copyMessage(m *model.Message) *model.Message {
	cp := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

func (s *MemoryStore) FindConversation(_ context.Context, conversationID, userID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok || !c.HasParticipant(userID) {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[c.ID] = copyConversation(c)
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok || !c.HasParticipant(msg.SenderID) || !c.Writable(msg.CreatedAt) {
		return ErrNotWritable
	}

	s.messages[msg.ID] = copyMessage(msg)
	at := msg.CreatedAt
	c.LastMessageAt = &at
	c.MessageCount++
	c.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *MemoryStore) FindMessage(_ context.Context, messageID, userID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := s.conversations[m.ConversationID]
	if !ok || !c.HasParticipant(userID) {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, messageID string, readAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || m.IsRead {
		return false, nil
	}
	m.IsRead = true
	m.ReadAt = &readAt
	return true, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, messageID, senderID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || m.SenderID != senderID {
		return nil, ErrNotFound
	}
	delete(s.messages, messageID)

	if c, ok := s.conversations[m.ConversationID]; ok {
		if c.MessageCount > 0 {
			c.MessageCount--
		}
		c.UpdatedAt = s.now()
	}
	return m, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.IsRead || m.SenderID == userID {
			continue
		}
		if c, ok := s.conversations[m.ConversationID]; ok && c.HasParticipant(userID) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, before time.Time, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := []model.Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.CreatedAt.Before(before) {
			messages = append(messages, *copyMessage(m))
		}
	}

	// 新しい順
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID > messages[j].ID
		}
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, id, firstName, nickname string, suspended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[id] = memoryUser{firstName: firstName, nickname: nickname, suspended: suspended}
	return nil
}

func (s *MemoryStore) Block(_ context.Context, blockerID, blockedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[blockKey{blocker: blockerID, blocked: blockedID}] = struct{}{}
	return nil
}

func (s *MemoryStore) DisplayName(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	if u.firstName != "" {
		return u.firstName, nil
	}
	return u.nickname, nil
}

func (s *MemoryStore) BlockedRelations(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := []string{}
	for k := range s.blocks {
		var other string
		switch userID {
		case k.blocker:
			other = k.blocked
		case k.blocked:
			other = k.blocker
		default:
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) FilterVisible(_ context.Context, viewerID string, userIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		u, ok := s.users[id]
		if !ok || u.suspended {
			continue
		}
		if s.blockedEitherWay(viewerID, id) {
			continue
		}
		visible[id] = struct{}{}
	}
	return keepVisible(userIDs, visible), nil
}

func (s *MemoryStore) blockedEitherWay(a, b string) bool {
	if _, ok := s.blocks[blockKey{blocker: a, blocked: b}]; ok {
		return true
	}
	_, ok := s.blocks[blockKey{blocker: b, blocked: a}]
	return ok
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
