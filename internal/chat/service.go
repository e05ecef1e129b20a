// Package chat implements the realtime operations of a two-party
// conversation: messaging, receipts, deletion, typing and activity signals,
// and the presence operations exposed to clients.
//
// Every operation takes the verified identity of the calling connection and
// checks it before anything else. Identity fields inside client payloads are
// never trusted.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rendezvous/internal/apperr"
	"rendezvous/internal/auth"
	"rendezvous/internal/database"
	"rendezvous/internal/hub"
	"rendezvous/internal/model"
	"rendezvous/internal/notify"
	"rendezvous/internal/presence"
	"rendezvous/internal/telemetry"
)

const (
	MaxContentLength    = 5000
	MaxPresenceCheckIDs = 100
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	defaultPreviewLength = 100
	defaultNotifyTimeout = 5 * time.Second
	fallbackSenderName   = "Someone"
)

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	PreviewLength int
	NotifyTimeout time.Duration
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger

	// for tests
	Now   func() time.Time
	NewID func() string
}

// Service is safe for concurrent use by every connection of the server
type Service struct {
	store    database.Store
	presence presence.Store
	hub      *hub.Hub
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	previewLength int
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string

	// 送信中のプッシュ通知
	pending sync.WaitGroup
}

func NewService(store database.Store, presenceStore presence.Store, h *hub.Hub, notifier notify.Notifier, opts Options) *Service {
	s := &Service{
		store:         store,
		presence:      presenceStore,
		hub:           h,
		notifier:      notifier,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		previewLength: opts.PreviewLength,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "chat")
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.logger)
	}
	if s.previewLength <= 0 {
		s.previewLength = defaultPreviewLength
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Close waits for in-flight push notifications, or until ctx is done
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinRoom subscribes the connection to a conversation it participates in
func (s *Service) JoinRoom(ctx context.Context, actor auth.Identity, peer hub.Peer, conversationID string) error {
	if !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return apperr.ErrConversationIDRequired
	}

	if _, err := s.conversationFor(ctx, actor, conversationID); err != nil {
		return err
	}

	s.hub.Join(conversationID, peer)
	s.logger.DebugContext(ctx, "joined room",
		"user_id", actor.UserID,
		"connection_id", peer.ID(),
		"conversation_id", conversationID,
	)
	return nil
}

// LeaveRoom unsubscribes the connection. Leaving a room that was never joined
// succeeds.
func (s *Service) LeaveRoom(ctx context.Context, actor auth.Identity, peer hub.Peer, conversationID string) error {
	if !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return apperr.ErrConversationIDRequired
	}

	s.hub.Leave(conversationID, peer)
	return nil
}

// conversationFor loads a conversation the actor participates in. Absence and
// non-participation produce the same denial.
func (s *Service) conversationFor(ctx context.Context, actor auth.Identity, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.FindConversation(ctx, conversationID, actor.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.ErrConversationDenied
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load conversation",
			"error", err,
			"user_id", actor.UserID,
			"conversation_id", conversationID,
		)
		return nil, apperr.Internal("Failed to load conversation", err)
	}
	if !conv.HasParticipant(actor.UserID) {
		return nil, apperr.ErrConversationDenied
	}
	return conv, nil
}

// relatedByBlock returns the set of users in a block relation with userID
func (s *Service) relatedByBlock(ctx context.Context, userID string) (map[string]struct{}, error) {
	ids, err := s.store.BlockedRelations(ctx, userID)
	if err != nil {
		return nil, err
	}
	related := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		related[id] = struct{}{}
	}
	return related, nil
}

// broadcastFiltered sends event to every connection except the actor's own and
// those of users in a block relation with the actor. If blocks cannot be
// loaded nothing is sent.
func (s *Service) broadcastFiltered(ctx context.Context, userID string, event model.Event) int {
	related, err := s.relatedByBlock(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "skipping broadcast, failed to load blocks",
			"error", err,
			"user_id", userID,
			"event", event.Event,
		)
		return 0
	}

	return s.hub.BroadcastAll(event, func(recipient string) bool {
		if recipient == userID {
			return true
		}
		_, blocked := related[recipient]
		return blocked
	})
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
