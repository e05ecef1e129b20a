package chat

import (
	"context"
	"errors"
	"strings"

	"rendezvous/internal/apperr"
	"rendezvous/internal/auth"
	"rendezvous/internal/database"
	"rendezvous/internal/model"
)

// MarkRead marks a message read. Re-marking a read message succeeds without
// changing it or notifying anyone.
func (s *Service) MarkRead(ctx context.Context, actor auth.Identity, messageID string) (*model.Message, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, apperr.ErrMessageIDRequired
	}

	msg, err := s.store.FindMessage(ctx, messageID, actor.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.ErrMessageDenied
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load message",
			"error", err,
			"user_id", actor.UserID,
			"message_id", messageID,
		)
		return nil, apperr.Internal("Failed to mark message as read", err)
	}
	if msg.IsRead {
		return msg, nil
	}

	now := s.timestamp()
	changed, err := s.store.MarkRead(ctx, msg.ID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark message as read",
			"error", err,
			"user_id", actor.UserID,
			"message_id", msg.ID,
		)
		return nil, apperr.Internal("Failed to mark message as read", err)
	}
	if !changed {
		// 別の接続が先に既読にした
		return msg, nil
	}

	msg.IsRead = true
	msg.ReadAt = &now

	s.hub.SendToUser(msg.SenderID, model.Event{
		Event: model.EventMessageRead,
		Data: model.MessageReadPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReadBy:         actor.UserID,
			Timestamp:      now,
		},
	})
	s.metrics.MessageRead(ctx)
	return msg, nil
}

// UnreadCount counts messages from other participants the actor has not read,
// across all of the actor's conversations.
func (s *Service) UnreadCount(ctx context.Context, actor auth.Identity) (int, error) {
	if !actor.Authenticated() {
		return 0, apperr.ErrUnauthenticated
	}

	n, err := s.store.CountUnread(ctx, actor.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to count unread messages",
			"error", err,
			"user_id", actor.UserID,
		)
		return 0, apperr.Internal("Failed to get unread count", err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
