package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"rendezvous/internal/apperr"
	"rendezvous/internal/auth"
	"rendezvous/internal/database"
	"rendezvous/internal/model"
	"rendezvous/internal/notify"
)

func validateSend(req model.SendMessageRequest) (model.SendMessageRequest, error) {
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		return req, apperr.ErrConversationIDRequired
	}
	if strings.TrimSpace(req.Content) == "" {
		return req, apperr.ErrContentRequired
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return req, apperr.ErrContentTooLong
	}
	if req.Type == "" {
		req.Type = model.MessageTypeText
	}
	if !req.Type.Valid() {
		return req, apperr.ErrInvalidMessageType
	}
	return req, nil
}

// SendMessage persists a message, fans it out to the conversation room and,
// when the other participant is not online, hands a notification to the push
// pipeline in the background.
func (s *Service) SendMessage(ctx context.Context, actor auth.Identity, req model.SendMessageRequest) (*model.Message, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	req, err := validateSend(req)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	conv, err := s.conversationFor(ctx, actor, req.ConversationID)
	if err != nil {
		return nil, err
	}
	now := s.timestamp()
	if !conv.Writable(now) {
		return nil, apperr.ErrConversationNotActive
	}

	msg := &model.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		Type:           req.Type,
		Content:        req.Content,
		CreatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, database.ErrNotWritable) {
			return nil, apperr.ErrConversationNotActive
		}
		s.logger.ErrorContext(ctx, "failed to create message",
			"error", err,
			"user_id", actor.UserID,
			"conversation_id", conv.ID,
		)
		return nil, apperr.Internal("Failed to send message", err)
	}

	s.hub.Broadcast(conv.ID, model.Event{
		Event: model.EventMessageCreated,
		Data:  model.MessageCreatedPayload{Message: msg, Metadata: req.Metadata},
	}, "")

	s.metrics.MessageSent(ctx, string(msg.Type), time.Since(started).Seconds())
	s.logger.InfoContext(ctx, "message sent",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"user_id", actor.UserID,
	)

	s.notifyIfOffline(ctx, conv.OtherParticipant(actor.UserID), *msg)
	return msg, nil
}

// notifyIfOffline runs detached from the request. Failures are logged and
// dropped; the message is already persisted and delivered to the room.
func (s *Service) notifyIfOffline(ctx context.Context, recipientID string, msg model.Message) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		// 判定に失敗した場合はオフライン扱い
		statuses, err := s.presence.CheckOnline(ctx, []string{recipientID})
		if err == nil && len(statuses) == 1 && statuses[0].IsOnline {
			return
		}
		if err != nil {
			s.logger.WarnContext(ctx, "presence check failed, treating recipient as offline",
				"error", err,
				"user_id", recipientID,
			)
		}

		name, err := s.store.DisplayName(ctx, msg.SenderID)
		if err != nil || name == "" {
			name = fallbackSenderName
		}

		err = s.notifier.NotifyNewMessage(ctx, notify.NewMessage{
			RecipientID:    recipientID,
			SenderName:     name,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Preview:        notify.Preview(msg.Content, s.previewLength),
		})
		s.metrics.PushAttempted(ctx, err)
		if err != nil {
			s.logger.WarnContext(ctx, "push notification failed",
				"error", err,
				"user_id", recipientID,
				"message_id", msg.ID,
			)
		}
	}()
}

// History returns messages older than before, newest first
func (s *Service) History(ctx context.Context, actor auth.Identity, req model.GetMessagesRequest) ([]model.Message, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		return nil, apperr.ErrConversationIDRequired
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	before := s.now().UTC().Add(time.Millisecond)
	if req.Before != nil {
		before = req.Before.UTC()
	}

	if _, err := s.conversationFor(ctx, actor, req.ConversationID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, req.ConversationID, before, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list messages",
			"error", err,
			"user_id", actor.UserID,
			"conversation_id", req.ConversationID,
		)
		return nil, apperr.Internal("Failed to load messages", err)
	}
	return messages, nil
}

// DeleteMessage hard-deletes a message written by the actor and tells the room
func (s *Service) DeleteMessage(ctx context.Context, actor auth.Identity, messageID string) (*model.MessageDeletedPayload, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, apperr.ErrMessageIDRequired
	}

	msg, err := s.store.DeleteMessage(ctx, messageID, actor.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.ErrDeleteDenied
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to delete message",
			"error", err,
			"user_id", actor.UserID,
			"message_id", messageID,
		)
		return nil, apperr.Internal("Failed to delete message", err)
	}

	payload := &model.MessageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Timestamp:      s.timestamp(),
	}
	s.hub.Broadcast(msg.ConversationID, model.Event{
		Event: model.EventMessageDeleted,
		Data:  payload,
	}, "")

	s.metrics.MessageDeleted(ctx)
	s.logger.InfoContext(ctx, "message deleted",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"user_id", actor.UserID,
	)
	return payload, nil
}
