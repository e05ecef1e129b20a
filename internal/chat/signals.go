package chat

import (
	"context"
	"errors"
	"strings"

	"rendezvous/internal/apperr"
	"rendezvous/internal/auth"
	"rendezvous/internal/hub"
	"rendezvous/internal/model"
	"rendezvous/internal/presence"
)

// Typing relays a typing indicator to the other users joined to the room.
// Nothing is persisted and nothing is returned to the sender; a connection
// that has not joined the room is ignored.
func (s *Service) Typing(ctx context.Context, actor auth.Identity, peer hub.Peer, req model.TypingRequest) {
	if !actor.Authenticated() {
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return
	}
	if !s.hub.IsJoined(conversationID, peer.ID()) {
		s.logger.DebugContext(ctx, "typing from connection not joined to room",
			"user_id", actor.UserID,
			"connection_id", peer.ID(),
			"conversation_id", conversationID,
		)
		return
	}

	s.hub.Broadcast(conversationID, model.Event{
		Event: model.EventTypingStatus,
		Data: model.TypingStatusPayload{
			UserID:         actor.UserID,
			ConversationID: conversationID,
			IsTyping:       req.IsTyping,
			Timestamp:      s.timestamp(),
		},
	}, actor.UserID)
}

// Activity records a short-lived activity snapshot and broadcasts it. An
// activity tagged with a conversation the connection has joined stays in that
// room; anything else goes to every connected user outside a block relation.
func (s *Service) Activity(ctx context.Context, actor auth.Identity, peer hub.Peer, req model.ActivityRequest) error {
	if !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	req.Activity = strings.TrimSpace(req.Activity)
	if req.Activity == "" {
		return apperr.ErrActivityRequired
	}

	activity := model.Activity{
		UserID:    actor.UserID,
		Activity:  req.Activity,
		Metadata:  req.Metadata,
		UpdatedAt: s.timestamp(),
	}
	if err := s.presence.SetActivity(ctx, actor.UserID, activity); err != nil {
		s.logger.ErrorContext(ctx, "failed to store activity",
			"error", err,
			"user_id", actor.UserID,
		)
		return apperr.Internal("Failed to update activity", err)
	}

	event := model.Event{Event: model.EventActivityUpdate, Data: activity}
	if conversationID := activity.ConversationID(); conversationID != "" && s.hub.IsJoined(conversationID, peer.ID()) {
		s.hub.Broadcast(conversationID, event, actor.UserID)
		return nil
	}
	s.broadcastFiltered(ctx, actor.UserID, event)
	return nil
}

// GetActivity returns the live activity of userID, or nil when there is none
// or the two users are in a block relation.
func (s *Service) GetActivity(ctx context.Context, actor auth.Identity, userID string) (*model.Activity, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.ErrUserIDRequired
	}

	if userID != actor.UserID {
		related, err := s.relatedByBlock(ctx, actor.UserID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to load blocks",
				"error", err,
				"user_id", actor.UserID,
			)
			return nil, apperr.Internal("Failed to get activity", err)
		}
		if _, blocked := related[userID]; blocked {
			return nil, nil
		}
	}

	activity, err := s.presence.GetActivity(ctx, userID)
	if errors.Is(err, presence.ErrNoActivity) {
		return nil, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get activity",
			"error", err,
			"user_id", userID,
		)
		return nil, apperr.Internal("Failed to get activity", err)
	}
	return &activity, nil
}
