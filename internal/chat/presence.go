package chat

import (
	"context"
	"time"

	"rendezvous/internal/apperr"
	"rendezvous/internal/auth"
	"rendezvous/internal/hub"
	"rendezvous/internal/model"
)

// Connected registers a freshly authenticated connection and marks its user
// online. Presence failures are logged; the connection stays usable.
func (s *Service) Connected(ctx context.Context, actor auth.Identity, peer hub.Peer) {
	conns := s.hub.Register(peer)
	s.logger.InfoContext(ctx, "connection opened",
		"user_id", actor.UserID,
		"connection_id", peer.ID(),
		"user_connections", conns,
	)

	if err := s.markOnline(ctx, actor.UserID); err != nil {
		s.logger.WarnContext(ctx, "failed to mark user online",
			"error", err,
			"user_id", actor.UserID,
		)
	}
}

// Disconnected removes the connection from every room. The user goes offline
// only when this was their last connection to this server.
func (s *Service) Disconnected(ctx context.Context, actor auth.Identity, peer hub.Peer) {
	remaining := s.hub.Unregister(peer)
	s.logger.InfoContext(ctx, "connection closed",
		"user_id", actor.UserID,
		"connection_id", peer.ID(),
		"user_connections", remaining,
	)
	if remaining > 0 {
		return
	}

	if err := s.markOffline(ctx, actor.UserID); err != nil {
		s.logger.WarnContext(ctx, "failed to mark user offline",
			"error", err,
			"user_id", actor.UserID,
		)
	}
}

func (s *Service) markOnline(ctx context.Context, userID string) error {
	if err := s.presence.SetOnline(ctx, userID); err != nil {
		return err
	}
	s.metrics.PresenceUpdated(ctx, "online")
	s.broadcastFiltered(ctx, userID, model.Event{
		Event: model.EventUserOnline,
		Data:  model.UserPresencePayload{UserID: userID, Timestamp: s.timestamp()},
	})
	return nil
}

func (s *Service) markOffline(ctx context.Context, userID string) error {
	if err := s.presence.SetOffline(ctx, userID); err != nil {
		return err
	}
	s.metrics.PresenceUpdated(ctx, "offline")
	s.broadcastFiltered(ctx, userID, model.Event{
		Event: model.EventUserOffline,
		Data:  model.UserPresencePayload{UserID: userID, Timestamp: s.timestamp()},
	})
	return nil
}

// SetOnline marks the actor online and announces it
func (s *Service) SetOnline(ctx context.Context, actor auth.Identity) error {
	if !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	if err := s.markOnline(ctx, actor.UserID); err != nil {
		s.logger.ErrorContext(ctx, "failed to set online", "error", err, "user_id", actor.UserID)
		return apperr.Internal("Failed to set online", err)
	}
	return nil
}

// SetOffline marks the actor offline and announces it. It is idempotent.
func (s *Service) SetOffline(ctx context.Context, actor auth.Identity) error {
	if !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	if err := s.markOffline(ctx, actor.UserID); err != nil {
		s.logger.ErrorContext(ctx, "failed to set offline", "error", err, "user_id", actor.UserID)
		return apperr.Internal("Failed to set offline", err)
	}
	return nil
}

// CheckPresence reports one status per requested id, in request order. Users
// in a block relation with the actor always appear offline.
func (s *Service) CheckPresence(ctx context.Context, actor auth.Identity, userIDs []string) ([]model.PresenceStatus, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	if len(userIDs) == 0 {
		return nil, apperr.ErrUserIDsRequired
	}
	if len(userIDs) > MaxPresenceCheckIDs {
		return nil, apperr.ErrTooManyUserIDs
	}

	statuses, err := s.presence.CheckOnline(ctx, userIDs)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to check presence", "error", err, "user_id", actor.UserID)
		return nil, apperr.Internal("Failed to check presence", err)
	}
	related, err := s.relatedByBlock(ctx, actor.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load blocks", "error", err, "user_id", actor.UserID)
		return nil, apperr.Internal("Failed to check presence", err)
	}

	for i, st := range statuses {
		if _, blocked := related[st.UserID]; blocked {
			statuses[i] = model.PresenceStatus{UserID: st.UserID}
		}
	}
	return statuses, nil
}

// OnlineUsers lists online users the actor may see, excluding the actor
func (s *Service) OnlineUsers(ctx context.Context, actor auth.Identity) ([]string, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}

	ids, err := s.presence.ListOnlineUserIDs(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list online users", "error", err, "user_id", actor.UserID)
		return nil, apperr.Internal("Failed to get online users", err)
	}

	others := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != actor.UserID {
			others = append(others, id)
		}
	}

	visible, err := s.store.FilterVisible(ctx, actor.UserID, others)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to filter online users", "error", err, "user_id", actor.UserID)
		return nil, apperr.Internal("Failed to get online users", err)
	}
	return visible, nil
}

// Heartbeat keeps the actor's presence entry alive for another TTL window
func (s *Service) Heartbeat(ctx context.Context, actor auth.Identity) (time.Time, error) {
	if !actor.Authenticated() {
		return time.Time{}, apperr.ErrUnauthenticated
	}

	if err := s.presence.ExtendTTL(ctx, actor.UserID); err != nil {
		s.logger.ErrorContext(ctx, "failed to extend presence", "error", err, "user_id", actor.UserID)
		return time.Time{}, apperr.Internal("Failed to process heartbeat", err)
	}
	s.metrics.PresenceUpdated(ctx, "heartbeat")
	return s.timestamp(), nil
}
