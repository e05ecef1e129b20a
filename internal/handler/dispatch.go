package handler

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"rendezvous/internal/apperr"
	"rendezvous/internal/model"
)

// noReply marks events that are fire-and-forget
type noReply struct{}

// dispatch decodes one inbound frame, runs it and answers with ack or error.
// A panic while handling a frame is contained to that frame.
func (h *Handler) dispatch(ctx context.Context, c *Client, data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		h.replyError(c, "", apperr.ErrInvalidPayload)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling event",
				"event", env.Event,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			h.replyError(c, env.RequestID, apperr.Internal("Internal server error", nil))
		}
	}()

	result, err := h.route(ctx, c, env)
	if err != nil {
		h.replyError(c, env.RequestID, err)
		return
	}

	switch v := result.(type) {
	case noReply:
	case model.Event:
		v.RequestID = env.RequestID
		c.Send(v)
	default:
		c.Send(model.Event{Event: model.EventAck, RequestID: env.RequestID, Data: result})
	}
}

func (h *Handler) route(ctx context.Context, c *Client, env model.Envelope) (any, error) {
	actor := c.Identity()

	switch env.Event {
	case model.EventJoinRoom:
		var req model.RoomRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		if err := h.Chat.JoinRoom(ctx, actor, c, req.ConversationID); err != nil {
			return nil, err
		}
		return req, nil

	case model.EventLeaveRoom:
		var req model.RoomRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		if err := h.Chat.LeaveRoom(ctx, actor, c, req.ConversationID); err != nil {
			return nil, err
		}
		return req, nil

	case model.EventSendMessage:
		var req model.SendMessageRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return h.Chat.SendMessage(ctx, actor, req)

	case model.EventGetMessages:
		var req model.GetMessagesRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return h.Chat.History(ctx, actor, req)

	case model.EventMarkRead:
		var req model.MessageRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return h.Chat.MarkRead(ctx, actor, req.MessageID)

	case model.EventDeleteMessage:
		var req model.MessageRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return h.Chat.DeleteMessage(ctx, actor, req.MessageID)

	case model.EventGetUnreadCount:
		n, err := h.Chat.UnreadCount(ctx, actor)
		if err != nil {
			return nil, err
		}
		return model.UnreadCountPayload{UnreadCount: n}, nil

	case model.EventTyping:
		var req model.TypingRequest
		if err := decode(env.Data, &req); err != nil {
			c.logger.Debug("ignoring malformed typing event", "error", err)
			return noReply{}, nil
		}
		h.Chat.Typing(ctx, actor, c, req)
		return noReply{}, nil

	case model.EventActivity:
		var req model.ActivityRequest
		if err := decode(env.Data, &req); err != nil {
			c.logger.Debug("ignoring malformed activity event", "error", err)
			return noReply{}, nil
		}
		if err := h.Chat.Activity(ctx, actor, c, req); err != nil {
			c.logger.Debug("activity not recorded", "error", err)
		}
		return noReply{}, nil

	case model.EventGetActivity:
		var req model.GetActivityRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return h.Chat.GetActivity(ctx, actor, req.UserID)

	case model.EventCheckPresence:
		var req model.CheckPresenceRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return h.Chat.CheckPresence(ctx, actor, req.UserIDs)

	case model.EventGetOnlineUsers:
		ids, err := h.Chat.OnlineUsers(ctx, actor)
		if err != nil {
			return nil, err
		}
		return model.OnlineUsersPayload{UserIDs: ids}, nil

	case model.EventSetOnline:
		return nil, h.Chat.SetOnline(ctx, actor)

	case model.EventSetOffline:
		return nil, h.Chat.SetOffline(ctx, actor)

	case model.EventHeartbeat:
		at, err := h.Chat.Heartbeat(ctx, actor)
		if err != nil {
			return nil, err
		}
		return model.Event{
			Event: model.EventHeartbeatAck,
			Data:  model.HeartbeatAckPayload{Timestamp: at},
		}, nil
	}

	return nil, apperr.ErrUnknownEvent
}

// decode unmarshals an optional payload. An absent payload leaves v zero.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.ErrInvalidPayload
	}
	return nil
}

func (h *Handler) replyError(c *Client, requestID string, err error) {
	code, message := apperr.Public(err)
	if code == apperr.CodeInternal {
		c.logger.Error("request failed", "error", err)
	}
	c.Send(model.Event{
		Event:     model.EventError,
		RequestID: requestID,
		Data:      model.ErrorPayload{Code: string(code), Message: message},
	})
}
