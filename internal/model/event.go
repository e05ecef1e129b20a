package model

import (
	"encoding/json"
	"time"
)

// Inbound event names
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSendMessage    = "send-message"
	EventMarkRead       = "mark-read"
	EventTyping         = "typing"
	EventDeleteMessage  = "delete-message"
	EventGetUnreadCount = "get-unread-count"
	EventCheckPresence  = "check-presence"
	EventHeartbeat      = "heartbeat"
	EventSetOnline      = "set-online"
	EventSetOffline     = "set-offline"
	EventGetOnlineUsers = "get-online-users"
	EventActivity       = "activity"
	EventGetActivity    = "get-activity"
	EventGetMessages    = "get-messages"
)

// Outbound event names
const (
	EventConnected      = "connected"
	EventAck            = "ack"
	EventError          = "error"
	EventMessageCreated = "message-created"
	EventMessageRead    = "message-read"
	EventMessageDeleted = "message-deleted"
	EventTypingStatus   = "typing-status"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
	EventActivityUpdate = "activity-update"
	EventHeartbeatAck   = "heartbeat-ack"
)

// Envelope is a frame received from a client
type Envelope struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is a frame sent to a client
type Event struct {
	Event     string `json:"event"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ErrorPayload is the data of an "error" event
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectedPayload greets a freshly authenticated connection
type ConnectedPayload struct {
	ConnectionID      string `json:"connectionId"`
	UserID            string `json:"userId"`
	HeartbeatInterval int    `json:"heartbeatInterval"`
	PresenceTTL       int    `json:"presenceTtl"`
}

// Inbound payloads

type RoomRequest struct {
	ConversationID string `json:"conversationId"`
}

type SendMessageRequest struct {
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type MessageRequest struct {
	MessageID string `json:"messageId"`
}

type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type CheckPresenceRequest struct {
	UserIDs []string `json:"userIds"`
}

type ActivityRequest struct {
	Activity string         `json:"activity"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type GetActivityRequest struct {
	UserID string `json:"userId"`
}

type GetMessagesRequest struct {
	ConversationID string     `json:"conversationId"`
	Before         *time.Time `json:"before,omitempty"`
	Limit          int        `json:"limit,omitempty"`
}

// Outbound payloads

type MessageCreatedPayload struct {
	Message  *Message       `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type MessageReadPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessageDeletedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type TypingStatusPayload struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
	Timestamp      time.Time `json:"timestamp"`
}

type UserPresencePayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type UnreadCountPayload struct {
	UnreadCount int `json:"unreadCount"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type HeartbeatAckPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
