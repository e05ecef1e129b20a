package model

import "time"

// MessageType is the kind of content a message carries
type MessageType string

const (
	MessageTypeText    MessageType = "TEXT"
	MessageTypeVoice   MessageType = "VOICE"
	MessageTypeImage   MessageType = "IMAGE"
	MessageTypeVideo   MessageType = "VIDEO"
	MessageTypeDrawing MessageType = "DRAWING"
)

// Valid reports whether t is one of the known message types
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeVoice, MessageTypeImage, MessageTypeVideo, MessageTypeDrawing:
		return true
	}
	return false
}

// Message represents a chat message
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Type           MessageType `json:"messageType"`
	Content        string      `json:"content"`
	IsRead         bool        `json:"isRead"`
	IsDeleted      bool        `json:"isDeleted"`
	CreatedAt      time.Time   `json:"createdAt"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
}
