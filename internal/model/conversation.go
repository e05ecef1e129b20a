package model

import "time"

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationActive  ConversationStatus = "ACTIVE"
	ConversationExpired ConversationStatus = "EXPIRED"
	ConversationBlocked ConversationStatus = "BLOCKED"
	ConversationDeleted ConversationStatus = "DELETED"
)

// Conversation is a two-party chat. User1ID and User2ID form an unordered pair.
type Conversation struct {
	ID                     string             `json:"id"`
	User1ID                string             `json:"user1Id"`
	User2ID                string             `json:"user2Id"`
	Status                 ConversationStatus `json:"status"`
	IsTemporary            bool               `json:"isTemporary"`
	IsPermanent            bool               `json:"isPermanent"`
	IsConvertedToPermanent bool               `json:"isConvertedToPermanent"`
	ExpiresAt              *time.Time         `json:"expiresAt,omitempty"`
	ReportedCount          int                `json:"reportedCount"`
	MessageCount           int                `json:"messageCount"`
	LastMessageAt          *time.Time         `json:"lastMessageAt,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two participants
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.User1ID == userID || c.User2ID == userID)
}

// OtherParticipant returns the participant that is not userID
func (c *Conversation) OtherParticipant(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// Writable reports whether new messages may be created at now
func (c *Conversation) Writable(now time.Time) bool {
	if c.Status != ConversationActive {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}
