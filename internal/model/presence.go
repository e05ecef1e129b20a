package model

import "time"

// PresenceStatus is the answer to a presence check for one user
type PresenceStatus struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Activity is an advisory, short-lived signal such as "viewing_profile"
type Activity struct {
	UserID    string         `json:"userId"`
	Activity  string         `json:"activity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ConversationID returns the conversation the activity is scoped to, if any.
// "chatId" is accepted for older clients.
func (a Activity) ConversationID() string {
	for _, key := range []string{"conversationId", "chatId"} {
		if v, ok := a.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
