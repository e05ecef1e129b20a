// Package notify hands new-message notifications to the push pipeline.
// Delivery is fire-and-forget: callers log failures and move on.
package notify

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

// NewMessage is what the push pipeline needs to alert an offline recipient
type NewMessage struct {
	RecipientID    string `json:"recipientId"`
	SenderName     string `json:"senderName"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Preview        string `json:"preview"`
}

// Notifier delivers new-message notifications
type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg NewMessage) error
}

// Preview cuts content to at most limit runes
func Preview(content string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit])
}

// LogNotifier only logs; used when no push pipeline is configured
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) NotifyNewMessage(ctx context.Context, msg NewMessage) error {
	n.logger.InfoContext(ctx, "push notification (not delivered, no push pipeline configured)",
		"recipient_id", msg.RecipientID,
		"conversation_id", msg.ConversationID,
		"message_id", msg.MessageID,
	)
	return nil
}
