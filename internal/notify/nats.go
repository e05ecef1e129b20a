package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const PushStream = "PUSH"

// NATSNotifier publishes notifications to a JetStream subject consumed by the
// push delivery worker.
type NATSNotifier struct {
	js      jetstream.JetStream
	subject string
	logger  *slog.Logger
}

// NewNATSNotifier makes sure the PUSH stream exists and covers subject
func NewNATSNotifier(ctx context.Context, js jetstream.JetStream, subject string, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")

	stream, err := js.Stream(ctx, PushStream)
	if err != nil {
		logger.Info("stream not found, creating", "stream", PushStream)
		cfg := jetstream.StreamConfig{
			Name:        PushStream,
			Description: "Pending push notifications",
			Subjects:    []string{streamSubjects(subject)},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to create stream '%s': %w", PushStream, err)
		}
	} else {
		logger.Info("found existing stream", "stream", stream.CachedInfo().Config.Name)
	}

	return &NATSNotifier{js: js, subject: subject, logger: logger}, nil
}

func (n *NATSNotifier) NotifyNewMessage(ctx context.Context, msg NewMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// メッセージIDで重複排除する
	if _, err := n.js.Publish(ctx, n.subject, data, jetstream.WithMsgID(msg.MessageID)); err != nil {
		return fmt.Errorf("failed to publish notification to subject '%s': %w", n.subject, err)
	}

	n.logger.DebugContext(ctx, "published push notification",
		"subject", n.subject,
		"recipient_id", msg.RecipientID,
		"message_id", msg.MessageID,
	)
	return nil
}

// streamSubjects turns "push.new_message" into "push.>"
func streamSubjects(subject string) string {
	prefix, _, ok := strings.Cut(subject, ".")
	if !ok {
		return subject
	}
	return prefix + ".>"
}
