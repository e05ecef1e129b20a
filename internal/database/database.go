package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"rendezvous/internal/config"
	"rendezvous/internal/model"
)

var (
	// ErrNotFound covers both "does not exist" and "not visible to this user".
	ErrNotFound = errors.New("not found")
	// ErrNotWritable means the conversation exists but no longer accepts messages.
	ErrNotWritable = errors.New("conversation not writable")
)

// Store is the durable relational store. Every lookup that takes a userID is
// participant-scoped.
type Store interface {
	FindConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	// CreateMessage inserts msg and bumps the conversation summary in one
	// transaction. The conversation must still be writable and msg.SenderID
	// must still be a participant when the transaction runs.
	CreateMessage(ctx context.Context, msg *model.Message) error
	FindMessage(ctx context.Context, messageID, userID string) (*model.Message, error)
	// MarkRead reports whether the message changed from unread to read.
	MarkRead(ctx context.Context, messageID string, readAt time.Time) (bool, error)
	// DeleteMessage removes the message only if senderID wrote it.
	DeleteMessage(ctx context.Context, messageID, senderID string) (*model.Message, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]model.Message, error)

	DisplayName(ctx context.Context, userID string) (string, error)
	// BlockedRelations lists users blocked by or blocking userID.
	BlockedRelations(ctx context.Context, userID string) ([]string, error)
	// FilterVisible keeps the ids viewerID may see: known, not suspended,
	// and with no block in either direction. Input order is preserved.
	FilterVisible(ctx context.Context, viewerID string, userIDs []string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Init initializes database connection
func Init(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 接続テスト
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		"host", cfg.DBHost,
		"port", cfg.DBPort,
		"database", cfg.DBName,
	)
	return db, nil
}

// Migrate creates the tables this service reads and writes if they are missing
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
