package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous/internal/model"
)

// seedStore is a Store that tests can populate directly
type seedStore interface {
	Store
	CreateConversation(ctx context.Context, c *model.Conversation) error
	UpsertUser(ctx context.Context, id, firstName, nickname string, suspended bool) error
	Block(ctx context.Context, blockerID, blockedID string) error
}

func TestMain(m *testing.M) {
	// プロジェクトルートの.envを読み込み
	_ = godotenv.Load("../../.env")
	os.Exit(m.Run())
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func memoryStore(t *testing.T) seedStore {
	t.Helper()
	return NewMemoryStore()
}

// setupTestDB テスト用データベース接続をセットアップ
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("Skipping: DB_HOST not set")
	}

	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "3306"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, port, os.Getenv("DB_NAME"))

	testDB, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("Skipping: could not connect to test database: %v", err)
	}
	if err := testDB.Ping(); err != nil {
		t.Skipf("Skipping: could not ping test database: %v", err)
	}

	require.NoError(t, Migrate(context.Background(), testDB))
	cleanupTestDB(testDB)
	t.Cleanup(func() {
		cleanupTestDB(testDB)
		testDB.Close()
	})
	return testDB
}

// cleanupTestDB テストデータを削除
func cleanupTestDB(db *sql.DB) {
	for _, table := range []string{"messages", "conversations", "user_blocks", "users"} {
		db.Exec("DELETE FROM " + table)
	}
}

func mysqlStore(t *testing.T) seedStore {
	t.Helper()
	return NewMySQLStore(setupTestDB(t))
}

var stores = map[string]func(*testing.T) seedStore{
	"memory": memoryStore,
	"mysql":  mysqlStore,
}

func forEachStore(t *testing.T, fn func(t *testing.T, s seedStore)) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func seedConversation(t *testing.T, s seedStore, user1, user2 string, mutate func(*model.Conversation)) *model.Conversation {
	t.Helper()
	c := &model.Conversation{
		ID:        uuid.NewString(),
		User1ID:   user1,
		User2ID:   user2,
		Status:    model.ConversationActive,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

func newMessage(convID, senderID string, at time.Time) *model.Message {
	return &model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		Type:           model.MessageTypeText,
		Content:        "hello",
		CreatedAt:      at,
	}
}

func TestFindConversationIsParticipantScoped(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		c := seedConversation(t, s, "alice", "bob", nil)

		got, err := s.FindConversation(ctx, c.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, model.ConversationActive, got.Status)

		_, err = s.FindConversation(ctx, c.ID, "mallory")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.FindConversation(ctx, uuid.NewString(), "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateMessageUpdatesConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		c := seedConversation(t, s, "alice", "bob", nil)

		at := base.Add(time.Minute)
		require.NoError(t, s.CreateMessage(ctx, newMessage(c.ID, "alice", at)))
		require.NoError(t, s.CreateMessage(ctx, newMessage(c.ID, "bob", at.Add(time.Second))))

		got, err := s.FindConversation(ctx, c.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, got.MessageCount)
		require.NotNil(t, got.LastMessageAt)
		assert.True(t, got.LastMessageAt.Equal(at.Add(time.Second)))
	})
}

func TestCreateMessageRejectsClosedConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		blocked := seedConversation(t, s, "alice", "bob", func(c *model.Conversation) {
			c.Status = model.ConversationBlocked
		})
		expired := seedConversation(t, s, "alice", "carol", func(c *model.Conversation) {
			exp := base.Add(time.Minute)
			c.ExpiresAt = &exp
		})

		assert.ErrorIs(t, s.CreateMessage(ctx, newMessage(blocked.ID, "alice", base.Add(time.Second))), ErrNotWritable)
		assert.ErrorIs(t, s.CreateMessage(ctx, newMessage(expired.ID, "alice", base.Add(time.Hour))), ErrNotWritable)
		// 参加者以外は書き込めない
		assert.ErrorIs(t, s.CreateMessage(ctx, newMessage(expired.ID, "mallory", base.Add(time.Second))), ErrNotWritable)

		got, err := s.FindConversation(ctx, blocked.ID, "alice")
		require.NoError(t, err)
		assert.Zero(t, got.MessageCount)
	})
}

func TestFindMessageIsParticipantScoped(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		c := seedConversation(t, s, "alice", "bob", nil)
		msg := newMessage(c.ID, "alice", base.Add(time.Second))
		require.NoError(t, s.CreateMessage(ctx, msg))

		got, err := s.FindMessage(ctx, msg.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, model.MessageTypeText, got.Type)

		_, err = s.FindMessage(ctx, msg.ID, "mallory")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMarkReadOnlyTransitionsOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		c := seedConversation(t, s, "alice", "bob", nil)
		msg := newMessage(c.ID, "alice", base.Add(time.Second))
		require.NoError(t, s.CreateMessage(ctx, msg))

		changed, err := s.MarkRead(ctx, msg.ID, base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.MarkRead(ctx, msg.ID, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := s.FindMessage(ctx, msg.ID, "bob")
		require.NoError(t, err)
		assert.True(t, got.IsRead)
		require.NotNil(t, got.ReadAt)
		assert.True(t, got.ReadAt.Equal(base.Add(time.Minute)))
	})
}

func TestDeleteMessageRequiresSender(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		c := seedConversation(t, s, "alice", "bob", nil)
		msg := newMessage(c.ID, "alice", base.Add(time.Second))
		require.NoError(t, s.CreateMessage(ctx, msg))

		_, err := s.DeleteMessage(ctx, msg.ID, "bob")
		assert.ErrorIs(t, err, ErrNotFound)

		deleted, err := s.DeleteMessage(ctx, msg.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, c.ID, deleted.ConversationID)

		_, err = s.FindMessage(ctx, msg.ID, "alice")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.FindConversation(ctx, c.ID, "alice")
		require.NoError(t, err)
		assert.Zero(t, got.MessageCount)

		_, err = s.DeleteMessage(ctx, msg.ID, "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCountUnreadAcrossConversations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		ab := seedConversation(t, s, "alice", "bob", nil)
		ca := seedConversation(t, s, "carol", "alice", nil)
		bc := seedConversation(t, s, "bob", "carol", nil)

		at := base.Add(time.Second)
		require.NoError(t, s.CreateMessage(ctx, newMessage(ab.ID, "bob", at)))
		require.NoError(t, s.CreateMessage(ctx, newMessage(ab.ID, "alice", at)))
		require.NoError(t, s.CreateMessage(ctx, newMessage(ca.ID, "carol", at)))
		read := newMessage(ca.ID, "carol", at.Add(time.Second))
		require.NoError(t, s.CreateMessage(ctx, read))
		require.NoError(t, s.CreateMessage(ctx, newMessage(bc.ID, "bob", at)))

		_, err := s.MarkRead(ctx, read.ID, at.Add(time.Minute))
		require.NoError(t, err)

		n, err := s.CountUnread(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.CountUnread(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestListMessagesNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		c := seedConversation(t, s, "alice", "bob", nil)

		var ids []string
		for i := 0; i < 5; i++ {
			m := newMessage(c.ID, "alice", base.Add(time.Duration(i+1)*time.Second))
			require.NoError(t, s.CreateMessage(ctx, m))
			ids = append(ids, m.ID)
		}

		got, err := s.ListMessages(ctx, c.ID, base.Add(time.Hour), 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, ids[4], got[0].ID)
		assert.Equal(t, ids[2], got[2].ID)

		older, err := s.ListMessages(ctx, c.ID, got[2].CreatedAt, 10)
		require.NoError(t, err)
		require.Len(t, older, 2)
		assert.Equal(t, ids[1], older[0].ID)
	})
}

func TestUsersAndBlocks(t *testing.T) {
	forEachStore(t, func(t *testing.T, s seedStore) {
		ctx := context.Background()
		require.NoError(t, s.UpsertUser(ctx, "alice", "Alice", "ali", false))
		require.NoError(t, s.UpsertUser(ctx, "bob", "", "bobby", false))
		require.NoError(t, s.UpsertUser(ctx, "carol", "Carol", "", false))
		require.NoError(t, s.UpsertUser(ctx, "dave", "Dave", "", true))
		require.NoError(t, s.UpsertUser(ctx, "erin", "Erin", "", false))
		require.NoError(t, s.Block(ctx, "alice", "carol"))
		require.NoError(t, s.Block(ctx, "erin", "alice"))

		name, err := s.DisplayName(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)

		name, err = s.DisplayName(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "bobby", name)

		_, err = s.DisplayName(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)

		related, err := s.BlockedRelations(ctx, "alice")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"carol", "erin"}, related)

		visible, err := s.FilterVisible(ctx, "alice", []string{"erin", "bob", "carol", "dave", "ghost", "bob"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, visible)

		visible, err = s.FilterVisible(ctx, "alice", nil)
		require.NoError(t, err)
		assert.Empty(t, visible)
	})
}
