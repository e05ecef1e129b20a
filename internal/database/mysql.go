package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"rendezvous/internal/model"
)

const conversationColumns = `id, user1_id, user2_id, status, is_temporary, is_permanent,
	is_converted_to_permanent, expires_at, reported_count, message_count,
	last_message_at, created_at, updated_at`

const messageColumns = `id, conversation_id, sender_id, message_type, content,
	is_read, is_deleted, created_at, read_at`

// MySQLStore implements Store on MySQL/MariaDB
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		c                    model.Conversation
		status               string
		expiresAt, lastMsgAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &status, &c.IsTemporary, &c.IsPermanent,
		&c.IsConvertedToPermanent, &expiresAt, &c.ReportedCount, &c.MessageCount,
		&lastMsgAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.ConversationStatus(status)
	c.ExpiresAt = nullTime(expiresAt)
	c.LastMessageAt = nullTime(lastMsgAt)
	return &c, nil
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m      model.Message
		typ    string
		readAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &typ, &m.Content,
		&m.IsRead, &m.IsDeleted, &m.CreatedAt, &readAt)
	if err != nil {
		return nil, err
	}
	m.Type = model.MessageType(typ)
	m.ReadAt = nullTime(readAt)
	return &m, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *MySQLStore) FindConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE id = ? AND (user1_id = ? OR user2_id = ?)`,
		conversationID, userID, userID)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "database.FindConversation.Scan")
	}
	return c, nil
}

// CreateConversation inserts a conversation. Conversations are normally
// created by the matching service; this exists for seeding and tests.
func (s *MySQLStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.User1ID, c.User2ID, string(c.Status), c.IsTemporary, c.IsPermanent,
		c.IsConvertedToPermanent, toNullTime(c.ExpiresAt), c.ReportedCount, c.MessageCount,
		toNullTime(c.LastMessageAt), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "database.CreateConversation.Exec")
	}
	return nil
}

func (s *MySQLStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "database.CreateMessage.BeginTx")
	}
	defer tx.Rollback()

	// 会話行を先にロックして、状態チェックとカウンタ更新を同時に行う
	res, err := tx.ExecContext(ctx,
		`UPDATE conversations
		 SET last_message_at = ?, message_count = message_count + 1, updated_at = ?
		 WHERE id = ? AND status = 'ACTIVE'
		   AND (expires_at IS NULL OR expires_at > ?)
		   AND (user1_id = ? OR user2_id = ?)`,
		msg.CreatedAt.UTC(), msg.CreatedAt.UTC(), msg.ConversationID,
		msg.CreatedAt.UTC(), msg.SenderID, msg.SenderID)
	if err != nil {
		return errors.Wrap(err, "database.CreateMessage.UpdateConversation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "database.CreateMessage.RowsAffected")
	}
	if n == 0 {
		return ErrNotWritable
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.Type), msg.Content,
		msg.IsRead, msg.IsDeleted, msg.CreatedAt.UTC(), toNullTime(msg.ReadAt))
	if err != nil {
		return errors.Wrap(err, "database.CreateMessage.InsertMessage")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "database.CreateMessage.Commit")
	}
	return nil
}

func (s *MySQLStore) FindMessage(ctx context.Context, messageID, userID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.message_type, m.content,
		        m.is_read, m.is_deleted, m.created_at, m.read_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.id = ? AND (c.user1_id = ? OR c.user2_id = ?)`,
		messageID, userID, userID)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "database.FindMessage.Scan")
	}
	return m, nil
}

func (s *MySQLStore) MarkRead(ctx context.Context, messageID string, readAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`,
		readAt.UTC(), messageID)
	if err != nil {
		return false, errors.Wrap(err, "database.MarkRead.Exec")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "database.MarkRead.RowsAffected")
	}
	return n > 0, nil
}

func (s *MySQLStore) DeleteMessage(ctx context.Context, messageID, senderID string) (*model.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "database.DeleteMessage.BeginTx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? AND sender_id = ? FOR UPDATE`,
		messageID, senderID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "database.DeleteMessage.Scan")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return nil, errors.Wrap(err, "database.DeleteMessage.Delete")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations
		 SET message_count = GREATEST(message_count - 1, 0), updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), m.ConversationID)
	if err != nil {
		return nil, errors.Wrap(err, "database.DeleteMessage.UpdateConversation")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "database.DeleteMessage.Commit")
	}
	return m, nil
}

func (s *MySQLStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE (c.user1_id = ? OR c.user2_id = ?)
		   AND m.sender_id <> ?
		   AND m.is_read = 0`,
		userID, userID, userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "database.CountUnread.Scan")
	}
	return n, nil
}

func (s *MySQLStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND created_at < ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		conversationID, before.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "database.ListMessages.Query")
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "database.ListMessages.Scan")
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "database.ListMessages.Rows")
	}
	return messages, nil
}

func (s *MySQLStore) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(NULLIF(first_name, ''), NULLIF(nickname, ''), '') FROM users WHERE id = ?`,
		userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "database.DisplayName.Scan")
	}
	return name, nil
}

func (s *MySQLStore) BlockedRelations(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT blocked_id FROM user_blocks WHERE blocker_id = ?
		 UNION
		 SELECT blocker_id FROM user_blocks WHERE blocked_id = ?`,
		userID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "database.BlockedRelations.Query")
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "database.BlockedRelations.Scan")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "database.BlockedRelations.Rows")
	}
	return ids, nil
}

func (s *MySQLStore) FilterVisible(ctx context.Context, viewerID string, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return []string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(userIDs)), ", ")
	args := make([]any, 0, len(userIDs)+2)
	for _, id := range userIDs {
		args = append(args, id)
	}
	args = append(args, viewerID, viewerID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id FROM users u
		 WHERE u.id IN (`+placeholders+`)
		   AND u.is_blocked = 0
		   AND NOT EXISTS (
		     SELECT 1 FROM user_blocks b
		     WHERE (b.blocker_id = ? AND b.blocked_id = u.id)
		        OR (b.blocker_id = u.id AND b.blocked_id = ?)
		   )`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "database.FilterVisible.Query")
	}
	defer rows.Close()

	visible := make(map[string]struct{}, len(userIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "database.FilterVisible.Scan")
		}
		visible[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "database.FilterVisible.Rows")
	}

	return keepVisible(userIDs, visible), nil
}

func keepVisible(userIDs []string, visible map[string]struct{}) []string {
	out := make([]string, 0, len(visible))
	seen := make(map[string]struct{}, len(visible))
	for _, id := range userIDs {
		if _, ok := visible[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UpsertUser writes the profile fields this service reads. Used for seeding and tests.
func (s *MySQLStore) UpsertUser(ctx context.Context, id, firstName, nickname string, suspended bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, first_name, nickname, is_blocked) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE first_name = VALUES(first_name), nickname = VALUES(nickname),
		   is_blocked = VALUES(is_blocked)`,
		id, firstName, nickname, suspended)
	if err != nil {
		return errors.Wrap(err, "database.UpsertUser.Exec")
	}
	return nil
}

// Block records blockerID blocking blockedID. Used for seeding and tests.
func (s *MySQLStore) Block(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO user_blocks (blocker_id, blocked_id) VALUES (?, ?)`,
		blockerID, blockedID)
	if err != nil {
		return errors.Wrap(err, "database.Block.Exec")
	}
	return nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
