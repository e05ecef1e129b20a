package database

// users と user_blocks は本体アプリが所有する。ここでは読むだけ。
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		first_name VARCHAR(100) NULL,
		nickname VARCHAR(100) NULL,
		is_blocked TINYINT(1) NOT NULL DEFAULT 0
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS user_blocks (
		blocker_id VARCHAR(36) NOT NULL,
		blocked_id VARCHAR(36) NOT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		PRIMARY KEY (blocker_id, blocked_id),
		KEY idx_user_blocks_blocked (blocked_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		user1_id VARCHAR(36) NOT NULL,
		user2_id VARCHAR(36) NOT NULL,
		status ENUM('ACTIVE','EXPIRED','BLOCKED','DELETED') NOT NULL DEFAULT 'ACTIVE',
		is_temporary TINYINT(1) NOT NULL DEFAULT 0,
		is_permanent TINYINT(1) NOT NULL DEFAULT 0,
		is_converted_to_permanent TINYINT(1) NOT NULL DEFAULT 0,
		expires_at DATETIME(3) NULL,
		reported_count INT NOT NULL DEFAULT 0,
		message_count INT NOT NULL DEFAULT 0,
		last_message_at DATETIME(3) NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		KEY idx_conversations_user1 (user1_id),
		KEY idx_conversations_user2 (user2_id),
		CONSTRAINT chk_conversations_distinct CHECK (user1_id <> user2_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		conversation_id VARCHAR(36) NOT NULL,
		sender_id VARCHAR(36) NOT NULL,
		message_type ENUM('TEXT','VOICE','IMAGE','VIDEO','DRAWING') NOT NULL DEFAULT 'TEXT',
		content TEXT NOT NULL,
		is_read TINYINT(1) NOT NULL DEFAULT 0,
		is_deleted TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		read_at DATETIME(3) NULL,
		KEY idx_messages_conversation_created (conversation_id, created_at),
		KEY idx_messages_unread (conversation_id, is_read, sender_id),
		CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id)
			REFERENCES conversations (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}
