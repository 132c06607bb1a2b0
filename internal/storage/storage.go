// Package storage implements the durable store on sqlite. Messages carry a
// monotone sequence column so history order survives same-millisecond
// inserts, and tool calls cascade with their message.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/turnstream/internal/domain"
)

type Storage struct {
	db   *sql.DB
	path string
}

// Verify Storage implements domain.Store
var _ domain.Store = (*Storage)(nil)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

func New(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "turnstream.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Storage{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		folder_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_folder ON conversations(folder_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		interrupted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		PRIMARY KEY (message_id, position),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Conversation operations

func (s *Storage) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, folder_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.FolderID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	return err
}

func (s *Storage) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.FolderID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Storage) ListConversations(ctx context.Context, folderID string, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, folder_id, title, created_at, updated_at
		FROM conversations WHERE folder_id = ? ORDER BY updated_at DESC LIMIT ?
	`, folderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.FolderID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

func (s *Storage) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET folder_id = ?, title = ?, updated_at = ? WHERE id = ?
	`, conv.FolderID, conv.Title, conv.UpdatedAt, conv.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrNotFound)
	}
	return err
}

func (s *Storage) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// Folder operations

func (s *Storage) CreateFolder(ctx context.Context, folder *domain.Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, name, created_at) VALUES (?, ?, ?)
	`, folder.ID, folder.Name, folder.CreatedAt)
	return err
}

func (s *Storage) GetFolder(ctx context.Context, id string) (*domain.Folder, error) {
	var folder domain.Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM folders WHERE id = ?
	`, id).Scan(&folder.ID, &folder.Name, &folder.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (s *Storage) ListFolders(ctx context.Context) ([]*domain.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM folders ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []*domain.Folder
	for rows.Next() {
		var folder domain.Folder
		if err := rows.Scan(&folder.ID, &folder.Name, &folder.CreatedAt); err != nil {
			return nil, err
		}
		folders = append(folders, &folder)
	}
	return folders, rows.Err()
}

func (s *Storage) UpdateFolder(ctx context.Context, folder *domain.Folder) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE folders SET name = ? WHERE id = ?
	`, folder.Name, folder.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("folder %s: %w", folder.ID, ErrNotFound)
	}
	return err
}

func (s *Storage) DeleteFolder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	return err
}

// Message operations

func (s *Storage) CreateMessage(ctx context.Context, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, interrupted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Interrupted, msg.CreatedAt)
	if err != nil {
		return err
	}

	for i, call := range msg.ToolCalls {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tool_calls (id, message_id, position, name, input, output, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, call.ID, msg.ID, i, call.Name, call.Input, call.Output, call.Status)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Storage) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, interrupted, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Interrupted, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, msg := range messages {
		calls, err := s.toolCalls(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		msg.ToolCalls = calls
	}
	return messages, nil
}

func (s *Storage) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, role, content, interrupted, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1
	`, conversationID).Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Interrupted, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s has no messages: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	calls, err := s.toolCalls(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	msg.ToolCalls = calls
	return &msg, nil
}

func (s *Storage) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

// TruncateAfter drops messageID and every later message of the conversation
// in one transaction, keyed on the insert sequence rather than timestamps.
func (s *Storage) TruncateAfter(ctx context.Context, conversationID, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT seq FROM messages WHERE id = ? AND conversation_id = ?
	`, messageID, conversationID).Scan(&seq)
	if err == sql.ErrNoRows {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id = ? AND seq >= ?
	`, conversationID, seq)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Storage) toolCalls(ctx context.Context, messageID string) ([]domain.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, input, output, status
		FROM tool_calls WHERE message_id = ? ORDER BY position ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.ToolCall
	for rows.Next() {
		var call domain.ToolCall
		if err := rows.Scan(&call.ID, &call.Name, &call.Input, &call.Output, &call.Status); err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
