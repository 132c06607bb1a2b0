package domain

import "context"

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, folderID string, limit int) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	DeleteConversation(ctx context.Context, id string) error
}

// FolderStore persists folders.
type FolderStore interface {
	CreateFolder(ctx context.Context, folder *Folder) error
	GetFolder(ctx context.Context, id string) (*Folder, error)
	ListFolders(ctx context.Context) ([]*Folder, error)
	UpdateFolder(ctx context.Context, folder *Folder) error
	DeleteFolder(ctx context.Context, id string) error
}

// MessageStore persists messages and their tool call records.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// TruncateAfter drops messageID and every later message of the
	// conversation atomically.
	TruncateAfter(ctx context.Context, conversationID, messageID string) error
}

// Store combines all persistence the engine needs.
type Store interface {
	ConversationStore
	FolderStore
	MessageStore
	Close() error
}
