package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joss/turnstream/internal/domain"
)

// memStore is an in-memory domain.Store for engine tests.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	folders       map[string]*domain.Folder
	messages      []*domain.Message

	createMessageErr error
	truncateErr      error
	deleteFolderErr  error
}

var errStoreNotFound = errors.New("not found")

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]*domain.Conversation),
		folders:       make(map[string]*domain.Folder),
	}
}

func (m *memStore) addConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[id] = &domain.Conversation{
		ID: id, Title: id, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

func (m *memStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, errStoreNotFound
	}
	cp := *conv
	return &cp, nil
}

func (m *memStore) ListConversations(_ context.Context, folderID string, _ int) ([]*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Conversation
	for _, conv := range m.conversations {
		if conv.FolderID == folderID {
			cp := *conv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdateConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conv.ID]; !ok {
		return errStoreNotFound
	}
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *memStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	return nil
}

func (m *memStore) CreateFolder(_ context.Context, folder *domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *folder
	m.folders[folder.ID] = &cp
	return nil
}

func (m *memStore) GetFolder(_ context.Context, id string) (*domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[id]
	if !ok {
		return nil, errStoreNotFound
	}
	cp := *folder
	return &cp, nil
}

func (m *memStore) ListFolders(_ context.Context) ([]*domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Folder
	for _, folder := range m.folders {
		cp := *folder
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateFolder(_ context.Context, folder *domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder.ID]; !ok {
		return errStoreNotFound
	}
	cp := *folder
	m.folders[folder.ID] = &cp
	return nil
}

func (m *memStore) DeleteFolder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteFolderErr != nil {
		return m.deleteFolderErr
	}
	delete(m.folders, id)
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createMessageErr != nil {
		return m.createMessageErr
	}
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID string) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) LastMessage(_ context.Context, conversationID string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].ConversationID == conversationID {
			cp := *m.messages[i]
			return &cp, nil
		}
	}
	return nil, errStoreNotFound
}

func (m *memStore) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return errStoreNotFound
}

func (m *memStore) TruncateAfter(_ context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.truncateErr != nil {
		return m.truncateErr
	}
	idx := -1
	for i, msg := range m.messages {
		if msg.ID == messageID && msg.ConversationID == conversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errStoreNotFound
	}
	var kept []*domain.Message
	for i, msg := range m.messages {
		if msg.ConversationID == conversationID && i >= idx {
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return nil
}

func (m *memStore) Close() error { return nil }

// messagesFor returns the conversation's messages in insertion order.
func (m *memStore) messagesFor(conversationID string) []*domain.Message {
	msgs, _ := m.ListMessages(context.Background(), conversationID)
	return msgs
}
