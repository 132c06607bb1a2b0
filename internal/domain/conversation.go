package domain

import "time"

// Conversation groups the messages of one ongoing chat.
type Conversation struct {
	ID        string    `json:"id"`
	FolderID  string    `json:"folderID,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Folder organizes conversations.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
