package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a persisted conversation entry. Assistant messages flattened
// from a stopped turn carry Interrupted so renderers can mark them.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationID"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	ToolCalls      []ToolCall `json:"toolCalls,omitempty"`
	Interrupted    bool       `json:"interrupted,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ToolCallStatus is the terminal state of a persisted tool call.
type ToolCallStatus string

const (
	ToolCallDone  ToolCallStatus = "done"
	ToolCallError ToolCallStatus = "error"
)

// ToolCall is the durable form of a tool part. Input and Output hold
// serialized JSON; records are immutable after persistence.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  string         `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Status ToolCallStatus `json:"status"`
}
