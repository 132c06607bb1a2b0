// Package domain holds the shared types of the turn streaming engine:
// runtime stream chunks, assembled parts, persisted messages, and the
// store interfaces the engine depends on.
package domain

// ChunkType discriminates StreamChunk variants.
type ChunkType string

const (
	ChunkText         ChunkType = "text"
	ChunkToolStart    ChunkType = "tool_start"
	ChunkToolInput    ChunkType = "tool_input"
	ChunkToolResult   ChunkType = "tool_result"
	ChunkToolApproval ChunkType = "tool_approval"
	ChunkAskUser      ChunkType = "ask_user"
	ChunkMCPStatus    ChunkType = "mcp_status"
	ChunkError        ChunkType = "error"
	ChunkDone         ChunkType = "done"
)

// StreamChunk is one incremental event emitted by the agent runtime during
// a turn. Only the fields matching Type are populated.
type StreamChunk struct {
	Type ChunkType `json:"type"`

	// ChunkText
	Text string `json:"text,omitempty"`

	// ChunkToolStart / ChunkToolInput / ChunkToolResult.
	// ToolInput carries the cumulative input so far, not a delta: each
	// snapshot replaces the previous one.
	ToolID      string         `json:"toolID,omitempty"`
	ToolName    string         `json:"toolName,omitempty"`
	ToolInput   map[string]any `json:"toolInput,omitempty"`
	ToolOutput  string         `json:"toolOutput,omitempty"`
	ToolIsError bool           `json:"toolIsError,omitempty"`

	// ChunkToolApproval
	Approval *ApprovalRequest `json:"approval,omitempty"`

	// ChunkAskUser
	Ask *AskUserRequest `json:"ask,omitempty"`

	// ChunkMCPStatus: the full server list, replacing any previous snapshot.
	Servers []MCPServerStatus `json:"servers,omitempty"`

	// ChunkError
	Err *StreamError `json:"error,omitempty"`
}

// Terminal reports whether this chunk ends the turn.
func (c StreamChunk) Terminal() bool {
	return c.Type == ChunkDone || c.Type == ChunkError
}

// ApprovalRequest asks the human to allow or deny a proposed tool call.
type ApprovalRequest struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"toolName"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
}

// AskUserRequest is a mid-turn clarification with selectable options.
type AskUserRequest struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Question is one entry of an ask_user request.
type Question struct {
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

// MCPServerStatus reports connectivity of one auxiliary tool server.
type MCPServerStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// ApprovalDecision is the human's answer to an approval request.
type ApprovalDecision string

const (
	DecisionAllow ApprovalDecision = "allow"
	DecisionDeny  ApprovalDecision = "deny"
)
