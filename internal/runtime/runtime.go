// Package runtime defines the contract between the turn engine and the
// agent runtime: an event source yielding stream chunks per active turn and
// a response channel carrying human decisions back.
package runtime

import (
	"context"

	"github.com/joss/turnstream/internal/domain"
)

// TurnRequest starts one turn of a conversation.
type TurnRequest struct {
	ConversationID string            `json:"conversationID"`
	Prompt         string            `json:"prompt"`
	History        []*domain.Message `json:"history,omitempty"`
	Model          string            `json:"model,omitempty"`
	PermissionMode string            `json:"permissionMode,omitempty"`
	MaxBudgetUSD   float64           `json:"maxBudgetUSD,omitempty"`
	MaxTurns       int               `json:"maxTurns,omitempty"`
}

// Decision answers a pending approval or ask_user request. Exactly one of
// Decision or Answers is set, matching the request kind.
type Decision struct {
	RequestID string                  `json:"requestID"`
	Decision  domain.ApprovalDecision `json:"decision,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Answers   map[string]string       `json:"answers,omitempty"`
}

// Runtime is the agent runtime collaborator. StartTurn returns the ordered
// chunk channel for the turn; the runtime closes it after the terminal
// chunk. Cancelling ctx signals the runtime to abort the turn.
type Runtime interface {
	StartTurn(ctx context.Context, req TurnRequest) (<-chan domain.StreamChunk, error)
	Respond(ctx context.Context, d Decision) error
}
