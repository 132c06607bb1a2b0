// Package engine implements the agent turn streaming engine: it folds the
// runtime's chunk stream into per-conversation turn sessions, gates mid-turn
// approval and clarification requests, and flattens finished turns into
// persisted messages.
package engine

import (
	"sort"
	"time"

	"github.com/joss/turnstream/internal/domain"
)

// TurnStatus is the lifecycle state of a turn session.
type TurnStatus string

const (
	StatusPending   TurnStatus = "pending"
	StatusStreaming TurnStatus = "streaming"
	StatusStopped   TurnStatus = "stopped"
	StatusDone      TurnStatus = "done"
	StatusError     TurnStatus = "error"
)

// TurnSession is the assembled state of one turn attempt. It is mutated
// exclusively by chunks of its own generation, serialized by the controller.
type TurnSession struct {
	ConversationID   string
	Generation       uint64
	Status           TurnStatus
	Parts            []domain.Part
	PendingApprovals map[string]domain.ApprovalRequest
	PendingAskUser   map[string]domain.AskUserRequest
	Err              *domain.StreamError
	StartedAt        time.Time

	// open is the index of the part still accepting in-place mutation
	// (trailing text part, or a running tool part), -1 when none.
	open int
	// mcp is the index of the turn's single mcp_status part, -1 when none.
	mcp int
	// tools maps tool id to part index for the lifecycle tracker.
	tools map[string]int
	// requests maps approval/ask_user request id to part index. Entries
	// survive resolution so replayed chunks stay no-ops.
	requests map[string]int
}

func newTurnSession(conversationID string, generation uint64) *TurnSession {
	return &TurnSession{
		ConversationID:   conversationID,
		Generation:       generation,
		Status:           StatusPending,
		PendingApprovals: make(map[string]domain.ApprovalRequest),
		PendingAskUser:   make(map[string]domain.AskUserRequest),
		StartedAt:        time.Now(),
		open:             -1,
		mcp:              -1,
		tools:            make(map[string]int),
		requests:         make(map[string]int),
	}
}

func (s *TurnSession) terminal() bool {
	return s.Status == StatusStopped || s.Status == StatusDone || s.Status == StatusError
}

func (s *TurnSession) closeOpen() { s.open = -1 }

// Snapshot is an immutable copy of a turn session for consumers. Pending
// requests are ordered by arrival, oldest first.
type Snapshot struct {
	ConversationID   string
	Generation       uint64
	Status           TurnStatus
	Parts            []domain.Part
	PendingApprovals []domain.ApprovalRequest
	PendingAskUser   []domain.AskUserRequest
	Err              *domain.StreamError
}

// Streaming reports whether the turn is still accepting chunks.
func (s Snapshot) Streaming() bool {
	return s.Status == StatusPending || s.Status == StatusStreaming
}

func (s *TurnSession) snapshot() Snapshot {
	snap := Snapshot{
		ConversationID: s.ConversationID,
		Generation:     s.Generation,
		Status:         s.Status,
	}
	if s.Err != nil {
		errCopy := *s.Err
		snap.Err = &errCopy
	}

	snap.Parts = make([]domain.Part, len(s.Parts))
	for i, p := range s.Parts {
		snap.Parts[i] = clonePart(p)
	}

	// Each pending request owns a part, and parts are append-only, so the
	// part index is the arrival order.
	for _, req := range s.PendingApprovals {
		req.ToolInput = cloneAnyMap(req.ToolInput)
		snap.PendingApprovals = append(snap.PendingApprovals, req)
	}
	sort.Slice(snap.PendingApprovals, func(i, j int) bool {
		return s.requests[snap.PendingApprovals[i].ID] < s.requests[snap.PendingApprovals[j].ID]
	})

	for _, req := range s.PendingAskUser {
		req.Questions = cloneQuestions(req.Questions)
		snap.PendingAskUser = append(snap.PendingAskUser, req)
	}
	sort.Slice(snap.PendingAskUser, func(i, j int) bool {
		return s.requests[snap.PendingAskUser[i].ID] < s.requests[snap.PendingAskUser[j].ID]
	})

	return snap
}

func clonePart(p domain.Part) domain.Part {
	switch part := p.(type) {
	case domain.ToolPart:
		part.Input = cloneAnyMap(part.Input)
		return part
	case domain.ApprovalPart:
		part.ToolInput = cloneAnyMap(part.ToolInput)
		return part
	case domain.AskUserPart:
		part.Questions = cloneQuestions(part.Questions)
		part.Answers = cloneStringMap(part.Answers)
		return part
	case domain.MCPStatusPart:
		part.Servers = append([]domain.MCPServerStatus(nil), part.Servers...)
		return part
	default:
		return p
	}
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneQuestions(qs []domain.Question) []domain.Question {
	if qs == nil {
		return nil
	}
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
