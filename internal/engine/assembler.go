package engine

import (
	"fmt"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/logging"
	ustrings "github.com/joss/turnstream/internal/strings"
)

// apply folds one chunk into the session's part sequence. Replaying a chunk
// against a session already advanced past it is a no-op: duplicates are
// detected through part, tool, and request identifiers. Reducer-level
// anomalies (unknown tool id, duplicate tool_start) are absorbed and logged,
// never surfaced, since they stem from benign at-least-once delivery.
func (s *TurnSession) apply(chunk domain.StreamChunk, log *logging.Logger) {
	if s.terminal() {
		return
	}
	if s.Status == StatusPending {
		s.Status = StatusStreaming
	}

	switch chunk.Type {
	case domain.ChunkText:
		s.applyText(chunk)
	case domain.ChunkToolStart:
		s.applyToolStart(chunk, log)
	case domain.ChunkToolInput:
		s.applyToolInput(chunk, log)
	case domain.ChunkToolResult:
		s.applyToolResult(chunk, log)
	case domain.ChunkToolApproval:
		s.applyApproval(chunk, log)
	case domain.ChunkAskUser:
		s.applyAskUser(chunk, log)
	case domain.ChunkMCPStatus:
		s.applyMCPStatus(chunk)
	case domain.ChunkError:
		s.applyError(chunk)
	case domain.ChunkDone:
		s.closeOpen()
		s.Status = StatusDone
	default:
		log.Warn("unknown_chunk_type", map[string]any{"type": string(chunk.Type)}, nil)
	}
}

func (s *TurnSession) applyText(chunk domain.StreamChunk) {
	if s.open >= 0 {
		if part, ok := s.Parts[s.open].(domain.TextPart); ok {
			part.Text += chunk.Text
			s.Parts[s.open] = part
			return
		}
	}
	s.closeOpen()
	s.Parts = append(s.Parts, domain.TextPart{Text: chunk.Text})
	s.open = len(s.Parts) - 1
}

func (s *TurnSession) applyToolStart(chunk domain.StreamChunk, log *logging.Logger) {
	if _, exists := s.tools[chunk.ToolID]; exists {
		log.Warn("duplicate_tool_start", map[string]any{"tool": chunk.ToolID}, nil)
		return
	}
	s.closeOpen()
	s.Parts = append(s.Parts, domain.ToolPart{
		ID:      chunk.ToolID,
		Name:    chunk.ToolName,
		Status:  domain.ToolRunning,
		Summary: toolSummary(chunk.ToolName, nil),
	})
	idx := len(s.Parts) - 1
	s.tools[chunk.ToolID] = idx
	s.open = idx
}

func (s *TurnSession) applyToolInput(chunk domain.StreamChunk, log *logging.Logger) {
	idx, ok := s.tools[chunk.ToolID]
	if !ok {
		log.Debug("tool_input_without_start", map[string]any{"tool": chunk.ToolID})
		return
	}
	part := s.Parts[idx].(domain.ToolPart)
	if part.Status != domain.ToolRunning {
		// Late snapshot after the result; the result already won.
		return
	}
	// Each snapshot carries the cumulative input, so reassign rather than merge.
	part.Input = chunk.ToolInput
	part.Summary = toolSummary(part.Name, part.Input)
	s.Parts[idx] = part
}

func (s *TurnSession) applyToolResult(chunk domain.StreamChunk, log *logging.Logger) {
	idx, ok := s.tools[chunk.ToolID]
	if !ok {
		log.Debug("tool_result_without_start", map[string]any{"tool": chunk.ToolID})
		return
	}
	part := s.Parts[idx].(domain.ToolPart)
	if part.Status == domain.ToolDone {
		return
	}
	part.Status = domain.ToolDone
	part.Output = chunk.ToolOutput
	part.IsError = chunk.ToolIsError
	s.Parts[idx] = part
	if s.open == idx {
		s.closeOpen()
	}
}

func (s *TurnSession) applyApproval(chunk domain.StreamChunk, log *logging.Logger) {
	req := chunk.Approval
	if req == nil {
		log.Warn("approval_chunk_without_request", nil, nil)
		return
	}
	if _, seen := s.requests[req.ID]; seen {
		return
	}
	s.closeOpen()
	s.Parts = append(s.Parts, domain.ApprovalPart{
		RequestID: req.ID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
	})
	s.requests[req.ID] = len(s.Parts) - 1
	s.PendingApprovals[req.ID] = *req
}

func (s *TurnSession) applyAskUser(chunk domain.StreamChunk, log *logging.Logger) {
	req := chunk.Ask
	if req == nil {
		log.Warn("ask_user_chunk_without_request", nil, nil)
		return
	}
	if _, seen := s.requests[req.ID]; seen {
		return
	}
	s.closeOpen()
	s.Parts = append(s.Parts, domain.AskUserPart{
		RequestID: req.ID,
		Questions: req.Questions,
	})
	s.requests[req.ID] = len(s.Parts) - 1
	s.PendingAskUser[req.ID] = *req
}

// applyMCPStatus treats server connectivity as a level signal: the latest
// snapshot replaces the previous one instead of accumulating parts.
func (s *TurnSession) applyMCPStatus(chunk domain.StreamChunk) {
	if s.mcp >= 0 {
		s.Parts[s.mcp] = domain.MCPStatusPart{Servers: chunk.Servers}
		return
	}
	s.Parts = append(s.Parts, domain.MCPStatusPart{Servers: chunk.Servers})
	s.mcp = len(s.Parts) - 1
}

func (s *TurnSession) applyError(chunk domain.StreamChunk) {
	s.closeOpen()
	s.Status = StatusError
	if chunk.Err != nil {
		errCopy := *chunk.Err
		if errCopy.Kind == "" {
			errCopy.Kind = domain.ErrorExecution
		}
		s.Err = &errCopy
	} else {
		s.Err = &domain.StreamError{Kind: domain.ErrorExecution, Message: "unspecified runtime error"}
	}
}

// toolSummary builds the human-readable one-liner shown next to a tool part.
func toolSummary(name string, input map[string]any) string {
	if arg := primaryArg(input); arg != "" {
		return fmt.Sprintf("%s: %s", name, ustrings.Truncate(arg, 60))
	}
	if len(input) > 0 {
		return fmt.Sprintf("%s: %s", name, ustrings.TruncateMap(input, 60))
	}
	return name
}

func primaryArg(input map[string]any) string {
	for _, key := range []string{"command", "path", "file_path", "url", "query"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
