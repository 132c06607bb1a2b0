package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/turnstream/internal/domain"
)

// flattenParts collapses an assembled part sequence into the durable form:
// text parts concatenate in delivery order into the message body; tool parts
// become ToolCall records keyed by id. A tool still running when the turn
// ended has no trustworthy output and persists as an error.
func flattenParts(parts []domain.Part) (string, []domain.ToolCall) {
	var text strings.Builder
	var calls []domain.ToolCall

	for _, p := range parts {
		switch part := p.(type) {
		case domain.TextPart:
			text.WriteString(part.Text)
		case domain.ToolPart:
			status := domain.ToolCallDone
			if part.Status != domain.ToolDone || part.IsError {
				status = domain.ToolCallError
			}
			input := ""
			if len(part.Input) > 0 {
				if data, err := json.Marshal(part.Input); err == nil {
					input = string(data)
				}
			}
			calls = append(calls, domain.ToolCall{
				ID:     part.ID,
				Name:   part.Name,
				Input:  input,
				Output: part.Output,
				Status: status,
			})
		}
	}
	return text.String(), calls
}

// persistTurn writes the terminal session as one assistant message plus its
// tool call records. A turn that assembled nothing user-visible leaves no
// record.
func (c *Controller) persistTurn(ctx context.Context, sess *TurnSession) error {
	text, calls := flattenParts(sess.Parts)
	if text == "" && len(calls) == 0 {
		return nil
	}

	msg := &domain.Message{
		ID:             ulid.Make().String(),
		ConversationID: sess.ConversationID,
		Role:           domain.RoleAssistant,
		Content:        text,
		ToolCalls:      calls,
		Interrupted:    sess.Status == StatusStopped,
		CreatedAt:      time.Now(),
	}
	if err := c.store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}
	return nil
}
