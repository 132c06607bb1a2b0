package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joss/turnstream/internal/domain"
)

func TestRenderPartsTextAndTools(t *testing.T) {
	out := renderParts([]domain.Part{
		domain.TextPart{Text: "Checking the files."},
		domain.ToolPart{
			ID: "t1", Name: "Bash", Status: domain.ToolDone,
			Summary: "Bash: ls", Output: "three files",
		},
		domain.ToolPart{
			ID: "t2", Name: "Read", Status: domain.ToolRunning, Summary: "Read: go.mod",
		},
	})

	assert.Contains(t, out, "Checking the files.")
	assert.Contains(t, out, "Bash: ls")
	assert.Contains(t, out, "three files")
	assert.Contains(t, out, "Read: go.mod")
}

func TestRenderPartsFailedTool(t *testing.T) {
	out := renderParts([]domain.Part{
		domain.ToolPart{
			ID: "t1", Name: "Read", Status: domain.ToolDone, IsError: true,
			Summary: "Read: missing.txt", Output: "no such file",
		},
	})

	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "no such file")
}

func TestRenderApprovalStates(t *testing.T) {
	pending := renderParts([]domain.Part{
		domain.ApprovalPart{RequestID: "r1", ToolName: "Bash", ToolInput: map[string]any{"command": "rm x"}},
	})
	assert.Contains(t, pending, "allow Bash? (y/n)")

	denied := renderParts([]domain.Part{
		domain.ApprovalPart{RequestID: "r1", ToolName: "Bash", Decision: domain.DecisionDeny},
	})
	assert.Contains(t, denied, "denied")

	superseded := renderParts([]domain.Part{
		domain.ApprovalPart{RequestID: "r1", ToolName: "Bash", Superseded: true},
	})
	assert.Contains(t, superseded, "superseded")
}

func TestRenderAskUser(t *testing.T) {
	open := renderParts([]domain.Part{
		domain.AskUserPart{RequestID: "q1", Questions: []domain.Question{
			{Prompt: "Which env?", Options: []string{"dev", "prod"}},
		}},
	})
	assert.Contains(t, open, "Which env?")
	assert.Contains(t, open, "1) dev")
	assert.Contains(t, open, "2) prod")

	answered := renderParts([]domain.Part{
		domain.AskUserPart{
			RequestID: "q1",
			Questions: []domain.Question{{Prompt: "Which env?", Options: []string{"dev", "prod"}}},
			Answers:   map[string]string{"Which env?": "dev"},
		},
	})
	assert.Contains(t, answered, "→ dev")
}

func TestRenderMCPStatus(t *testing.T) {
	out := renderParts([]domain.Part{
		domain.MCPStatusPart{Servers: []domain.MCPServerStatus{
			{Name: "files", Connected: true},
			{Name: "search", Connected: false, Error: "dial refused"},
		}},
	})
	assert.Contains(t, out, "files")
	assert.Contains(t, out, "search")
}

func TestRenderMessageInterrupted(t *testing.T) {
	out := renderMessage(&domain.Message{
		Role:        domain.RoleAssistant,
		Content:     "partial",
		Interrupted: true,
		ToolCalls: []domain.ToolCall{
			{ID: "t1", Name: "Bash", Input: `{"command":"ls"}`, Status: domain.ToolCallError},
		},
	})

	assert.Contains(t, out, "(interrupted)")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "Bash")
}
