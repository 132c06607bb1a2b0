package tui

import (
	"fmt"
	"strings"

	"github.com/joss/turnstream/internal/domain"
	ustrings "github.com/joss/turnstream/internal/strings"
)

// renderMessage renders one persisted message for the transcript.
func renderMessage(msg *domain.Message) string {
	var b strings.Builder

	switch msg.Role {
	case domain.RoleUser:
		b.WriteString(userStyle.Render("❯ you") + "\n")
		b.WriteString(textStyle.Render(msg.Content) + "\n")
	case domain.RoleAssistant:
		header := "● assistant"
		if msg.Interrupted {
			header += "  " + mutedStyle.Render("(interrupted)")
		}
		b.WriteString(successStyle.Render(header) + "\n")
		if msg.Content != "" {
			b.WriteString(textStyle.Render(msg.Content) + "\n")
		}
		for _, call := range msg.ToolCalls {
			b.WriteString(renderToolCall(call))
		}
	}
	return b.String()
}

func renderToolCall(call domain.ToolCall) string {
	marker := successStyle.Render("✓")
	if call.Status == domain.ToolCallError {
		marker = errorStyle.Render("✗")
	}
	line := fmt.Sprintf("  %s %s", marker, toolStyle.Render(call.Name))
	if call.Input != "" {
		line += " " + mutedStyle.Render(ustrings.Truncate(call.Input, 80))
	}
	line += "\n"
	if call.Output != "" {
		line += toolOutputStyle.Render("    "+ustrings.Truncate(call.Output, 200)) + "\n"
	}
	return line
}

// renderParts renders the live turn's assembled parts.
func renderParts(parts []domain.Part) string {
	var b strings.Builder

	for _, p := range parts {
		switch part := p.(type) {
		case domain.TextPart:
			b.WriteString(textStyle.Render(part.Text) + "\n")

		case domain.ToolPart:
			b.WriteString(renderToolPart(part))

		case domain.ApprovalPart:
			b.WriteString(renderApprovalPart(part))

		case domain.AskUserPart:
			b.WriteString(renderAskUserPart(part))

		case domain.MCPStatusPart:
			b.WriteString(renderMCPStatusPart(part))
		}
	}
	return b.String()
}

func renderToolPart(part domain.ToolPart) string {
	var b strings.Builder
	switch part.Status {
	case domain.ToolRunning:
		b.WriteString(fmt.Sprintf("  %s %s\n", pendingStyle.Render("⚙"), toolStyle.Render(part.Summary)))
	case domain.ToolDone:
		marker := successStyle.Render("✓")
		if part.IsError {
			marker = errorStyle.Render("✗")
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", marker, toolStyle.Render(part.Summary)))
		if part.Output != "" {
			b.WriteString(toolOutputStyle.Render("    "+ustrings.Truncate(part.Output, 200)) + "\n")
		}
	}
	return b.String()
}

func renderApprovalPart(part domain.ApprovalPart) string {
	if part.Superseded {
		return mutedStyle.Render(fmt.Sprintf("  ⊘ approval for %s superseded", part.ToolName)) + "\n"
	}
	if part.Resolved() {
		verdict := "allowed"
		if part.Decision == domain.DecisionDeny {
			verdict = "denied"
		}
		return mutedStyle.Render(fmt.Sprintf("  ◈ %s %s", part.ToolName, verdict)) + "\n"
	}
	var b strings.Builder
	b.WriteString(pendingStyle.Render(fmt.Sprintf("  ◈ allow %s? (y/n)", part.ToolName)) + "\n")
	if len(part.ToolInput) > 0 {
		b.WriteString(mutedStyle.Render("    "+ustrings.TruncateMap(part.ToolInput, 120)) + "\n")
	}
	return b.String()
}

func renderAskUserPart(part domain.AskUserPart) string {
	if part.Superseded {
		return mutedStyle.Render("  ⊘ question superseded") + "\n"
	}
	var b strings.Builder
	for _, q := range part.Questions {
		if answer, ok := part.Answers[q.Prompt]; ok {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  ? %s → %s", q.Prompt, answer)) + "\n")
			continue
		}
		b.WriteString(pendingStyle.Render("  ? "+q.Prompt) + "\n")
		for i, opt := range q.Options {
			b.WriteString(fmt.Sprintf("    %d) %s\n", i+1, opt))
		}
	}
	return b.String()
}

func renderMCPStatusPart(part domain.MCPStatusPart) string {
	var entries []string
	for _, srv := range part.Servers {
		if srv.Connected {
			entries = append(entries, successStyle.Render("●")+" "+srv.Name)
		} else {
			entries = append(entries, errorStyle.Render("○")+" "+srv.Name)
		}
	}
	if len(entries) == 0 {
		return ""
	}
	return mutedStyle.Render("  mcp: ") + strings.Join(entries, "  ") + "\n"
}
