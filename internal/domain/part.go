package domain

// Part is one renderable unit of an assembled turn. Parts form an
// append-ordered sequence; once appended a part is mutated in place at most
// (open text/tool parts, approval resolution) and never removed.
type Part interface {
	PartType() string
}

const (
	PartTypeText      = "text"
	PartTypeTool      = "tool"
	PartTypeApproval  = "tool_approval"
	PartTypeAskUser   = "ask_user"
	PartTypeMCPStatus = "mcp_status"
)

// TextPart accumulates streamed text.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) PartType() string { return PartTypeText }

// ToolStatus is the lifecycle state of a tool part within a turn.
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolDone    ToolStatus = "done"
)

// ToolPart tracks one tool invocation from tool_start to tool_result.
type ToolPart struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Status  ToolStatus     `json:"status"`
	Input   map[string]any `json:"input,omitempty"`
	Output  string         `json:"output,omitempty"`
	IsError bool           `json:"isError,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

func (ToolPart) PartType() string { return PartTypeTool }

// ApprovalPart blocks the turn until the human decides. Decision is empty
// while the request is pending; Superseded marks requests invalidated by the
// turn ending or being replaced.
type ApprovalPart struct {
	RequestID  string           `json:"requestID"`
	ToolName   string           `json:"toolName"`
	ToolInput  map[string]any   `json:"toolInput,omitempty"`
	Decision   ApprovalDecision `json:"decision,omitempty"`
	Superseded bool             `json:"superseded,omitempty"`
}

func (ApprovalPart) PartType() string { return PartTypeApproval }

// Resolved reports whether the approval no longer blocks the turn.
func (p ApprovalPart) Resolved() bool { return p.Decision != "" || p.Superseded }

// AskUserPart blocks the turn until the human answers. Answers is nil while
// pending, keyed by question prompt once resolved.
type AskUserPart struct {
	RequestID  string            `json:"requestID"`
	Questions  []Question        `json:"questions"`
	Answers    map[string]string `json:"answers,omitempty"`
	Superseded bool              `json:"superseded,omitempty"`
}

func (AskUserPart) PartType() string { return PartTypeAskUser }

// Resolved reports whether the clarification no longer blocks the turn.
func (p AskUserPart) Resolved() bool { return p.Answers != nil || p.Superseded }

// MCPStatusPart holds the latest server connectivity snapshot. A turn keeps
// at most one; new snapshots replace it in place.
type MCPStatusPart struct {
	Servers []MCPServerStatus `json:"servers"`
}

func (MCPStatusPart) PartType() string { return PartTypeMCPStatus }
