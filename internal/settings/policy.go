package settings

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/turnstream/internal/domain"
)

// PatternPolicy auto-allows tool approval requests matched by auto-allow
// patterns. A pattern is either a bare tool name ("Read") or a name plus an
// argument glob separated by a colon ("Bash:git *", "Write:docs/**"). The
// glob is matched with doublestar against the request's primary argument.
type PatternPolicy struct {
	patterns []string
}

// NewPatternPolicy builds a policy from auto-allow patterns. Blank entries
// are dropped.
func NewPatternPolicy(patterns []string) *PatternPolicy {
	p := &PatternPolicy{}
	for _, pat := range patterns {
		if pat = strings.TrimSpace(pat); pat != "" {
			p.patterns = append(p.patterns, pat)
		}
	}
	return p
}

// Decide returns an allow decision for matching requests and leaves all
// others pending. It never denies; denial stays a human call.
func (p *PatternPolicy) Decide(req domain.ApprovalRequest) (domain.ApprovalDecision, bool) {
	arg := primaryArgument(req.ToolInput)
	for _, pat := range p.patterns {
		name, glob, hasGlob := strings.Cut(pat, ":")
		if name != req.ToolName {
			continue
		}
		if !hasGlob {
			return domain.DecisionAllow, true
		}
		if ok, err := doublestar.Match(glob, arg); err == nil && ok {
			return domain.DecisionAllow, true
		}
	}
	return "", false
}

func primaryArgument(input map[string]any) string {
	for _, key := range []string{"command", "path", "file_path", "url", "query"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
