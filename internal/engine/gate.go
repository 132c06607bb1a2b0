package engine

import (
	"context"
	"fmt"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/runtime"
)

// RespondApproval resolves a pending approval request: the decision is
// forwarded to the runtime, the entry leaves pendingApprovals, and the part
// stops blocking. Unknown, already-resolved, and superseded ids fail with
// UnknownRequestError without mutating anything.
func (c *Controller) RespondApproval(ctx context.Context, requestID string, decision domain.ApprovalDecision, message string) error {
	if decision != domain.DecisionAllow && decision != domain.DecisionDeny {
		return fmt.Errorf("invalid decision %q", decision)
	}

	ref, ok := c.lookupPending(requestID, approvalRequest)
	if !ok {
		return &UnknownRequestError{RequestID: requestID}
	}

	conv := c.registry.conversation(ref.conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	sess := conv.session
	if sess == nil || sess.Generation != ref.generation {
		return &UnknownRequestError{RequestID: requestID}
	}
	if _, pending := sess.PendingApprovals[requestID]; !pending {
		return &UnknownRequestError{RequestID: requestID}
	}

	if err := c.resolveApprovalLocked(ctx, sess, requestID, decision, message); err != nil {
		return err
	}
	conv.notifyLocked(sess.snapshot())
	return nil
}

// resolveApprovalLocked forwards the decision first; the pending entry is
// only removed once the runtime accepted it, so a failed forward can be
// retried.
func (c *Controller) resolveApprovalLocked(ctx context.Context, sess *TurnSession, requestID string, decision domain.ApprovalDecision, message string) error {
	if err := c.runtime.Respond(ctx, runtime.Decision{
		RequestID: requestID,
		Decision:  decision,
		Message:   message,
	}); err != nil {
		return fmt.Errorf("forward decision: %w", err)
	}

	delete(sess.PendingApprovals, requestID)
	c.unregisterPending(requestID)
	if idx, ok := sess.requests[requestID]; ok {
		if part, isApproval := sess.Parts[idx].(domain.ApprovalPart); isApproval {
			part.Decision = decision
			sess.Parts[idx] = part
		}
	}

	c.log.Info("approval_resolved", map[string]any{
		"request":  requestID,
		"decision": string(decision),
	})
	return nil
}

// RespondAskUser resolves a pending clarification request with a structured
// answer set keyed by question prompt. Same contract as RespondApproval.
func (c *Controller) RespondAskUser(ctx context.Context, requestID string, answers map[string]string) error {
	if len(answers) == 0 {
		return fmt.Errorf("empty answer set for request %s", requestID)
	}

	ref, ok := c.lookupPending(requestID, askUserRequest)
	if !ok {
		return &UnknownRequestError{RequestID: requestID}
	}

	conv := c.registry.conversation(ref.conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	sess := conv.session
	if sess == nil || sess.Generation != ref.generation {
		return &UnknownRequestError{RequestID: requestID}
	}
	if _, pending := sess.PendingAskUser[requestID]; !pending {
		return &UnknownRequestError{RequestID: requestID}
	}

	if err := c.runtime.Respond(ctx, runtime.Decision{
		RequestID: requestID,
		Answers:   answers,
	}); err != nil {
		return fmt.Errorf("forward answers: %w", err)
	}

	delete(sess.PendingAskUser, requestID)
	c.unregisterPending(requestID)
	if idx, ok := sess.requests[requestID]; ok {
		if part, isAsk := sess.Parts[idx].(domain.AskUserPart); isAsk {
			part.Answers = cloneStringMap(answers)
			sess.Parts[idx] = part
		}
	}

	c.log.Info("ask_user_resolved", map[string]any{
		"request": requestID,
		"answers": len(answers),
	})

	conv.notifyLocked(sess.snapshot())
	return nil
}
