package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/logging"
	"github.com/joss/turnstream/internal/runtime"
)

// ApprovalPolicy can pre-answer approval requests (e.g. from auto-allow
// patterns in settings). Decide returns false to leave the request pending
// for the human.
type ApprovalPolicy interface {
	Decide(req domain.ApprovalRequest) (domain.ApprovalDecision, bool)
}

// TurnDefaults are the resolved settings applied to every turn request.
type TurnDefaults struct {
	Model          string
	PermissionMode string
	MaxBudgetUSD   float64
	MaxTurns       int
}

// Controller owns the conversationId → turn session mapping and is the
// single entry point for starting, stopping, and redirecting streams. All
// mutation of a conversation's session goes through its serialized lock;
// chunks tagged with a generation other than the conversation's current one
// never reach the assembler.
type Controller struct {
	registry *Registry
	runtime  runtime.Runtime
	store    domain.Store
	log      *logging.Logger
	policy   ApprovalPolicy
	defaults TurnDefaults

	// idleTimeout, when positive, time-boxes a silent runtime: a turn
	// receiving no chunk within the window ends in execution_error.
	idleTimeout time.Duration

	// pending indexes request id → owning turn, for gate lookups.
	pmu     sync.Mutex
	pending map[string]pendingRef
}

type requestKind int

const (
	approvalRequest requestKind = iota
	askUserRequest
)

type pendingRef struct {
	conversationID string
	generation     uint64
	kind           requestKind
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithRegistry injects a registry (tests run independent ones).
func WithRegistry(r *Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithApprovalPolicy installs an auto-approval policy.
func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithTurnDefaults applies resolved settings to every turn request.
func WithTurnDefaults(d TurnDefaults) Option {
	return func(c *Controller) { c.defaults = d }
}

// WithIdleTimeout enables the runtime watchdog. Zero leaves turns unbounded.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// NewController creates a Controller over the given runtime and store.
func NewController(rt runtime.Runtime, store domain.Store, opts ...Option) *Controller {
	c := &Controller{
		registry: NewRegistry(),
		runtime:  rt,
		store:    store,
		log:      logging.New("engine"),
		pending:  make(map[string]pendingRef),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a new turn for the conversation with the given prompt. It
// fails with AlreadyStreamingError while a turn is active, persists the user
// prompt, and returns the new generation.
func (c *Controller) Start(ctx context.Context, conversationID, prompt string) (uint64, error) {
	if _, err := c.store.GetConversation(ctx, conversationID); err != nil {
		return 0, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return c.startLocked(ctx, conv, conversationID, prompt, true)
}

func (c *Controller) startLocked(ctx context.Context, conv *conversation, conversationID, prompt string, persistPrompt bool) (uint64, error) {
	if conv.session != nil && !conv.session.terminal() {
		return 0, &AlreadyStreamingError{ConversationID: conversationID}
	}

	var promptID string
	if persistPrompt {
		userMsg := &domain.Message{
			ID:             ulid.Make().String(),
			ConversationID: conversationID,
			Role:           domain.RoleUser,
			Content:        prompt,
			CreatedAt:      time.Now(),
		}
		if err := c.store.CreateMessage(ctx, userMsg); err != nil {
			return 0, fmt.Errorf("persist prompt: %w", err)
		}
		promptID = userMsg.ID
	}

	// A prompt the runtime never saw must not linger in history.
	dropPrompt := func() {
		if promptID == "" {
			return
		}
		if derr := c.store.DeleteMessage(ctx, promptID); derr != nil {
			c.log.Error("drop_unsent_prompt_failed", map[string]any{
				"conversation": conversationID,
				"message":      promptID,
			}, derr)
		}
	}

	history, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		dropPrompt()
		return 0, fmt.Errorf("load history: %w", err)
	}

	gen := conv.generation + 1

	// The turn outlives the caller's request context: background streams
	// keep processing when UI focus moves elsewhere.
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := c.runtime.StartTurn(turnCtx, runtime.TurnRequest{
		ConversationID: conversationID,
		Prompt:         prompt,
		History:        history,
		Model:          c.defaults.Model,
		PermissionMode: c.defaults.PermissionMode,
		MaxBudgetUSD:   c.defaults.MaxBudgetUSD,
		MaxTurns:       c.defaults.MaxTurns,
	})
	if err != nil {
		cancel()
		dropPrompt()
		return 0, fmt.Errorf("start turn: %w", err)
	}

	conv.generation = gen
	sess := newTurnSession(conversationID, gen)
	conv.session = sess
	conv.cancel = cancel
	conv.notifyLocked(sess.snapshot())

	c.log.Info("turn_started", map[string]any{
		"conversation": conversationID,
		"generation":   gen,
	})

	go c.consume(conv, conversationID, gen, ch)
	return gen, nil
}

// History returns the conversation's persisted messages in order.
func (c *Controller) History(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	return c.store.ListMessages(ctx, conversationID)
}

// Stop cancels the active turn, freezing parts exactly as assembled. It is a
// no-op when nothing is streaming. The partial answer is persisted so it is
// never lost.
func (c *Controller) Stop(ctx context.Context, conversationID string) error {
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	sess := conv.session
	if sess == nil || sess.terminal() {
		return nil
	}

	if conv.cancel != nil {
		conv.cancel()
		conv.cancel = nil
	}
	sess.closeOpen()
	sess.Status = StatusStopped
	c.supersedePendingLocked(sess)
	if err := c.persistTurn(ctx, sess); err != nil {
		c.log.Error("persist_stopped_turn_failed", map[string]any{
			"conversation": conversationID,
		}, err)
	}
	conv.notifyLocked(sess.snapshot())

	c.log.Info("turn_stopped", map[string]any{
		"conversation": conversationID,
		"generation":   sess.Generation,
	})
	return nil
}

// Regenerate removes the last assistant message from history and re-runs
// the turn with the same preceding user prompt. The removal is staged: if
// the new turn fails to start, the message is restored.
func (c *Controller) Regenerate(ctx context.Context, conversationID string) (uint64, error) {
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.session != nil && !conv.session.terminal() {
		return 0, &AlreadyStreamingError{ConversationID: conversationID}
	}

	msgs, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != domain.RoleAssistant {
		return 0, ErrNoAssistantMessage
	}
	last := msgs[len(msgs)-1]

	prompt := ""
	found := false
	for i := len(msgs) - 2; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			prompt = msgs[i].Content
			found = true
			break
		}
	}
	if !found {
		return 0, ErrNoUserPrompt
	}

	stage := NewStaged(last,
		func() error {
			return c.store.DeleteMessage(ctx, last.ID)
		},
		func(previous *domain.Message) error {
			return c.store.CreateMessage(ctx, previous)
		})
	if err := stage.Apply(); err != nil {
		return 0, fmt.Errorf("drop assistant message: %w", err)
	}

	gen, err := c.startLocked(ctx, conv, conversationID, prompt, false)
	if err := stage.CommitOrRevert(err); err != nil {
		return 0, err
	}
	return gen, nil
}

// EditAndResend truncates history at messageID (dropping it and everything
// after) and starts a new turn with newContent as the prompt. The truncation
// is staged: if the new turn fails to start, the dropped messages are
// replayed so no partial effect is user-visible.
func (c *Controller) EditAndResend(ctx context.Context, conversationID, messageID, newContent string) (uint64, error) {
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.session != nil && !conv.session.terminal() {
		return 0, &AlreadyStreamingError{ConversationID: conversationID}
	}

	msgs, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	idx := -1
	for i, m := range msgs {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}

	stage := NewStaged(msgs[idx:],
		func() error {
			return c.store.TruncateAfter(ctx, conversationID, messageID)
		},
		func(dropped []*domain.Message) error {
			for _, m := range dropped {
				if err := c.store.CreateMessage(ctx, m); err != nil {
					return fmt.Errorf("restore message %s: %w", m.ID, err)
				}
			}
			return nil
		})
	if err := stage.Apply(); err != nil {
		return 0, fmt.Errorf("truncate history: %w", err)
	}

	gen, err := c.startLocked(ctx, conv, conversationID, newContent, true)
	if err := stage.CommitOrRevert(err); err != nil {
		return 0, err
	}
	return gen, nil
}

// consume drains the turn's chunk channel, one fold at a time. A channel
// closed without a terminal chunk, or watchdog expiry, is surfaced as an
// execution error.
func (c *Controller) consume(conv *conversation, conversationID string, gen uint64, ch <-chan domain.StreamChunk) {
	var idle *time.Timer
	var idleC <-chan time.Time
	if c.idleTimeout > 0 {
		idle = time.NewTimer(c.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				c.dispatch(conv, gen, domain.StreamChunk{
					Type: domain.ChunkError,
					Err: &domain.StreamError{
						Kind:    domain.ErrorExecution,
						Message: "runtime closed the stream without a terminal event",
					},
				})
				return
			}
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(c.idleTimeout)
			}
			if halt := c.dispatch(conv, gen, chunk); halt {
				return
			}
		case <-idleC:
			c.dispatch(conv, gen, domain.StreamChunk{
				Type: domain.ChunkError,
				Err: &domain.StreamError{
					Kind:    domain.ErrorExecution,
					Message: "runtime stalled: no events within idle timeout",
				},
			})
			return
		}
	}
}

// dispatch routes one chunk into the session it belongs to. Chunks for a
// superseded generation or an already-terminal session are dropped. The
// returned halt flag tells the consumer to stop feeding this generation.
func (c *Controller) dispatch(conv *conversation, gen uint64, chunk domain.StreamChunk) bool {
	conv.mu.Lock()
	defer conv.mu.Unlock()

	sess := conv.session
	if sess == nil || conv.generation != gen || sess.Generation != gen {
		c.log.Debug("stale_chunk_dropped", map[string]any{
			"generation": gen,
			"type":       string(chunk.Type),
		})
		return true
	}
	if sess.terminal() {
		c.log.Debug("chunk_after_terminal_dropped", map[string]any{
			"conversation": sess.ConversationID,
			"type":         string(chunk.Type),
		})
		return true
	}

	sess.apply(chunk, c.log)

	switch chunk.Type {
	case domain.ChunkToolApproval:
		if chunk.Approval != nil {
			if _, pending := sess.PendingApprovals[chunk.Approval.ID]; pending {
				c.registerPending(chunk.Approval.ID, sess.ConversationID, gen, approvalRequest)
				c.autoDecideLocked(sess, *chunk.Approval)
			}
		}
	case domain.ChunkAskUser:
		if chunk.Ask != nil {
			if _, pending := sess.PendingAskUser[chunk.Ask.ID]; pending {
				c.registerPending(chunk.Ask.ID, sess.ConversationID, gen, askUserRequest)
			}
		}
	}

	if sess.terminal() {
		c.finalizeLocked(conv, sess)
	}
	conv.notifyLocked(sess.snapshot())
	return sess.terminal()
}

// autoDecideLocked lets the approval policy pre-answer a request the moment
// it arrives, so auto-allowed tools never block on the human.
func (c *Controller) autoDecideLocked(sess *TurnSession, req domain.ApprovalRequest) {
	if c.policy == nil {
		return
	}
	decision, ok := c.policy.Decide(req)
	if !ok {
		return
	}
	if err := c.resolveApprovalLocked(context.Background(), sess, req.ID, decision, "auto-decided by policy"); err != nil {
		c.log.Warn("auto_approval_failed", map[string]any{"request": req.ID}, err)
	}
}

// finalizeLocked runs once per terminal turn: superseded pendings are
// rejected, the assembled parts are flattened and persisted, and the cancel
// hook is released. Persistence failures are reported but never roll back
// in-memory state.
func (c *Controller) finalizeLocked(conv *conversation, sess *TurnSession) {
	if conv.cancel != nil {
		conv.cancel()
		conv.cancel = nil
	}
	c.supersedePendingLocked(sess)
	if err := c.persistTurn(context.Background(), sess); err != nil {
		c.log.Error("persist_turn_failed", map[string]any{
			"conversation": sess.ConversationID,
			"generation":   sess.Generation,
		}, err)
	}

	extra := map[string]any{
		"conversation": sess.ConversationID,
		"generation":   sess.Generation,
		"status":       string(sess.Status),
		"parts":        len(sess.Parts),
	}
	if sess.Err != nil {
		extra["kind"] = string(sess.Err.Kind)
	}
	c.log.TimedEvent("turn_finished", sess.StartedAt, extra)
}

// supersedePendingLocked rejects every unresolved request of the session:
// entries leave the pending maps and their parts are marked superseded, so a
// later respond call fails with unknown_request.
func (c *Controller) supersedePendingLocked(sess *TurnSession) {
	for id := range sess.PendingApprovals {
		c.unregisterPending(id)
		delete(sess.PendingApprovals, id)
		if idx, ok := sess.requests[id]; ok {
			if part, isApproval := sess.Parts[idx].(domain.ApprovalPart); isApproval {
				part.Superseded = true
				sess.Parts[idx] = part
			}
		}
		c.log.Info("request_superseded", map[string]any{"request": id})
	}
	for id := range sess.PendingAskUser {
		c.unregisterPending(id)
		delete(sess.PendingAskUser, id)
		if idx, ok := sess.requests[id]; ok {
			if part, isAsk := sess.Parts[idx].(domain.AskUserPart); isAsk {
				part.Superseded = true
				sess.Parts[idx] = part
			}
		}
		c.log.Info("request_superseded", map[string]any{"request": id})
	}
}

func (c *Controller) registerPending(requestID, conversationID string, gen uint64, kind requestKind) {
	c.pmu.Lock()
	c.pending[requestID] = pendingRef{conversationID: conversationID, generation: gen, kind: kind}
	c.pmu.Unlock()
}

func (c *Controller) unregisterPending(requestID string) {
	c.pmu.Lock()
	delete(c.pending, requestID)
	c.pmu.Unlock()
}

func (c *Controller) lookupPending(requestID string, kind requestKind) (pendingRef, bool) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	ref, ok := c.pending[requestID]
	if !ok || ref.kind != kind {
		return pendingRef{}, false
	}
	return ref, true
}
