package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/logging"
	"github.com/joss/turnstream/internal/runtime/runtimetest"
)

func newTestController(t *testing.T, rt *runtimetest.Fake, store *memStore, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	return NewController(rt, store, opts...)
}

func waitStatus(t *testing.T, c *Controller, conversationID string, want TurnStatus) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, ok := c.Snapshot(conversationID)
		if !ok {
			return false
		}
		snap = s
		return s.Status == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for status %s", want)
	return snap
}

func waitParts(t *testing.T, c *Controller, conversationID string, n int) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, ok := c.Snapshot(conversationID)
		if !ok {
			return false
		}
		snap = s
		return len(s.Parts) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d parts", n)
	return snap
}

func TestStartStreamsAndPersists(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewScripted(runtimetest.Script(
		text("Hello "),
		text("world"),
		toolStart("t1", "Bash"),
		toolInput("t1", map[string]any{"command": "ls"}),
		toolResult("t1", "ok", false),
		done(),
	))
	c := newTestController(t, rt, store)

	gen, err := c.Start(context.Background(), "conv-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	snap := waitStatus(t, c, "conv-1", StatusDone)
	require.Len(t, snap.Parts, 2)
	assert.Equal(t, "Hello world", snap.Parts[0].(domain.TextPart).Text)
	assert.Equal(t, domain.ToolDone, snap.Parts[1].(domain.ToolPart).Status)

	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello world", msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, domain.ToolCallDone, msgs[1].ToolCalls[0].Status)
	assert.False(t, msgs[1].Interrupted)

	turns := rt.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Prompt)
	require.Len(t, turns[0].History, 1)
}

func TestStartUnknownConversation(t *testing.T) {
	c := newTestController(t, runtimetest.NewManual(), newMemStore())
	_, err := c.Start(context.Background(), "missing", "hi")
	assert.Error(t, err)
}

func TestStartFailureDropsPersistedPrompt(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	rt.FailStartWith(errors.New("runtime unavailable"))
	c := newTestController(t, rt, store)

	_, err := c.Start(context.Background(), "conv-1", "hi")
	require.Error(t, err)
	assert.Empty(t, store.messagesFor("conv-1"))
}

func TestStartWhileStreamingFails(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store)

	_, err := c.Start(context.Background(), "conv-1", "first")
	require.NoError(t, err)

	_, err = c.Start(context.Background(), "conv-1", "second")
	var already *AlreadyStreamingError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "conv-1", already.ConversationID)
	assert.Equal(t, domain.ErrorAlreadyStreaming, already.Kind())

	// The rejected start leaves the active turn untouched.
	assert.Equal(t, uint64(1), c.Generation("conv-1"))
	assert.Len(t, store.messagesFor("conv-1"), 1)
	rt.CloseTurn()
}

func TestIndependentConversationsStreamConcurrently(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	store.addConversation("conv-2")
	rt := runtimetest.NewScripted(
		runtimetest.Script(text("one"), done()),
		runtimetest.Script(text("two"), done()),
	)
	c := newTestController(t, rt, store)

	_, err := c.Start(context.Background(), "conv-1", "a")
	require.NoError(t, err)
	_, err = c.Start(context.Background(), "conv-2", "b")
	require.NoError(t, err)

	waitStatus(t, c, "conv-1", StatusDone)
	waitStatus(t, c, "conv-2", StatusDone)
}

func TestStopFreezesPartsAndPersistsPartial(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store)

	_, err := c.Start(context.Background(), "conv-1", "go")
	require.NoError(t, err)

	rt.Emit(text("partial answer"))
	waitParts(t, c, "conv-1", 1)

	require.NoError(t, c.Stop(context.Background(), "conv-1"))

	snap, ok := c.Snapshot("conv-1")
	require.True(t, ok)
	assert.Equal(t, StatusStopped, snap.Status)
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "partial answer", snap.Parts[0].(domain.TextPart).Text)

	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
	assert.True(t, msgs[1].Interrupted)

	// Late chunks from the dead generation never mutate the frozen state.
	rt.Emit(text(" ignored"), done())
	rt.CloseTurn()
	time.Sleep(20 * time.Millisecond)
	snap, _ = c.Snapshot("conv-1")
	assert.Equal(t, "partial answer", snap.Parts[0].(domain.TextPart).Text)
	assert.Equal(t, StatusStopped, snap.Status)
}

func TestStopWithoutActiveTurnIsNoop(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	c := newTestController(t, runtimetest.NewManual(), store)
	assert.NoError(t, c.Stop(context.Background(), "conv-1"))
}

func TestRestartAfterStopBumpsGeneration(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store)

	gen, err := c.Start(context.Background(), "conv-1", "first")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	require.NoError(t, c.Stop(context.Background(), "conv-1"))
	rt.CloseTurn()

	gen, err = c.Start(context.Background(), "conv-1", "second")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	rt.Emit(text("fresh"), done())
	snap := waitStatus(t, c, "conv-1", StatusDone)
	assert.Equal(t, uint64(2), snap.Generation)
	assert.Equal(t, "fresh", snap.Parts[0].(domain.TextPart).Text)
}

func TestChannelClosedWithoutTerminalIsExecutionError(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store)

	_, err := c.Start(context.Background(), "conv-1", "go")
	require.NoError(t, err)

	rt.Emit(text("some progress"))
	waitParts(t, c, "conv-1", 1)
	rt.CloseTurn()

	snap := waitStatus(t, c, "conv-1", StatusError)
	require.NotNil(t, snap.Err)
	assert.Equal(t, domain.ErrorExecution, snap.Err.Kind)

	// Partial output survives the crash.
	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "some progress", msgs[1].Content)
}

func TestIdleWatchdogEndsStalledTurn(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store, WithIdleTimeout(30*time.Millisecond))

	_, err := c.Start(context.Background(), "conv-1", "go")
	require.NoError(t, err)

	snap := waitStatus(t, c, "conv-1", StatusError)
	require.NotNil(t, snap.Err)
	assert.Equal(t, domain.ErrorExecution, snap.Err.Kind)
	rt.CloseTurn()
}

func TestEmptyTurnLeavesNoAssistantMessage(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewScripted(runtimetest.Script(done()))
	c := newTestController(t, rt, store)

	_, err := c.Start(context.Background(), "conv-1", "hi")
	require.NoError(t, err)
	waitStatus(t, c, "conv-1", StatusDone)

	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestRegenerateReplacesLastAssistantMessage(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	ctx := context.Background()
	require.NoError(t, store.CreateMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "question",
	}))
	require.NoError(t, store.CreateMessage(ctx, &domain.Message{
		ID: "m2", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "bad answer",
	}))

	rt := runtimetest.NewScripted(runtimetest.Script(text("better answer"), done()))
	c := newTestController(t, rt, store)

	gen, err := c.Regenerate(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	waitStatus(t, c, "conv-1", StatusDone)

	turns := rt.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "question", turns[0].Prompt)

	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "better answer", msgs[1].Content)
}

func TestRegenerateRestoresMessageWhenStartFails(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	ctx := context.Background()
	require.NoError(t, store.CreateMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "question",
	}))
	require.NoError(t, store.CreateMessage(ctx, &domain.Message{
		ID: "m2", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "answer",
	}))

	rt := runtimetest.NewManual()
	rt.FailStartWith(errors.New("runtime unavailable"))
	c := newTestController(t, rt, store)

	_, err := c.Regenerate(ctx, "conv-1")
	require.Error(t, err)

	// The dropped assistant message is replayed so history is intact.
	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestRegenerateRequiresTrailingAssistantMessage(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	ctx := context.Background()
	require.NoError(t, store.CreateMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "question",
	}))

	c := newTestController(t, runtimetest.NewManual(), store)
	_, err := c.Regenerate(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNoAssistantMessage)
}

func TestEditAndResendTruncatesAndRestarts(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	ctx := context.Background()
	for _, m := range []*domain.Message{
		{ID: "m1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "first"},
		{ID: "m2", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "answer one"},
		{ID: "m3", ConversationID: "conv-1", Role: domain.RoleUser, Content: "second"},
		{ID: "m4", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "answer two"},
	} {
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	rt := runtimetest.NewScripted(runtimetest.Script(text("revised answer"), done()))
	c := newTestController(t, rt, store)

	_, err := c.EditAndResend(ctx, "conv-1", "m3", "second, but better")
	require.NoError(t, err)
	waitStatus(t, c, "conv-1", StatusDone)

	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "answer one", msgs[1].Content)
	assert.Equal(t, "second, but better", msgs[2].Content)
	assert.Equal(t, "revised answer", msgs[3].Content)

	turns := rt.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "second, but better", turns[0].Prompt)
}

func TestEditAndResendRevertsWhenStartFails(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	ctx := context.Background()
	for _, m := range []*domain.Message{
		{ID: "m1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "first"},
		{ID: "m2", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "answer"},
	} {
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	rt := runtimetest.NewManual()
	rt.FailStartWith(errors.New("runtime unavailable"))
	c := newTestController(t, rt, store)

	_, err := c.EditAndResend(ctx, "conv-1", "m1", "edited")
	require.Error(t, err)

	// The dropped tail is replayed so history is intact.
	msgs := store.messagesFor("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestEditAndResendUnknownMessage(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	c := newTestController(t, runtimetest.NewManual(), store)
	_, err := c.EditAndResend(context.Background(), "conv-1", "missing", "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestTurnDefaultsFlowIntoRequest(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewScripted(runtimetest.Script(done()))
	c := newTestController(t, rt, store, WithTurnDefaults(TurnDefaults{
		Model:          "fast-model",
		PermissionMode: "ask",
		MaxBudgetUSD:   2.5,
		MaxTurns:       8,
	}))

	_, err := c.Start(context.Background(), "conv-1", "hi")
	require.NoError(t, err)
	waitStatus(t, c, "conv-1", StatusDone)

	turns := rt.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "fast-model", turns[0].Model)
	assert.Equal(t, 2.5, turns[0].MaxBudgetUSD)
	assert.Equal(t, 8, turns[0].MaxTurns)
}

type allowAll struct{}

func (allowAll) Decide(domain.ApprovalRequest) (domain.ApprovalDecision, bool) {
	return domain.DecisionAllow, true
}

func TestApprovalPolicyAutoResolves(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store, WithApprovalPolicy(allowAll{}))

	_, err := c.Start(context.Background(), "conv-1", "go")
	require.NoError(t, err)

	rt.Emit(domain.StreamChunk{Type: domain.ChunkToolApproval, Approval: &domain.ApprovalRequest{
		ID: "r1", ToolName: "Bash", ToolInput: map[string]any{"command": "ls"},
	}})

	require.Eventually(t, func() bool {
		return len(rt.Decisions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	decision := rt.Decisions()[0]
	assert.Equal(t, "r1", decision.RequestID)
	assert.Equal(t, domain.DecisionAllow, decision.Decision)

	snap, _ := c.Snapshot("conv-1")
	assert.Empty(t, snap.PendingApprovals)
	rt.Emit(done())
	waitStatus(t, c, "conv-1", StatusDone)
}

func TestWatchDeliversSnapshots(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store)

	ch, cancel := c.Watch("conv-1")
	defer cancel()

	_, err := c.Start(context.Background(), "conv-1", "go")
	require.NoError(t, err)
	rt.Emit(text("hello"), done())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Status == StatusDone {
				require.Len(t, snap.Parts, 1)
				assert.Equal(t, "hello", snap.Parts[0].(domain.TextPart).Text)
				return
			}
		case <-deadline:
			t.Fatal("no terminal snapshot observed")
		}
	}
}

func TestWatchLatestWinsNeverBlocks(t *testing.T) {
	store := newMemStore()
	store.addConversation("conv-1")
	rt := runtimetest.NewManual()
	c := newTestController(t, rt, store)

	// Never read from the channel while the stream runs.
	ch, cancel := c.Watch("conv-1")
	defer cancel()

	_, err := c.Start(context.Background(), "conv-1", "go")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		rt.Emit(text("x"))
	}
	rt.Emit(done())
	waitStatus(t, c, "conv-1", StatusDone)

	// The lone buffered snapshot is the newest one.
	snap := <-ch
	assert.Equal(t, StatusDone, snap.Status)
}
