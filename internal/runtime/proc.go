package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/logging"
)

// ChunkPayload carries one stream chunk over the wire, tagged with the
// conversation it belongs to.
type ChunkPayload struct {
	ConversationID string             `json:"conversationID"`
	Chunk          domain.StreamChunk `json:"chunk"`
}

// Proc runs an agent runtime as a subprocess, speaking JSON-line envelopes
// over stdin/stdout. One process serves all conversations; chunks are routed
// to the channel of the turn they belong to.
type Proc struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	enc *Encoder
	log *logging.Logger

	mu    sync.Mutex
	turns map[string]chan domain.StreamChunk
	dead  bool
}

var _ Runtime = (*Proc)(nil)

// StartProc launches the runtime subprocess and begins reading its output.
func StartProc(ctx context.Context, command string, args ...string) (*Proc, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runtime: %w", err)
	}

	p := &Proc{
		cmd:   cmd,
		in:    stdin,
		enc:   NewEncoder(stdin),
		log:   logging.New("runtime"),
		turns: make(map[string]chan domain.StreamChunk),
	}
	go p.readLoop(NewDecoder(stdout))
	return p, nil
}

// StartTurn registers a chunk channel for the conversation and asks the
// runtime to begin the turn. Cancelling ctx sends a cancel message; the
// runtime remains responsible for emitting (or not) further chunks, which
// the engine drops as stale.
func (p *Proc) StartTurn(ctx context.Context, req TurnRequest) (<-chan domain.StreamChunk, error) {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return nil, fmt.Errorf("runtime process exited")
	}
	if _, ok := p.turns[req.ConversationID]; ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("turn already active for conversation %s", req.ConversationID)
	}
	ch := make(chan domain.StreamChunk, 64)
	p.turns[req.ConversationID] = ch
	p.mu.Unlock()

	if err := p.enc.Send(MsgTurn, req); err != nil {
		p.removeTurn(req.ConversationID)
		return nil, fmt.Errorf("send turn: %w", err)
	}

	// Cancellation frees the turn slot immediately so a restart never
	// waits on the runtime acknowledging the cancel.
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		active := p.turns[req.ConversationID] == ch
		if active {
			delete(p.turns, req.ConversationID)
			close(ch)
		}
		p.mu.Unlock()
		if active {
			p.enc.Send(MsgCancel, CancelPayload{ConversationID: req.ConversationID})
		}
	}()

	return ch, nil
}

// Respond forwards a human decision to the runtime.
func (p *Proc) Respond(_ context.Context, d Decision) error {
	return p.enc.Send(MsgDecision, d)
}

// Close terminates the subprocess.
func (p *Proc) Close() error {
	p.in.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

func (p *Proc) readLoop(dec *Decoder) {
	for {
		env, err := dec.Decode()
		if err != nil {
			p.shutdownTurns(err)
			return
		}
		if env.Type != MsgChunk {
			p.log.Debug("unexpected_message", map[string]any{"type": string(env.Type)})
			continue
		}

		var payload ChunkPayload
		if err := env.GetPayload(&payload); err != nil {
			p.log.Warn("bad_chunk_payload", nil, err)
			continue
		}

		p.mu.Lock()
		ch, ok := p.turns[payload.ConversationID]
		if !ok {
			p.mu.Unlock()
			// Turn already finished or cancelled; late chunks are expected.
			p.log.Debug("chunk_without_turn", map[string]any{
				"conversation": payload.ConversationID,
				"type":         string(payload.Chunk.Type),
			})
			continue
		}

		// One turn's full buffer must never stall delivery for the rest.
		select {
		case ch <- payload.Chunk:
		default:
			p.log.Warn("chunk_dropped_full_buffer", map[string]any{
				"conversation": payload.ConversationID,
				"type":         string(payload.Chunk.Type),
			}, nil)
		}
		if payload.Chunk.Terminal() {
			delete(p.turns, payload.ConversationID)
			close(ch)
		}
		p.mu.Unlock()
	}
}

func (p *Proc) removeTurn(conversationID string) {
	p.mu.Lock()
	delete(p.turns, conversationID)
	p.mu.Unlock()
}

// shutdownTurns closes all active turn channels when the process dies. The
// engine treats a channel closed without a terminal chunk as an execution
// error.
func (p *Proc) shutdownTurns(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cause != io.EOF {
		p.log.Error("runtime_read_failed", nil, cause)
	}
	p.dead = true
	for id, ch := range p.turns {
		delete(p.turns, id)
		close(ch)
	}
}
