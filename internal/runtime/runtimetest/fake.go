// Package runtimetest provides a scripted in-memory runtime for engine and
// TUI tests.
package runtimetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/runtime"
)

// Fake implements runtime.Runtime. Each StartTurn consumes the next script;
// scripted chunks are pre-buffered and the channel closed after the last
// one. Manual turns (nil script) are driven with Emit/CloseTurn.
type Fake struct {
	mu        sync.Mutex
	scripts   [][]domain.StreamChunk
	turns     []runtime.TurnRequest
	decisions []runtime.Decision
	current   chan domain.StreamChunk
	startErr  error
}

var _ runtime.Runtime = (*Fake)(nil)

// NewScripted returns a fake that plays one script per StartTurn call.
func NewScripted(scripts ...[]domain.StreamChunk) *Fake {
	return &Fake{scripts: scripts}
}

// NewManual returns a fake whose turns are driven by Emit and CloseTurn.
func NewManual() *Fake {
	return &Fake{}
}

// Script is a convenience constructor for one turn's chunk sequence.
func Script(chunks ...domain.StreamChunk) []domain.StreamChunk {
	return chunks
}

// FailStartWith makes the next StartTurn return err.
func (f *Fake) FailStartWith(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

// StartTurn records the request and returns the next scripted channel.
func (f *Fake) StartTurn(_ context.Context, req runtime.TurnRequest) (<-chan domain.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return nil, err
	}

	f.turns = append(f.turns, req)

	if len(f.scripts) > 0 {
		script := f.scripts[0]
		f.scripts = f.scripts[1:]
		ch := make(chan domain.StreamChunk, len(script))
		for _, c := range script {
			ch <- c
		}
		close(ch)
		f.current = nil
		return ch, nil
	}

	ch := make(chan domain.StreamChunk, 64)
	f.current = ch
	return ch, nil
}

// Respond records the decision.
func (f *Fake) Respond(_ context.Context, d runtime.Decision) error {
	f.mu.Lock()
	f.decisions = append(f.decisions, d)
	f.mu.Unlock()
	return nil
}

// Emit delivers a chunk on the latest manual turn.
func (f *Fake) Emit(chunks ...domain.StreamChunk) {
	f.mu.Lock()
	ch := f.current
	f.mu.Unlock()
	if ch == nil {
		panic(fmt.Sprintf("runtimetest: Emit without a manual turn (%d chunks)", len(chunks)))
	}
	for _, c := range chunks {
		ch <- c
	}
}

// CloseTurn closes the latest manual turn's channel.
func (f *Fake) CloseTurn() {
	f.mu.Lock()
	ch := f.current
	f.current = nil
	f.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Turns returns a copy of the recorded StartTurn requests.
func (f *Fake) Turns() []runtime.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.TurnRequest, len(f.turns))
	copy(out, f.turns)
	return out
}

// Decisions returns a copy of the recorded Respond calls.
func (f *Fake) Decisions() []runtime.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.Decision, len(f.decisions))
	copy(out, f.decisions)
	return out
}
