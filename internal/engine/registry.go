package engine

import (
	"context"
	"sync"
)

// Registry owns per-conversation turn state. It is an explicit value
// injected into the Controller rather than ambient global state, so tests
// can run independent registries side by side. Each conversation carries its
// own lock: streams for different conversations never contend.
type Registry struct {
	mu    sync.Mutex
	convs map[string]*conversation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{convs: make(map[string]*conversation)}
}

// conversation serializes all mutation for one conversation's turns.
type conversation struct {
	mu          sync.Mutex
	generation  uint64
	session     *TurnSession
	cancel      context.CancelFunc
	watchers    map[int]chan Snapshot
	nextWatcher int
}

func (r *Registry) conversation(id string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		conv = &conversation{watchers: make(map[int]chan Snapshot)}
		r.convs[id] = conv
	}
	return conv
}

// notifyLocked pushes a snapshot to every watcher, latest wins: a slow
// consumer sees the newest state, never a backlog. Caller holds conv.mu.
func (c *conversation) notifyLocked(snap Snapshot) {
	for _, ch := range c.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
