package engine

// Watch subscribes to turn state for a conversation. The channel carries
// latest-wins snapshots (capacity one, newest replaces unread); the returned
// cancel func removes the watcher. If a session exists, its current snapshot
// is delivered immediately.
func (c *Controller) Watch(conversationID string) (<-chan Snapshot, func()) {
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	ch := make(chan Snapshot, 1)
	id := conv.nextWatcher
	conv.nextWatcher++
	conv.watchers[id] = ch

	if conv.session != nil {
		ch <- conv.session.snapshot()
	}

	cancel := func() {
		conv.mu.Lock()
		delete(conv.watchers, id)
		conv.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns the current turn state of a conversation, if any turn was
// ever started for it.
func (c *Controller) Snapshot(conversationID string) (Snapshot, bool) {
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.session == nil {
		return Snapshot{}, false
	}
	return conv.session.snapshot(), true
}

// Generation returns the conversation's current generation (zero when no
// turn was ever started).
func (c *Controller) Generation(conversationID string) uint64 {
	conv := c.registry.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.generation
}
