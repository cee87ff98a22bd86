package synclite

import "sync"

// Change describes one local state transition, published after every write
// the Repository or the WebSocket Handler lands in the store.
type Change struct {
	Op           Op
	ResourceType string
	ID           string
	Doc          Document // nil for deletes
}

// Broadcaster is an explicit in-process publish/subscribe feed that UI
// bindings subscribe to, replacing hidden module-level shared state.
// Publishing never blocks; subscribers that fall behind drop changes and
// are expected to re-read from the store.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Change)}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release the subscription.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Change, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans a change out to all subscribers without blocking.
func (b *Broadcaster) Publish(c Change) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
