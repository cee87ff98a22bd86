package synclite

import "sync"

// HealthMonitor gates whether the core should even attempt a network call.
// It is consumed, never produced, by the sync core; the application wires
// in whatever online/server-health signal it has.
type HealthMonitor interface {
	CanRequest() bool
}

// Notifier is an optional extension of HealthMonitor: implementations push
// connectivity transitions so the queue runner can replay the outbox the
// moment the network comes back, instead of waiting for the next tick.
type Notifier interface {
	Changes() <-chan bool
}

// NetworkStatus is an in-process HealthMonitor with a manual switch and
// subscriber fan-out. Suitable for tests and applications that derive
// connectivity from their own probes.
type NetworkStatus struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

// NewNetworkStatus creates a status starting in the given state.
func NewNetworkStatus(online bool) *NetworkStatus {
	return &NetworkStatus{online: online}
}

// CanRequest reports the current connectivity state.
func (n *NetworkStatus) CanRequest() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// Set switches the state, notifying subscribers only on actual transitions.
// Sends never block; a subscriber that has fallen behind misses the edge
// but can always consult CanRequest.
func (n *NetworkStatus) Set(online bool) {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online
	subs := make([]chan bool, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Changes returns a channel receiving connectivity transitions.
func (n *NetworkStatus) Changes() <-chan bool {
	ch := make(chan bool, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}
