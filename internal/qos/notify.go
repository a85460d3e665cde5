package qos

import (
	"sync"

	"github.com/wattbound/wattd/internal/domain"
)

// Event describes one committed overload-state change.
type Event struct {
	State domain.OverloadState
	Value domain.QoSValue
}

// Notifier fans committed state changes out to subscribers, in the manner
// of a park/unpark notifier chain. Callbacks run synchronously on the
// timer goroutine and must return quickly.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns its cancel func.
func (n *Notifier) Subscribe(fn func(Event)) (cancel func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *Notifier) publish(e Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, fn := range n.subs {
		fn(e)
	}
}
