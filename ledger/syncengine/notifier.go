package syncengine

import (
	"sync"
)

// Dispatcher posts a function for execution on some other context, for
// example a host application's UI thread. The default dispatcher runs the
// function on a fresh goroutine; either way the publish is fire-and-forget
// and never blocks the sync tick.
type Dispatcher func(func())

// notifier is a small publish/subscribe hub for change notifications.
// Multiple subscribers (UI refresh, logging, metrics) can register without
// overwriting one another.
type notifier struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]func()
	dispatch    Dispatcher
}

func newNotifier(dispatch Dispatcher) *notifier {
	if dispatch == nil {
		dispatch = func(fn func()) { go fn() }
	}

	return &notifier{
		subscribers: make(map[int]func()),
		dispatch:    dispatch,
	}
}

// subscribe registers fn and returns its removal function. Both are safe to
// call from any goroutine; removal is idempotent.
func (n *notifier) subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subscribers[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		delete(n.subscribers, id)
	}
}

// publish dispatches every current subscriber exactly once, without holding
// the lock during dispatch.
func (n *notifier) publish() {
	n.mu.Lock()
	snapshot := make([]func(), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		snapshot = append(snapshot, fn)
	}
	n.mu.Unlock()

	for _, fn := range snapshot {
		n.dispatch(fn)
	}
}
