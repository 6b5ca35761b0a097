package store

import "sync"

// Op is the kind of change applied to a session record.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one entry of the change-notification stream. Consumers that
// maintain an in-memory snapshot apply these instead of re-querying the
// whole record set.
type Change struct {
	Op        Op
	SessionID string
}

// notifier fans committed changes out to subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses events
// rather than blocking the commit path.
type notifier struct {
	mu     sync.Mutex
	subs   map[chan Change]struct{}
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[chan Change]struct{})}
}

// Subscribe registers a new change listener.
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, 64)
	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()
	if s.notifier.closed {
		close(ch)
		return ch
	}
	s.notifier.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Store) Unsubscribe(ch <-chan Change) {
	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()
	for sub := range s.notifier.subs {
		if sub == ch {
			delete(s.notifier.subs, sub)
			close(sub)
			return
		}
	}
}

func (n *notifier) publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		select {
		case sub <- c:
		default:
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for sub := range n.subs {
		close(sub)
	}
	n.subs = make(map[chan Change]struct{})
}
