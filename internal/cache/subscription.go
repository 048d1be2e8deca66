package cache

import "sync"

// Subscription is one consumer of a cache key.
type Subscription struct {
	key   Key
	id    int
	ch    chan Entry
	store *Store

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key { return s.key }

// Updates delivers the latest entry snapshot. Intermediate snapshots may be
// skipped when the consumer is slow; the last one is never lost.
func (s *Subscription) Updates() <-chan Entry { return s.ch }

// Current returns the entry as it is now.
func (s *Subscription) Current() (Entry, bool) {
	return s.store.Get(s.key)
}

// OnClose registers fn to run when the subscription is closed.
// If it is already closed fn runs immediately.
func (s *Subscription) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fns := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	s.store.unsubscribe(s)
	for _, fn := range fns {
		fn()
	}
}

// deliver runs under the store lock, so it is the only writer to ch.
func (s *Subscription) deliver(e Entry) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- e
}
