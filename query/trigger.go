package query

import "sync"

// Trigger delivers external revalidation events (window focus, network
// reconnect) to queries. Subscribe returns the matching unsubscribe so each
// registration tears down exactly once.
type Trigger interface {
	Subscribe(fn func()) (unsubscribe func())
}

// Signal is a fan-out Trigger. The consumer's platform layer calls Emit when
// the underlying event fires.
type Signal struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]func()
}

var _ Trigger = (*Signal)(nil)

// NewSignal returns an empty Signal.
func NewSignal() *Signal {
	return &Signal{subs: make(map[uint64]func())}
}

// Subscribe registers fn and returns its unsubscribe. Unsubscribing twice is
// harmless.
func (s *Signal) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Emit invokes every current subscriber.
func (s *Signal) Emit() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
