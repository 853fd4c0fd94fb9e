package scheduler

import "sync"

// Signal is a one-way gate. Once opened it stays open.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns a closed gate.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Open opens the gate. Calling it again has no effect.
func (s *Signal) Open() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel that is closed when the gate opens.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// isOpen reports whether Open has been called.
func (s *Signal) isOpen() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
