// Package sequence issues the event ids that key outbox records.
package sequence

import "sync/atomic"

// Sequencer hands out strictly monotonic ids.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer that will issue start+1 first.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset pins the counter, used once at startup to resume after the
// highest id already present in the outbox.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
