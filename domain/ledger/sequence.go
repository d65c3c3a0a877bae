package ledger

import (
	"sync"

	"github.com/cornelk/hashmap"
)

// SeqState is one identity's replay-protection state: the last sequence
// number consumed by an accepted or rejected request (0 before any).
// Callers hold the embedded mutex across the classify-then-apply window
// so two requests from the same identity cannot race the counter.
type SeqState struct {
	sync.Mutex
	Seq uint64
}

// Tracker maps identity to sequence state. Like the account table it is
// a concurrent map so unrelated identities proceed in parallel.
type Tracker struct {
	m *hashmap.Map[string, *SeqState]
}

func NewTracker() *Tracker {
	return &Tracker{m: hashmap.New[string, *SeqState]()}
}

// Entry returns the state for id. When create is set a fresh zero state
// is installed on first contact; only the sequence-number query and
// account open are allowed to do that.
func (t *Tracker) Entry(id string, create bool) (*SeqState, bool) {
	if create {
		st, _ := t.m.GetOrInsert(id, &SeqState{})
		return st, true
	}
	return t.m.Get(id)
}

// FastForward pins id's state to seq. Used only while replaying the
// log, where the recorded sequence is ground truth.
func (t *Tracker) FastForward(id string, seq uint64) {
	st, _ := t.m.GetOrInsert(id, &SeqState{})
	st.Seq = seq
}

// Current reads id's last consumed sequence number.
func (t *Tracker) Current(id string) (uint64, bool) {
	st, ok := t.m.Get(id)
	if !ok {
		return 0, false
	}
	st.Lock()
	defer st.Unlock()
	return st.Seq, true
}
