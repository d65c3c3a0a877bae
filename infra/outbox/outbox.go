// Package outbox is a durable queue of accepted ledger decisions
// awaiting broadcast. It is an observer only: the write-ahead log
// stays the source of truth and recovery never reads the outbox.
package outbox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// State tracks how far a record got through publishing.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Event is the published form of one accepted decision.
type Event struct {
	V           int    `json:"v"`
	Op          string `json:"op"`
	Identity    string `json:"identity"`
	Destination string `json:"destination,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Seq         uint64 `json:"seq"`
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Record is one outbox entry.
type Record struct {
	State   State
	Retries uint32
	Updated int64
	Payload []byte
}

// binary encoding: [state:1][retries:4][updated:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, 1+4+8+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.Updated))
	copy(buf[13:], r.Payload)
	return buf
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < 13 {
		return Record{}, errors.New("outbox: record too short")
	}
	return Record{
		State:   State(b[0]),
		Retries: binary.BigEndian.Uint32(b[1:5]),
		Updated: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload: append([]byte(nil), b[13:]...),
	}, nil
}

// Outbox stores records in pebble, keyed by event id.
type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put inserts a new entry awaiting broadcast.
func (o *Outbox) Put(id uint64, payload []byte) error {
	rec := Record{
		State:   StateNew,
		Updated: time.Now().UnixNano(),
		Payload: payload,
	}
	return o.db.Set(keyFor(id), encodeRecord(rec), pebble.Sync)
}

// Mark moves an entry to the given state, bumping the retry counter on
// every SENT transition.
func (o *Outbox) Mark(id uint64, state State) error {
	rec, err := o.Get(id)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Updated = time.Now().UnixNano()
	if state == StateSent {
		rec.Retries++
	}
	return o.db.Set(keyFor(id), encodeRecord(rec), pebble.Sync)
}

func (o *Outbox) Get(id uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(id))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(val)
}

// Delete drops an entry, typically after it was ACKED and trimmed.
func (o *Outbox) Delete(id uint64) error {
	return o.db.Delete(keyFor(id), pebble.Sync)
}

// ScanPending walks every entry that still needs publishing: NEW ones
// and SENT ones whose ack never happened.
func (o *Outbox) ScanPending(fn func(id uint64, rec Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(id, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MaxID returns the highest event id present, so the id sequencer can
// resume past it after a restart.
func (o *Outbox) MaxID() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

const keyPrefix = "event/"

func keyFor(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, id))
}

func parseKey(b []byte) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &id)
	return id, err
}
