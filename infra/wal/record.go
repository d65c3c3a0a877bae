package wal

import (
	"strconv"
	"strings"
)

// Decision is the durable outcome of one sequence-consuming request.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// Operation names as they appear in the log.
const (
	OpOpen    = "open"
	OpSend    = "send"
	OpReceive = "receive"
	OpCheck   = "check"
	OpAudit   = "audit"
)

// tokensByOp is the exact token count of a well-formed line per
// operation, terminal "." included. Anything else is treated as a torn
// write and skipped.
var tokensByOp = map[string]int{
	OpOpen:    6,
	OpSend:    7,
	OpReceive: 5,
	OpCheck:   5,
	OpAudit:   5,
}

// Record is one log line: `op decision args... seq .`. Args are the
// operation-specific middle tokens (identities, amounts), already in
// their string form.
type Record struct {
	Op       string
	Decision Decision
	Args     []string
	Seq      uint64
}

// String renders the line without its trailing newline.
func (r Record) String() string {
	parts := make([]string, 0, len(r.Args)+4)
	parts = append(parts, r.Op, string(r.Decision))
	parts = append(parts, r.Args...)
	parts = append(parts, strconv.FormatUint(r.Seq, 10), ".")
	return strings.Join(parts, " ")
}

// Parse reads one line back into a Record. It returns false for lines
// that are malformed, truncated or missing the terminal dot; recovery
// and audit both skip those.
func Parse(line string) (Record, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, false
	}
	want, ok := tokensByOp[fields[0]]
	if !ok || len(fields) != want {
		return Record{}, false
	}
	if fields[len(fields)-1] != "." {
		return Record{}, false
	}
	dec := Decision(fields[1])
	if dec != Accept && dec != Reject {
		return Record{}, false
	}
	seq, err := strconv.ParseUint(fields[len(fields)-2], 10, 64)
	if err != nil {
		return Record{}, false
	}
	return Record{
		Op:       fields[0],
		Decision: dec,
		Args:     fields[2 : len(fields)-2],
		Seq:      seq,
	}, true
}
