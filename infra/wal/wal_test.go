package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLog_AppendAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	// --- write phase ---
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	recs := []Record{
		{Op: OpOpen, Decision: Accept, Args: []string{"alice", "50"}, Seq: 1},
		{Op: OpSend, Decision: Accept, Args: []string{"alice", "bob", "20"}, Seq: 2},
		{Op: OpSend, Decision: Reject, Args: []string{"alice", "bob", "999"}, Seq: 3},
		{Op: OpCheck, Decision: Accept, Args: []string{"alice"}, Seq: 4},
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// --- scan phase ---
	r, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	var got []Record
	err = r.Scan(func(rec Record) error {
		got = append(got, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("expected %d records, got %d", len(recs), len(got))
	}
	for i := range recs {
		if got[i].String() != recs[i].String() {
			t.Errorf("record %d: got %q, want %q", i, got[i].String(), recs[i].String())
		}
	}
}

func TestLog_ScanSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	raw := "open accept alice 50 1 .\n" +
		"send accept alice bob\n" + // truncated mid-write
		"garbage line here\n" +
		"check accept alice 2 .\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	count := 0
	if err := w.Scan(func(Record) error { count++; return nil }); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 well-formed records, got %d", count)
	}
}

func TestLog_RepairTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	if err := os.WriteFile(path, []byte("open accept alice 50 1 .\nsend accept ali"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.RepairTail(); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if err := w.Append(Record{Op: OpCheck, Decision: Accept, Args: []string{"alice"}, Seq: 2}); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines, err := w.Lines()
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}
	if _, ok := Parse(lines[2]); !ok {
		t.Fatalf("appended line not parseable: %q", lines[2])
	}
	_ = w.Close()
}

func TestParse_RejectsBadLines(t *testing.T) {
	bad := []string{
		"",
		".",
		"open accept alice 50 1",           // no terminal dot
		"open accept alice 1 .",            // wrong token count
		"open maybe alice 50 1 .",          // unknown decision
		"open accept alice 50 notanum .",   // bad sequence
		"close accept alice 50 1 .",        // unknown op
		"send accept alice bob 20 1 . extra",
	}
	for _, line := range bad {
		if _, ok := Parse(line); ok {
			t.Errorf("parsed malformed line %q", line)
		}
	}

	rec, ok := Parse("send reject alice bob 20 7 .")
	if !ok {
		t.Fatal("well-formed line rejected")
	}
	if rec.Op != OpSend || rec.Decision != Reject || rec.Seq != 7 {
		t.Fatalf("bad parse: %+v", rec)
	}
	if len(rec.Args) != 3 || rec.Args[2] != "20" {
		t.Fatalf("bad args: %v", rec.Args)
	}
}
