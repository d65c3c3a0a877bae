// Package wal is the append-only decision log and the system's source
// of truth. One line per accepted or rejected request, synced to disk
// before any response leaves the server; the in-memory ledger is a
// cache rebuilt from it on startup.
package wal

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Log is a single append-only line file. One writer lock covers every
// append (write + sync) and every full read, so audit never observes a
// torn write.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Log{path: path, f: f}, nil
}

// Append writes one record and syncs it. An error here means the
// decision is not durable and the caller must not respond.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(r.String() + "\n"); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	return nil
}

// Lines returns every raw line in the log, in order. Used by audit.
func (l *Log) Lines() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLines()
}

func (l *Log) readLines() ([]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("wal: read %s: %w", l.path, err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// Scan replays every well-formed record in order. Malformed lines,
// e.g. the tail of a crashed write, are skipped.
func (l *Log) Scan(fn func(Record) error) error {
	l.mu.Lock()
	lines, err := l.readLines()
	l.mu.Unlock()
	if err != nil {
		return err
	}
	for _, line := range lines {
		rec, ok := Parse(line)
		if !ok {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// RepairTail appends a newline if the last byte is not one, so a
// half-written final record from a crash cannot swallow the next
// append. Called once at startup, after replay.
func (l *Log) RepairTail() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := l.f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("wal: read tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := l.f.WriteString("\n"); err != nil {
		return fmt.Errorf("wal: repair tail: %w", err)
	}
	return l.f.Sync()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
