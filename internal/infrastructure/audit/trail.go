package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Trail is an append-only decision log: one JSON object per line, every
// entry carrying an ISO-8601 UTC timestamp and an event name. Entries are
// written unbuffered, fsynced and under a mutex, so the line is durable
// before the caller returns and concurrent writers never interleave.
// Entries are never rewritten or deleted.
type Trail struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func NewTrail(path string) (*Trail, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	return &Trail{file: f, path: path}, nil
}

// Write appends one entry. event-specific fields ride alongside the
// required timestamp and event keys; a field named timestamp or event in
// the map is ignored rather than allowed to clobber the schema.
func (t *Trail) Write(event string, fields map[string]any) error {
	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		if k == "timestamp" || k == "event" {
			continue
		}
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["event"] = event

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	// Past the page cache too: a decision record must survive power loss,
	// not just a process crash.
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync audit entry: %w", err)
	}
	return nil
}

// Tail returns the last n entries, oldest first, decoded back into maps.
// Used by the status endpoints; the trail itself is the source of truth.
func (t *Trail) Tail(n int) ([]map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Close releases the underlying file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
