package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry records one terminal outcome: a confirmed or failed order, or a
// finished scan job.
type Entry struct {
	Kind    string    `json:"kind"`
	ID      string    `json:"id"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Journal appends serialized outcome entries to a file for durability.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open constructs a Journal targeting the given path, creating the file if
// needed.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f, path: path}, nil
}

// Append writes the entry as one JSON line and syncs.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}

	return j.f.Sync()
}

// Replay reads back every entry written so far. Blank lines are skipped;
// a malformed line fails the replay.
func (j *Journal) Replay() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("corrupt journal line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
