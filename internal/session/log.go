package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
)

// DefaultRetention is how long session logs are kept by default.
const DefaultRetention = 7 * 24 * time.Hour

// maxLineSize bounds a single log line; tool output can be large.
const maxLineSize = 16 * 1024 * 1024

// LogPath returns the JSONL log path for a session.
func LogPath(dir, id string) string {
	return filepath.Join(dir, id+".jsonl")
}

// Log appends transcript entries to a JSONL file, one entry per line.
// Streaming text is written once, when the entry is finalized. A resolved
// tool call is written again under the same ID; readers keep the last line.
type Log struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	w         *bufio.Writer
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

var _ chat.Recorder = (*Log)(nil)

// OpenLog opens (or creates) the log for id in dir for appending.
func OpenLog(dir, id string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	path := LogPath(dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return &Log{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }

// Record writes the entry carried by change if it is durable.
func (l *Log) Record(change chat.Change) error {
	if !shouldRecord(change) {
		return nil
	}
	return l.writeLine(change.Entry)
}

func shouldRecord(change chat.Change) bool {
	switch change.Type {
	case chat.ChangeAppended:
		return !change.Entry.IsStreaming
	case chat.ChangeFinalized, chat.ChangeResolved:
		return true
	default:
		return false
	}
}

func (l *Log) writeLine(e chat.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("session log closed")
	}
	if _, err := l.w.Write(data); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close flushes and closes the file. Safe to call more than once.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed = true
		if err := l.w.Flush(); err != nil {
			l.closeErr = err
		}
		if err := l.file.Close(); err != nil && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

// ReadLog loads the entries of a session log. Later lines replace earlier
// ones with the same ID; entries keep the position they were first seen at.
// Lines that fail to parse are skipped.
func ReadLog(path string) ([]chat.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []chat.Entry
	index := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e chat.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			slog.Warn("skipping malformed session log line", "path", path, "line", lineNo, "error", err)
			continue
		}
		if e.ID == "" || !e.Kind.Valid() {
			slog.Warn("skipping invalid session log entry", "path", path, "line", lineNo, "kind", e.Kind)
			continue
		}
		if i, ok := index[e.ID]; ok {
			entries[i] = e
			continue
		}
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read session log: %w", err)
	}
	return entries, nil
}

// RemoveLog deletes the log for id. A missing file is not an error.
func RemoveLog(dir, id string) error {
	err := os.Remove(LogPath(dir, id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CleanupOldLogs removes .jsonl files in dir not modified within maxAge
// and returns how many were removed.
func CleanupOldLogs(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
