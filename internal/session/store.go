package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a session ID has no index record.
var ErrNotFound = errors.New("session not found")

// Store is the session index.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, opts ListOptions) ([]Session, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	// Touch records progress: the entry count, the summary if none is set
	// yet, and the update time.
	Touch(ctx context.Context, id string, entryCount int, summary string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled    bool   // Master switch
	Dir        string // Directory for the index and logs
	MaxAgeDays int    // Delete sessions untouched for N days (0=never)
}

// DBPath returns the index database path inside dir.
func DBPath(dir string) string {
	return filepath.Join(dir, "sessions.db")
}

// NewStore creates a Store based on the configuration.
// If sessions are disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}

// ResolveID finds a session by full ID or unique ID prefix.
func ResolveID(ctx context.Context, store Store, ref string) (*Session, error) {
	if sess, err := store.Get(ctx, ref); err != nil || sess != nil {
		return sess, err
	}
	all, err := store.List(ctx, ListOptions{Limit: -1})
	if err != nil {
		return nil, err
	}
	var match *Session
	for i := range all {
		if ref != "" && strings.HasPrefix(all[i].ID, ref) {
			if match != nil {
				return nil, errors.New("ambiguous session id prefix: " + ref)
			}
			match = &all[i]
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	return match, nil
}
