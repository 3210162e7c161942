package session

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingStore wraps a Store and logs write failures once per operation.
// Callers treat persistence as best effort; this keeps failures visible
// without flooding the log.
type LoggingStore struct {
	Store
	logger *slog.Logger
	mu     sync.Mutex
	warned map[string]bool
}

func NewLoggingStore(store Store, logger *slog.Logger) *LoggingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingStore{
		Store:  store,
		logger: logger,
		warned: make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn("session store operation failed", "op", op, "error", err)
}

func (s *LoggingStore) Create(ctx context.Context, sess *Session) error {
	err := s.Store.Create(ctx, sess)
	s.logOnce("create", err)
	return err
}

func (s *LoggingStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	err := s.Store.UpdateStatus(ctx, id, status)
	s.logOnce("update_status", err)
	return err
}

func (s *LoggingStore) Touch(ctx context.Context, id string, entryCount int, summary string) error {
	err := s.Store.Touch(ctx, id, entryCount, summary)
	s.logOnce("touch", err)
	return err
}
