package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
)

// touchTimeout bounds index updates made from the transcript listener.
const touchTimeout = 2 * time.Second

// Recorder persists a conversation: entries go to the JSONL log, and the
// index row tracks the entry count, summary and final status.
type Recorder struct {
	log    *Log
	store  Store
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	count   int
	summary string
	status  Status
}

var _ chat.Recorder = (*Recorder)(nil)

// NewRecorder wraps an open log and the index. The session row must
// already exist in store.
func NewRecorder(log *Log, store Store, id string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log:    log,
		store:  store,
		id:     id,
		logger: logger.With("session", ShortID(id)),
		status: StatusComplete,
	}
}

// ID returns the session ID.
func (r *Recorder) ID() string { return r.id }

// Record writes the change to the log and updates the index when a new
// durable entry was added.
func (r *Recorder) Record(change chat.Change) error {
	if err := r.log.Record(change); err != nil {
		return err
	}
	if change.Type != chat.ChangeAppended && change.Type != chat.ChangeFinalized {
		return nil
	}
	if change.Type == chat.ChangeAppended && change.Entry.IsStreaming {
		return nil
	}

	r.mu.Lock()
	r.count++
	if r.summary == "" && change.Entry.Kind == chat.KindUser {
		r.summary = change.Entry.Content
	}
	count, summary := r.count, r.summary
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := r.store.Touch(ctx, r.id, count, summary); err != nil {
		r.logger.Debug("session touch failed", "error", err)
	}
	return nil
}

// Restored seeds the entry count when a session is resumed.
func (r *Recorder) Restored(entries []chat.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = len(entries)
	for _, e := range entries {
		if e.Kind == chat.KindUser {
			r.summary = e.Content
			break
		}
	}
}

// SetStatus sets the status written to the index on Close.
func (r *Recorder) SetStatus(status Status) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

// Close closes the log and writes the final status.
func (r *Recorder) Close() error {
	err := r.log.Close()

	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if serr := r.store.UpdateStatus(ctx, r.id, status); serr != nil {
		r.logger.Debug("session status update failed", "error", serr)
	}
	return err
}
