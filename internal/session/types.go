package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a session.
type Status string

const (
	StatusActive      Status = "active"      // Session is open
	StatusComplete    Status = "complete"    // Session finished normally
	StatusError       Status = "error"       // Last cycle ended with an error
	StatusInterrupted Status = "interrupted" // Last cycle was cancelled by the user
)

// Mode is the surface a session was started from.
type Mode string

const (
	ModeChat Mode = "chat" // Interactive chat TUI
	ModeAsk  Mode = "ask"  // One-shot ask command
)

// Session is the index record for one conversation. The entries themselves
// live in the session's JSONL log.
type Session struct {
	ID         string    `json:"id"`
	Summary    string    `json:"summary,omitempty"` // First user message
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Mode       Mode      `json:"mode,omitempty"`
	CWD        string    `json:"cwd,omitempty"`
	Status     Status    `json:"status,omitempty"`
	EntryCount int       `json:"entry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListOptions configures session listing.
type ListOptions struct {
	Provider string
	Mode     Mode
	Status   Status
	Limit    int // 0 = default
	Offset   int
}

func (s *Session) fillDefaults(now time.Time) {
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.Mode == "" {
		s.Mode = ModeChat
	}
}

// NewID returns a new session ID.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first block of a session ID for display.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
