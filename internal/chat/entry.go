package chat

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// Kind identifies an entry type.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindAssistant, KindToolCall, KindToolResult:
		return true
	}
	return false
}

// Entry is one record in the transcript. Entries are immutable by
// convention once finalized; see Transcript for the allowed mutations.
type Entry struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Content     string         `json:"content,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	IsStreaming bool           `json:"is_streaming,omitempty"`
	ToolCall    *llm.ToolCall  `json:"tool_call,omitempty"`
	ToolResult  *tools.Result  `json:"tool_result,omitempty"`
	ToolCalls   []llm.ToolCall `json:"tool_calls,omitempty"`
	IsError     bool           `json:"is_error,omitempty"`
}

// Clone returns a deep copy so callers cannot alias transcript state.
func (e Entry) Clone() Entry {
	if e.ToolCall != nil {
		call := *e.ToolCall
		call.Arguments = append([]byte(nil), call.Arguments...)
		e.ToolCall = &call
	}
	if e.ToolResult != nil {
		res := *e.ToolResult
		if res.Confirmation != nil {
			details := *res.Confirmation
			res.Confirmation = &details
		}
		e.ToolResult = &res
	}
	if e.ToolCalls != nil {
		e.ToolCalls = append([]llm.ToolCall(nil), e.ToolCalls...)
	}
	return e
}

// UserEntry builds a user message entry.
func UserEntry(text string) Entry {
	return Entry{Kind: KindUser, Content: text}
}

// ErrorEntry builds an assistant entry describing a failure.
func ErrorEntry(text string) Entry {
	return Entry{Kind: KindAssistant, Content: text, IsError: true}
}

// NewEntryID returns a new lexically sortable entry ID.
func NewEntryID() string {
	return ulid.Make().String()
}
