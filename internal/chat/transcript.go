package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// ChangeType describes a transcript mutation.
type ChangeType int

const (
	// ChangeAppended: a new entry was added.
	ChangeAppended ChangeType = iota
	// ChangeUpdated: the open streaming entry grew.
	ChangeUpdated
	// ChangeFinalized: a streaming entry was closed.
	ChangeFinalized
	// ChangeResolved: a tool_call entry became a tool_result.
	ChangeResolved
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAppended:
		return "appended"
	case ChangeUpdated:
		return "updated"
	case ChangeFinalized:
		return "finalized"
	case ChangeResolved:
		return "resolved"
	}
	return fmt.Sprintf("change(%d)", int(c))
}

// Change is delivered to transcript listeners after every mutation.
type Change struct {
	Type  ChangeType
	Index int
	Entry Entry
}

// Transcript is the ordered list of entries for one conversation.
//
// Entries are only ever appended. The mutations allowed in place are
// growing or finalizing the single open streaming assistant entry and
// turning a tool_call entry into its tool_result at the same index.
type Transcript struct {
	mu        sync.RWMutex
	entries   []Entry
	version   uint64
	listeners []func(Change)

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// TranscriptOption configures a Transcript.
type TranscriptOption func(*Transcript)

// WithTranscriptLogger sets the logger used for self-healing warnings.
func WithTranscriptLogger(l *slog.Logger) TranscriptOption {
	return func(t *Transcript) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTranscriptClock overrides the timestamp source.
func WithTranscriptClock(now func() time.Time) TranscriptOption {
	return func(t *Transcript) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTranscript(opts ...TranscriptOption) *Transcript {
	t := &Transcript{
		logger: slog.Default(),
		now:    time.Now,
		newID:  NewEntryID,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnChange registers a listener. Listeners run synchronously on the
// mutating goroutine after the transcript lock is released.
func (t *Transcript) OnChange(fn func(Change)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Append adds a finalized entry. Appending a user entry first finalizes
// any open streaming entry.
func (t *Transcript) Append(e Entry) (Entry, error) {
	if !e.Kind.Valid() {
		return Entry{}, fmt.Errorf("append: unknown entry kind %q", e.Kind)
	}
	t.mu.Lock()
	var changes []Change
	if e.Kind == KindUser {
		changes = t.finalizeLocked()
	}
	if e.IsStreaming {
		// Streaming entries only come from AppendStreaming.
		e.IsStreaming = false
	}
	stored := t.appendLocked(e)
	changes = append(changes, Change{Type: ChangeAppended, Index: len(t.entries) - 1, Entry: stored.Clone()})
	t.mu.Unlock()

	t.emit(changes)
	return stored.Clone(), nil
}

// Restore replaces the transcript with previously persisted entries.
// Streaming flags are cleared; no listeners fire.
func (t *Transcript) Restore(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Kind.Valid() {
			t.logger.Warn("restore: skipping entry with unknown kind", "id", e.ID, "kind", e.Kind)
			continue
		}
		e = e.Clone()
		e.IsStreaming = false
		t.entries = append(t.entries, e)
	}
	t.version++
}

// AppendStreaming appends delta to the open streaming assistant entry,
// creating one at the end of the transcript if none is open.
func (t *Transcript) AppendStreaming(delta string) Entry {
	t.mu.Lock()
	changes := t.healStreamingLocked()

	idx := t.streamingIndexLocked()
	if idx >= 0 && idx != len(t.entries)-1 {
		// Something was appended after the open entry; it can no longer grow.
		changes = append(changes, t.finalizeLocked()...)
		idx = -1
	}

	var out Entry
	if idx < 0 {
		out = t.appendLocked(Entry{Kind: KindAssistant, Content: delta, IsStreaming: true})
		changes = append(changes, Change{Type: ChangeAppended, Index: len(t.entries) - 1, Entry: out.Clone()})
	} else {
		t.entries[idx].Content += delta
		t.version++
		out = t.entries[idx]
		changes = append(changes, Change{Type: ChangeUpdated, Index: idx, Entry: out.Clone()})
	}
	t.mu.Unlock()

	t.emit(changes)
	return out.Clone()
}

// FinalizeStreaming closes the open streaming entry. It reports whether an
// entry was open.
func (t *Transcript) FinalizeStreaming() bool {
	t.mu.Lock()
	changes := t.finalizeLocked()
	t.mu.Unlock()
	t.emit(changes)
	return len(changes) > 0
}

// CloseStreaming finalizes the open streaming entry and records the tool
// batch it led to. It reports whether an entry was open.
func (t *Transcript) CloseStreaming(batch []llm.ToolCall) bool {
	t.mu.Lock()
	var changes []Change
	changes = append(changes, t.healStreamingLocked()...)
	idx := t.streamingIndexLocked()
	if idx >= 0 {
		t.entries[idx].IsStreaming = false
		t.entries[idx].ToolCalls = append([]llm.ToolCall(nil), batch...)
		t.version++
		changes = append(changes, Change{Type: ChangeFinalized, Index: idx, Entry: t.entries[idx].Clone()})
	}
	t.mu.Unlock()
	t.emit(changes)
	return idx >= 0
}

// AppendToolCalls appends one pending tool_call entry per call.
func (t *Transcript) AppendToolCalls(calls []llm.ToolCall) {
	t.mu.Lock()
	changes := make([]Change, 0, len(calls))
	for i := range calls {
		call := calls[i]
		call.Arguments = append([]byte(nil), call.Arguments...)
		stored := t.appendLocked(Entry{Kind: KindToolCall, ToolCall: &call})
		changes = append(changes, Change{Type: ChangeAppended, Index: len(t.entries) - 1, Entry: stored.Clone()})
	}
	t.mu.Unlock()
	t.emit(changes)
}

// ResolveToolCall converts the pending tool_call entry for id into a
// tool_result entry at the same index. It reports whether a pending call
// was found.
func (t *Transcript) ResolveToolCall(id string, result tools.Result) bool {
	t.mu.Lock()
	idx := -1
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.ToolCall != nil && e.ToolCall.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || t.entries[idx].Kind != KindToolCall {
		t.mu.Unlock()
		if idx < 0 {
			t.logger.Warn("tool result for unknown call", "call_id", id)
		} else {
			t.logger.Warn("tool call already resolved", "call_id", id)
		}
		return false
	}

	res := result
	e := &t.entries[idx]
	e.Kind = KindToolResult
	e.ToolResult = &res
	e.Content = result.Content()
	e.IsError = !result.Success
	t.version++
	change := Change{Type: ChangeResolved, Index: idx, Entry: e.Clone()}
	t.mu.Unlock()

	t.emit([]Change{change})
	return true
}

// ToolCallState reports whether a tool entry with id exists and whether it
// is still pending.
func (t *Transcript) ToolCallState(id string) (pending, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.ToolCall != nil && e.ToolCall.ID == id {
			return e.Kind == KindToolCall, true
		}
	}
	return false, false
}

// HasPendingToolCall reports whether an unresolved tool_call with id exists.
func (t *Transcript) HasPendingToolCall(id string) bool {
	pending, _ := t.ToolCallState(id)
	return pending
}

// PendingToolCalls returns all unresolved calls in transcript order.
func (t *Transcript) PendingToolCalls() []llm.ToolCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []llm.ToolCall
	for _, e := range t.entries {
		if e.Kind == KindToolCall && e.ToolCall != nil {
			out = append(out, *e.ToolCall)
		}
	}
	return out
}

// Snapshot returns a deep copy of all entries.
func (t *Transcript) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Clone()
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Version increases on every mutation.
func (t *Transcript) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Streaming returns the open streaming entry, if any.
func (t *Transcript) Streaming() (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.streamingIndexLocked()
	if idx < 0 {
		return Entry{}, false
	}
	return t.entries[idx].Clone(), true
}

// Messages converts the transcript into model history. Error entries are
// omitted. Each tool run becomes one assistant turn carrying its calls,
// merged with the assistant text before it, followed by one tool turn.
// Calls still pending get a synthetic error result so the history stays
// well formed.
func (t *Transcript) Messages() []llm.Message {
	entries := t.Snapshot()
	var msgs []llm.Message
	for i := 0; i < len(entries); {
		e := entries[i]
		switch e.Kind {
		case KindUser:
			if !e.IsError && e.Content != "" {
				msgs = append(msgs, llm.UserText(e.Content))
			}
			i++
		case KindAssistant:
			if e.IsError {
				i++
				continue
			}
			next, calls, results := collectToolRun(entries, i+1)
			if len(calls) == 0 {
				if e.Content != "" {
					msgs = append(msgs, llm.AssistantText(e.Content))
				}
			} else {
				msgs = append(msgs, llm.AssistantMessage(e.Content, calls), llm.ToolResultsMessage(results))
			}
			i = next
		default:
			next, calls, results := collectToolRun(entries, i)
			if len(calls) > 0 {
				msgs = append(msgs, llm.AssistantMessage("", calls), llm.ToolResultsMessage(results))
			}
			if next == i {
				// Tool entry with no call payload.
				next++
			}
			i = next
		}
	}
	return msgs
}

func collectToolRun(entries []Entry, start int) (next int, calls []llm.ToolCall, results []llm.ToolResult) {
	i := start
	for ; i < len(entries); i++ {
		e := entries[i]
		if (e.Kind != KindToolCall && e.Kind != KindToolResult) || e.ToolCall == nil {
			break
		}
		call := *e.ToolCall
		if len(call.Arguments) == 0 {
			call.Arguments = []byte("{}")
		}
		calls = append(calls, call)

		res := llm.ToolResult{ID: call.ID, Name: call.Name}
		switch {
		case e.Kind == KindToolCall || e.ToolResult == nil:
			res.Content = "Error: tool call did not complete"
			res.IsError = true
		default:
			res.Content = e.ToolResult.Content()
			res.IsError = !e.ToolResult.Success
		}
		results = append(results, res)
	}
	return i, calls, results
}

func (t *Transcript) appendLocked(e Entry) Entry {
	if e.ID == "" {
		e.ID = t.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	t.entries = append(t.entries, e)
	t.version++
	return e
}

func (t *Transcript) streamingIndexLocked() int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].IsStreaming {
			return i
		}
	}
	return -1
}

// healStreamingLocked finalizes all but the latest streaming entry.
func (t *Transcript) healStreamingLocked() []Change {
	latest := t.streamingIndexLocked()
	if latest < 0 {
		return nil
	}
	var changes []Change
	for i := 0; i < latest; i++ {
		if t.entries[i].IsStreaming {
			t.logger.Warn("multiple streaming entries, finalizing older one", "id", t.entries[i].ID)
			t.entries[i].IsStreaming = false
			t.version++
			changes = append(changes, Change{Type: ChangeFinalized, Index: i, Entry: t.entries[i].Clone()})
		}
	}
	return changes
}

func (t *Transcript) finalizeLocked() []Change {
	var changes []Change
	for i := range t.entries {
		if t.entries[i].IsStreaming {
			t.entries[i].IsStreaming = false
			t.version++
			changes = append(changes, Change{Type: ChangeFinalized, Index: i, Entry: t.entries[i].Clone()})
		}
	}
	return changes
}

func (t *Transcript) emit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	t.mu.RLock()
	listeners := append([]func(Change){}, t.listeners...)
	t.mu.RUnlock()
	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}
