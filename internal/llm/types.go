package llm

import (
	"context"
	"encoding/json"
)

// Provider is a model backend that streams its reply as events.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a pull iterator over events; Recv returns io.EOF at the end.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request is one model turn: the full conversation so far plus the tools
// the model may call.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	ToolChoice      ToolChoice
	MaxOutputTokens int
}

// Role is who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType tags the payload a Part carries.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message is one conversation turn.
type Message struct {
	Role  Role
	Parts []Part
}

// Part is text, a tool call, or a tool result.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec is the name, description and JSON schema sent to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolChoiceMode controls whether the model calls tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
)

// ToolChoice pins tool selection for one request.
type ToolChoice struct {
	Mode ToolChoiceMode
}

// ToolCall is one invocation the model asked for.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult answers a ToolCall by ID.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// EventType tags an Event.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventUsage     EventType = "usage"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventRetry     EventType = "retry"
)

// Event is one item of a provider stream.
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall
	Use  *Usage
	Err  error

	// Set on EventRetry.
	RetryAttempt     int
	RetryMaxAttempts int
	RetryWaitSecs    float64
}

// Usage is the token count a provider reported for a turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates another usage report.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

func textMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

// SystemText builds a system prompt message.
func SystemText(text string) Message { return textMessage(RoleSystem, text) }

// UserText builds a plain user turn.
func UserText(text string) Message { return textMessage(RoleUser, text) }

// AssistantText builds an assistant turn that requested no tools.
func AssistantText(text string) Message { return textMessage(RoleAssistant, text) }

// AssistantMessage builds an assistant turn from its text and the tool
// calls it requested, in request order.
func AssistantMessage(text string, calls []ToolCall) Message {
	msg := Message{Role: RoleAssistant}
	if text != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartText, Text: text})
	}
	calls = append([]ToolCall(nil), calls...)
	for i := range calls {
		msg.Parts = append(msg.Parts, Part{Type: PartToolCall, ToolCall: &calls[i]})
	}
	return msg
}

// ToolResultsMessage answers one tool batch in a single turn.
func ToolResultsMessage(results []ToolResult) Message {
	msg := Message{Role: RoleTool}
	results = append([]ToolResult(nil), results...)
	for i := range results {
		msg.Parts = append(msg.Parts, Part{Type: PartToolResult, ToolResult: &results[i]})
	}
	return msg
}
