// Package tools provides the local tool executor used by the agent loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// ToolKind categorizes tools for confirmation grouping.
type ToolKind string

const (
	KindRead    ToolKind = "read"
	KindEdit    ToolKind = "edit"
	KindSearch  ToolKind = "search"
	KindExecute ToolKind = "execute"
)

// GatedKinds are tool kinds that need user confirmation before running.
var GatedKinds = []ToolKind{KindEdit, KindExecute}

// ToolErrorType provides structured errors the model can react to.
type ToolErrorType string

const (
	ErrFileNotFound     ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams    ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed  ToolErrorType = "EXECUTION_FAILED"
	ErrPermissionDenied ToolErrorType = "PERMISSION_DENIED"
	ErrBinaryFile       ToolErrorType = "BINARY_FILE"
	ErrFileTooLarge     ToolErrorType = "FILE_TOO_LARGE"
	ErrTimeout          ToolErrorType = "TIMEOUT"
	ErrUnknownTool      ToolErrorType = "UNKNOWN_TOOL"
	ErrNoMatch          ToolErrorType = "NO_MATCH"
)

// ToolError provides structured error information.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// formatToolError formats a ToolError for model consumption.
func formatToolError(err *ToolError) string {
	return fmt.Sprintf("Error [%s]: %s", err.Type, err.Message)
}

// ConfirmationDetails describes the operation a gated call would perform.
type ConfirmationDetails struct {
	Tool string `json:"tool"`
	// Operation identifies the action for "always" approvals (a path or a command).
	Operation string `json:"operation"`
	Preview   string `json:"preview"`
	Diff      string `json:"diff,omitempty"`
	Command   string `json:"command,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Result is the outcome of one tool call.
type Result struct {
	Success              bool                 `json:"success"`
	Output               string               `json:"output,omitempty"`
	Error                string               `json:"error,omitempty"`
	RequiresConfirmation bool                 `json:"requires_confirmation,omitempty"`
	Confirmation         *ConfirmationDetails `json:"confirmation,omitempty"`
}

// Content returns the text sent back to the model for this result.
func (r Result) Content() string {
	if r.Success {
		return r.Output
	}
	if r.Output != "" && r.Error != "" {
		return r.Error + "\n" + r.Output
	}
	if r.Error != "" {
		return r.Error
	}
	return r.Output
}

// OK builds a successful result.
func OK(output string) Result {
	return Result{Success: true, Output: output}
}

// Failed builds a failed result from a structured tool error.
func Failed(err *ToolError) Result {
	return Result{Success: false, Error: formatToolError(err)}
}

// Executor runs tool calls. Tools that need confirmation return
// RequiresConfirmation with no side effects unless ctx carries an approval.
type Executor interface {
	Execute(ctx context.Context, call llm.ToolCall) (Result, error)
}

// Prechecker reports whether a call needs confirmation before it runs.
type Prechecker interface {
	Precheck(call llm.ToolCall) (*ConfirmationDetails, bool)
}

// Tool is a single locally executed tool.
type Tool interface {
	Spec() llm.ToolSpec
	Kind() ToolKind
	Preview(args json.RawMessage) string
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// Confirmable is implemented by gated tools to describe what they would do.
type Confirmable interface {
	Confirmation(args json.RawMessage) (*ConfirmationDetails, error)
}

// OutputLimits bounds what a tool returns to the model.
type OutputLimits struct {
	MaxLines int
	MaxBytes int64
}

func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines: 2000,
		MaxBytes: 50 * 1024,
	}
}

// Tool names
const (
	ReadFileToolName  = "read_file"
	WriteFileToolName = "write_file"
	EditFileToolName  = "edit_file"
	ShellToolName     = "shell"
	GrepToolName      = "grep"
	GlobToolName      = "glob"
)

// AllToolNames returns all built-in tool names.
func AllToolNames() []string {
	return []string{
		ReadFileToolName,
		WriteFileToolName,
		EditFileToolName,
		ShellToolName,
		GrepToolName,
		GlobToolName,
	}
}

func isGated(kind ToolKind) bool {
	for _, k := range GatedKinds {
		if k == kind {
			return true
		}
	}
	return false
}
