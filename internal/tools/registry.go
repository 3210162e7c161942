package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// Registry holds the enabled local tools and dispatches calls to them.
type Registry struct {
	tools  map[string]Tool
	limits OutputLimits
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLimits overrides the output limits for tools registered afterwards.
func WithLimits(limits OutputLimits) RegistryOption {
	return func(r *Registry) { r.limits = limits }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry with the named built-in tools enabled.
// An empty list enables every built-in tool.
func NewRegistry(enabled []string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		tools:  make(map[string]Tool),
		limits: DefaultOutputLimits(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(enabled) == 0 {
		enabled = AllToolNames()
	}
	for _, name := range enabled {
		if err := r.registerBuiltin(name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) registerBuiltin(name string) error {
	var tool Tool
	switch name {
	case ReadFileToolName:
		tool = NewReadFileTool(r.limits)
	case WriteFileToolName:
		tool = NewWriteFileTool()
	case EditFileToolName:
		tool = NewEditFileTool()
	case ShellToolName:
		tool = NewShellTool(r.limits)
	case GrepToolName:
		tool = NewGrepTool(r.limits)
	case GlobToolName:
		tool = NewGlobTool()
	default:
		return NewToolErrorf(ErrInvalidParams, "unknown tool: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Spec().Name] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Specs returns tool specs sorted by name so requests are stable.
func (r *Registry) Specs() []llm.ToolSpec {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Preview returns a one-line description of a call for display.
func (r *Registry) Preview(call llm.ToolCall) string {
	tool, ok := r.tools[call.Name]
	if !ok {
		return call.Name
	}
	if p := tool.Preview(call.Arguments); p != "" {
		return p
	}
	return call.Name
}

// Precheck reports whether call needs confirmation and describes it.
func (r *Registry) Precheck(call llm.ToolCall) (*ConfirmationDetails, bool) {
	tool, ok := r.tools[call.Name]
	if !ok || !isGated(tool.Kind()) {
		return nil, false
	}
	return r.confirmation(tool, call), true
}

func (r *Registry) confirmation(tool Tool, call llm.ToolCall) *ConfirmationDetails {
	if c, ok := tool.(Confirmable); ok {
		details, err := c.Confirmation(call.Arguments)
		if err == nil && details != nil {
			return details
		}
		if err != nil {
			r.logger.Debug("confirmation preview failed", "tool", call.Name, "error", err)
		}
	}
	preview := tool.Preview(call.Arguments)
	return &ConfirmationDetails{Tool: call.Name, Operation: preview, Preview: preview}
}

// Execute runs a call. Unknown tools and invalid input produce a failed
// Result rather than an error; the error return is reserved for
// cancellation.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (Result, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return Failed(NewToolErrorf(ErrUnknownTool, "tool %q is not available", call.Name)), nil
	}
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if isGated(tool.Kind()) && !HasApproval(ctx) {
		return Result{
			RequiresConfirmation: true,
			Confirmation:         r.confirmation(tool, llm.ToolCall{ID: call.ID, Name: call.Name, Arguments: args}),
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Failed(NewToolErrorf(ErrExecutionFailed, "%v", err)), nil
	}
	r.logger.Debug("tool executed", "tool", call.Name, "id", call.ID, "success", result.Success)
	return result, nil
}

func decodeArgs(args json.RawMessage, v any) *ToolError {
	if err := json.Unmarshal(args, v); err != nil {
		return NewToolError(ErrInvalidParams, fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}
