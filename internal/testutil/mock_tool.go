// Package testutil holds fakes shared by tests across packages.
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// MockTool is a configurable tools.Tool for testing.
type MockTool struct {
	SpecData  llm.ToolSpec
	KindValue tools.ToolKind
	ExecuteFn func(ctx context.Context, args json.RawMessage) (tools.Result, error)
	PreviewFn func(args json.RawMessage) string

	mu          sync.Mutex
	invocations []MockToolInvocation
}

// MockToolInvocation records a single tool invocation.
type MockToolInvocation struct {
	Args   json.RawMessage
	Result tools.Result
	Error  error
}

func (m *MockTool) Spec() llm.ToolSpec {
	return m.SpecData
}

func (m *MockTool) Kind() tools.ToolKind {
	if m.KindValue == "" {
		return tools.KindRead
	}
	return m.KindValue
}

func (m *MockTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var (
		result tools.Result
		err    error
	)
	if m.ExecuteFn != nil {
		result, err = m.ExecuteFn(ctx, args)
	}
	m.mu.Lock()
	m.invocations = append(m.invocations, MockToolInvocation{Args: args, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

func (m *MockTool) Preview(args json.RawMessage) string {
	if m.PreviewFn == nil {
		return ""
	}
	return m.PreviewFn(args)
}

// Invocations returns a copy of the recorded calls.
func (m *MockTool) Invocations() []MockToolInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockToolInvocation(nil), m.invocations...)
}

// Calls returns how many times the tool ran.
func (m *MockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}

// NewMockTool creates a read-kind tool that always returns output.
func NewMockTool(name, output string) *MockTool {
	return NewMockToolFunc(name, tools.KindRead, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.OK(output), nil
	})
}

// NewMockToolFunc creates a tool of the given kind backed by fn.
func NewMockToolFunc(name string, kind tools.ToolKind, fn func(ctx context.Context, args json.RawMessage) (tools.Result, error)) *MockTool {
	return &MockTool{
		SpecData: llm.ToolSpec{
			Name:        name,
			Description: "Mock tool: " + name,
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		KindValue: kind,
		ExecuteFn: fn,
	}
}
