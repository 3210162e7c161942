// Package chat turns streamed model output into an ordered transcript of
// chat entries and drives one request/response cycle at a time.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// Chunk is one incremental unit produced by a Transport. The set of
// variants is closed: ContentChunk, TokenCountChunk, ToolCallsChunk,
// ToolResultChunk and DoneChunk.
type Chunk interface {
	chunk()
	validate() error
}

// ContentChunk carries a text delta.
type ContentChunk struct {
	Text string
}

// TokenCountChunk reports token usage for one model request.
type TokenCountChunk struct {
	Input  int
	Output int
}

// ToolCallsChunk announces a complete batch of tool calls.
type ToolCallsChunk struct {
	Calls []llm.ToolCall
}

// ToolResultChunk carries the result of one call from a previous batch.
type ToolResultChunk struct {
	Call   llm.ToolCall
	Result tools.Result
}

// DoneChunk signals that the response is complete.
type DoneChunk struct{}

func (ContentChunk) chunk()    {}
func (TokenCountChunk) chunk() {}
func (ToolCallsChunk) chunk()  {}
func (ToolResultChunk) chunk() {}
func (DoneChunk) chunk()       {}

func (c ContentChunk) validate() error { return nil }

func (c TokenCountChunk) validate() error {
	if c.Input < 0 || c.Output < 0 {
		return fmt.Errorf("negative token count %d/%d", c.Input, c.Output)
	}
	return nil
}

func (c ToolCallsChunk) validate() error {
	if len(c.Calls) == 0 {
		return errors.New("empty tool call batch")
	}
	seen := make(map[string]bool, len(c.Calls))
	for i, call := range c.Calls {
		if call.ID == "" {
			return fmt.Errorf("tool call %d has no id", i)
		}
		if call.Name == "" {
			return fmt.Errorf("tool call %s has no name", call.ID)
		}
		if seen[call.ID] {
			return fmt.Errorf("duplicate tool call id %s", call.ID)
		}
		seen[call.ID] = true
	}
	return nil
}

func (c ToolResultChunk) validate() error {
	if c.Call.ID == "" {
		return errors.New("tool result has no call id")
	}
	return nil
}

func (DoneChunk) validate() error { return nil }

func validateChunk(c Chunk) error {
	if c == nil {
		return errors.New("nil chunk")
	}
	return c.validate()
}

// ChunkStream yields chunks until io.EOF, which means the transport has
// closed. Any other error is a transport failure.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

// Transport starts a streamed response for the given conversation history.
type Transport interface {
	Stream(ctx context.Context, history []llm.Message) (ChunkStream, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, history []llm.Message) (ChunkStream, error)

func (f TransportFunc) Stream(ctx context.Context, history []llm.Message) (ChunkStream, error) {
	return f(ctx, history)
}
