// Package agent runs the model/tool loop and exposes it as a chat transport.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

const (
	DefaultMaxTurns       = 25
	DefaultRequestTimeout = 10 * time.Minute
)

// ErrMaxTurns is returned when the model keeps requesting tools past the
// turn limit.
var ErrMaxTurns = errors.New("agent exceeded max turns")

// ToolSet is the tool surface the agent offers the model.
type ToolSet interface {
	tools.Executor
	Specs() []llm.ToolSpec
}

// Options configures an Agent.
type Options struct {
	Model           string
	MaxTokens       int
	MaxTurns        int
	RequestTimeout  time.Duration
	ToolConcurrency int
	Logger          *slog.Logger
}

// Agent implements chat.Transport over an llm.Provider. Each Stream call
// runs turns until the model answers without tool calls.
type Agent struct {
	provider   llm.Provider
	tools      ToolSet
	dispatcher *Dispatcher
	opts       Options
	logger     *slog.Logger
}

var _ chat.Transport = (*Agent)(nil)

// New builds an agent. toolset may be nil for a tool-less chat.
func New(provider llm.Provider, toolset ToolSet, gate Gate, opts Options) *Agent {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		provider: provider,
		tools:    toolset,
		opts:     opts,
		logger:   logger.With("provider", provider.Name()),
	}
	if toolset != nil {
		a.dispatcher = NewDispatcher(toolset, gate, opts.ToolConcurrency, a.logger)
	}
	return a
}

// Stream starts the loop for history in a background goroutine.
func (a *Agent) Stream(ctx context.Context, history []llm.Message) (chat.ChunkStream, error) {
	msgs := append([]llm.Message(nil), history...)
	return chat.NewChunkStream(ctx, func(ctx context.Context, emit func(chat.Chunk) error) error {
		return a.run(ctx, msgs, emit)
	}), nil
}

func (a *Agent) run(ctx context.Context, msgs []llm.Message, emit func(chat.Chunk) error) error {
	var specs []llm.ToolSpec
	if a.tools != nil {
		specs = a.tools.Specs()
	}

	for turn := 0; turn < a.opts.MaxTurns; turn++ {
		text, calls, err := a.streamTurn(ctx, turn, msgs, specs, emit)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return emit(chat.DoneChunk{})
		}
		if a.dispatcher == nil {
			return fmt.Errorf("model requested tool %q but no tools are enabled", calls[0].Name)
		}
		if turn == a.opts.MaxTurns-1 {
			return fmt.Errorf("%w (%d)", ErrMaxTurns, a.opts.MaxTurns)
		}

		calls = dedupeToolCalls(ensureToolCallIDs(calls, turn))
		if err := emit(chat.ToolCallsChunk{Calls: calls}); err != nil {
			return err
		}

		results, err := a.dispatcher.Dispatch(ctx, calls, func(call llm.ToolCall, res tools.Result) {
			// A failed emit means the consumer is gone; Dispatch sees the
			// same cancellation.
			_ = emit(chat.ToolResultChunk{Call: call, Result: res})
		})
		if err != nil {
			return err
		}

		msgs = append(msgs, llm.AssistantMessage(text, calls), toolResultsMessage(calls, results))
	}
	return fmt.Errorf("%w (%d)", ErrMaxTurns, a.opts.MaxTurns)
}

// streamTurn runs one provider request, forwarding text and usage, and
// returns the turn's text and requested tool calls.
func (a *Agent) streamTurn(ctx context.Context, turn int, msgs []llm.Message, specs []llm.ToolSpec, emit func(chat.Chunk) error) (string, []llm.ToolCall, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	req := llm.Request{
		Model:           a.opts.Model,
		Messages:        msgs,
		Tools:           specs,
		MaxOutputTokens: a.opts.MaxTokens,
	}
	if len(specs) > 0 {
		req.ToolChoice = llm.ToolChoice{Mode: llm.ToolChoiceAuto}
	}

	a.logger.Debug("model request", "turn", turn, "messages", len(msgs), "tools", len(specs))
	stream, err := a.provider.Stream(reqCtx, req)
	if err != nil {
		return "", nil, a.turnError(ctx, reqCtx, err)
	}
	defer stream.Close()

	var text strings.Builder
	var calls []llm.ToolCall
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, a.turnError(ctx, reqCtx, err)
		}
		switch ev.Type {
		case llm.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err := emit(chat.ContentChunk{Text: ev.Text}); err != nil {
				return "", nil, err
			}
		case llm.EventToolCall:
			if ev.Tool == nil || ev.Tool.Name == "" {
				a.logger.Warn("ignoring tool call without a name", "turn", turn)
				continue
			}
			calls = append(calls, *ev.Tool)
		case llm.EventUsage:
			if ev.Use != nil {
				if err := emit(chat.TokenCountChunk{Input: ev.Use.InputTokens, Output: ev.Use.OutputTokens}); err != nil {
					return "", nil, err
				}
			}
		case llm.EventRetry:
			a.logger.Info("retrying model request", "attempt", ev.RetryAttempt, "max_attempts", ev.RetryMaxAttempts, "wait_seconds", ev.RetryWaitSecs)
		case llm.EventError:
			if ev.Err != nil {
				return "", nil, a.turnError(ctx, reqCtx, ev.Err)
			}
		case llm.EventDone:
		}
	}
	return text.String(), calls, nil
}

// turnError reports a request-timeout distinctly from user cancellation.
func (a *Agent) turnError(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("model request timed out after %s", a.opts.RequestTimeout)
	}
	return err
}

func toolResultsMessage(calls []llm.ToolCall, results []tools.Result) llm.Message {
	out := make([]llm.ToolResult, len(calls))
	for i, call := range calls {
		res := results[i]
		out[i] = llm.ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: res.Content(),
			IsError: !res.Success,
		}
	}
	return llm.ToolResultsMessage(out)
}

func ensureToolCallIDs(calls []llm.ToolCall, turn int) []llm.ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d-%d", turn+1, i+1)
		}
	}
	return calls
}

func dedupeToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		if _, ok := seen[call.ID]; ok {
			continue
		}
		seen[call.ID] = struct{}{}
		out = append(out, call)
	}
	return out
}
