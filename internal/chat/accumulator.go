package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

// DefaultFlushInterval is the minimum gap between non-forced flushes.
const DefaultFlushInterval = 50 * time.Millisecond

// CancelledMessage is appended when a cycle is cancelled by the user.
const CancelledMessage = "[Operation cancelled by user]"

// ErrIncompleteStream is reported when a transport closes without sending
// a done chunk.
var ErrIncompleteStream = errors.New("response ended before completion")

// Accumulator buffers chunks from one response and applies them to a
// Transcript in a fixed order: text first, then the pending tool batch,
// then any results whose calls are now present.
//
// An Accumulator is used by a single goroutine.
type Accumulator struct {
	transcript *Transcript
	logger     *slog.Logger
	limiter    *rate.Limiter
	now        func() time.Time

	content        strings.Builder
	pendingBatch   []llm.ToolCall
	pendingResults []ToolResultChunk
	done           bool
	// throttled is set when a flush was skipped by the rate limiter and
	// buffered data is still waiting.
	throttled bool
	usage     llm.Usage
}

// AccumulatorOption configures an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithFlushInterval sets the minimum gap between non-forced flushes.
// Zero or negative disables throttling.
func WithFlushInterval(d time.Duration) AccumulatorOption {
	return func(a *Accumulator) {
		if d <= 0 {
			a.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		a.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithClock overrides the time source used for throttling.
func WithClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAccumulatorLogger sets the logger for dropped-chunk warnings.
func WithAccumulatorLogger(l *slog.Logger) AccumulatorOption {
	return func(a *Accumulator) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAccumulator(t *Transcript, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		transcript: t,
		logger:     slog.Default(),
		limiter:    rate.NewLimiter(rate.Every(DefaultFlushInterval), 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Usage returns the token usage reported so far.
func (a *Accumulator) Usage() llm.Usage {
	return a.usage
}

// Done reports whether a done chunk has been consumed.
func (a *Accumulator) Done() bool {
	return a.done
}

// Consume buffers one chunk and attempts a flush. Malformed chunks are
// logged and dropped. After done every consume forces a flush so late
// results are still applied.
func (a *Accumulator) Consume(c Chunk) {
	if err := validateChunk(c); err != nil {
		a.logger.Warn("dropping malformed chunk", "chunk", fmt.Sprintf("%T", c), "error", err)
		return
	}

	switch v := c.(type) {
	case ContentChunk:
		if len(a.pendingBatch) > 0 {
			// Text after a batch belongs to the next turn and must land
			// after the batch's tool entries.
			a.Flush(true)
		}
		a.content.WriteString(v.Text)
	case TokenCountChunk:
		a.usage.Add(llm.Usage{InputTokens: v.Input, OutputTokens: v.Output})
		return
	case ToolCallsChunk:
		if len(a.pendingBatch) > 0 {
			// The previous batch must land before this one.
			a.Flush(true)
		}
		a.pendingBatch = append([]llm.ToolCall(nil), v.Calls...)
	case ToolResultChunk:
		a.pendingResults = append(a.pendingResults, v)
	case DoneChunk:
		a.done = true
		a.Flush(true)
		a.transcript.FinalizeStreaming()
		return
	}

	a.Flush(a.done)
}

// Flush applies buffered data to the transcript. A non-forced flush within
// the minimum interval of the previous flush does nothing and marks the
// accumulator throttled. Flush reports whether the transcript changed.
func (a *Accumulator) Flush(force bool) bool {
	if !a.hasBuffered() {
		a.throttled = false
		return false
	}
	now := a.now()
	if !a.limiter.AllowN(now, 1) && !force {
		a.throttled = true
		return false
	}
	a.throttled = false

	changed := false

	if a.content.Len() > 0 {
		a.transcript.AppendStreaming(a.content.String())
		a.content.Reset()
		changed = true
	}

	if len(a.pendingBatch) > 0 {
		batch := a.pendingBatch
		a.pendingBatch = nil
		a.transcript.CloseStreaming(batch)
		a.transcript.AppendToolCalls(batch)
		changed = true
	}

	if len(a.pendingResults) > 0 {
		held := a.pendingResults[:0]
		for _, r := range a.pendingResults {
			pending, found := a.transcript.ToolCallState(r.Call.ID)
			switch {
			case pending:
				a.transcript.ResolveToolCall(r.Call.ID, r.Result)
				changed = true
			case found:
				a.logger.Warn("dropping duplicate tool result", "call_id", r.Call.ID)
			default:
				held = append(held, r)
			}
		}
		a.pendingResults = held
	}

	return changed
}

// FlushDelay reports how long until a throttled flush would be allowed.
// ok is false when nothing is waiting.
func (a *Accumulator) FlushDelay() (d time.Duration, ok bool) {
	if !a.throttled || !a.hasBuffered() {
		return 0, false
	}
	if a.limiter.Limit() == rate.Inf {
		return 0, true
	}
	tokens := a.limiter.TokensAt(a.now())
	if tokens >= 1 {
		return 0, true
	}
	interval := time.Duration(float64(time.Second) / float64(a.limiter.Limit()))
	return time.Duration((1 - tokens) * float64(interval)), true
}

// HeldResults returns the number of results waiting for their call.
func (a *Accumulator) HeldResults() int {
	return len(a.pendingResults)
}

func (a *Accumulator) hasBuffered() bool {
	return a.content.Len() > 0 || len(a.pendingBatch) > 0 || len(a.pendingResults) > 0
}

// Finish applies everything still buffered once the transport has closed.
// Results that never found their call are logged and discarded.
func (a *Accumulator) Finish() {
	for a.hasBuffered() {
		if !a.Flush(true) {
			break
		}
	}
	for _, r := range a.pendingResults {
		a.logger.Warn("discarding tool result with no matching call", "call_id", r.Call.ID, "tool", r.Call.Name)
	}
	a.pendingResults = nil
	a.transcript.FinalizeStreaming()
}

// Fail applies buffered data, closes the open entry and records err as an
// error entry.
func (a *Accumulator) Fail(err error) {
	a.Finish()
	a.abandonPending("Error: " + err.Error())
	if _, appendErr := a.transcript.Append(ErrorEntry("Error: " + err.Error())); appendErr != nil {
		a.logger.Error("append error entry", "error", appendErr)
	}
}

// Cancel applies buffered data and records the cancellation.
func (a *Accumulator) Cancel() {
	a.Finish()
	a.abandonPending(CancelledMessage)
	if _, err := a.transcript.Append(ErrorEntry(CancelledMessage)); err != nil {
		a.logger.Error("append cancel entry", "error", err)
	}
}

// abandonPending resolves calls that will never get a result so the
// transcript does not show them as running forever.
func (a *Accumulator) abandonPending(reason string) {
	for _, call := range a.transcript.PendingToolCalls() {
		a.transcript.ResolveToolCall(call.ID, tools.Result{
			Success: false,
			Error:   reason,
		})
	}
}

type received struct {
	chunk Chunk
	err   error
}

// Run consumes stream until it closes. Chunks are read until io.EOF even
// after done, so results that arrive late are still applied. On transport
// failure or cancellation the matching entry is appended and the error is
// returned.
func (a *Accumulator) Run(ctx context.Context, stream ChunkStream) (llm.Usage, error) {
	recv := make(chan received)
	stop := make(chan struct{})
	go func() {
		for {
			c, err := stream.Recv()
			select {
			case recv <- received{c, err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer close(stop)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if timerC == nil {
			if d, ok := a.FlushDelay(); ok {
				timer = time.NewTimer(d)
				timerC = timer.C
			}
		}

		select {
		case <-ctx.Done():
			_ = stream.Close()
			a.Cancel()
			return a.usage, ctx.Err()

		case <-timerC:
			timerC = nil
			a.Flush(false)

		case r := <-recv:
			if r.err == nil {
				a.Consume(r.chunk)
				continue
			}
			_ = stream.Close()
			if errors.Is(r.err, io.EOF) {
				if !a.done {
					a.Fail(ErrIncompleteStream)
					return a.usage, ErrIncompleteStream
				}
				a.Finish()
				return a.usage, nil
			}
			if ctx.Err() != nil {
				a.Cancel()
				return a.usage, ctx.Err()
			}
			a.Fail(r.err)
			return a.usage, r.err
		}
	}
}
