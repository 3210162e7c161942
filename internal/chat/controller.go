package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

var (
	// ErrBusy is returned by Submit while a cycle is in progress.
	ErrBusy = errors.New("a response is already in progress")
	// ErrEmptyInput is returned by Submit for blank input.
	ErrEmptyInput = errors.New("empty input")
)

// Recorder persists transcript changes, typically a session log.
type Recorder interface {
	Record(Change) error
	Close() error
}

// Controller owns one conversation: it appends user input, runs the
// transport and accumulator for one cycle at a time, and mirrors progress
// into the indicator store.
type Controller struct {
	transport  Transport
	transcript *Transcript
	store      Store
	recorder   Recorder
	gate       *confirm.Gate
	logger     *slog.Logger

	systemPrompt  string
	flushInterval time.Duration

	mu         sync.Mutex
	processing bool
	cancel     context.CancelFunc
	cycleDone  chan struct{}
	usage      llm.Usage
	started    bool
	tornDown   bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithTranscript(t *Transcript) ControllerOption {
	return func(c *Controller) { c.transcript = t }
}

func WithStore(s Store) ControllerOption {
	return func(c *Controller) { c.store = s }
}

func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithGate mirrors the gate's pending confirmation into the store.
func WithGate(g *confirm.Gate) ControllerOption {
	return func(c *Controller) { c.gate = g }
}

func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithSystemPrompt(prompt string) ControllerOption {
	return func(c *Controller) { c.systemPrompt = prompt }
}

func WithControllerFlushInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.flushInterval = d }
}

func NewController(transport Transport, opts ...ControllerOption) *Controller {
	c := &Controller{
		transport:     transport,
		logger:        slog.Default(),
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transcript == nil {
		c.transcript = NewTranscript(WithTranscriptLogger(c.logger))
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	c.transcript.OnChange(c.OnMessageUpdate)
	return c
}

// OnStart publishes the idle state and wires the confirmation indicator.
// It is safe to call more than once.
func (c *Controller) OnStart(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.store.Clear(KeySpinner)
	c.store.Clear(KeyConfirmation)
	if c.gate != nil {
		c.gate.OnStateChange(func(s confirm.State, req *confirm.Request) {
			if s == confirm.StateAwaitingDecision && req != nil {
				c.store.Set(KeyConfirmation, Indicator{
					Kind:    IndicatorConfirmation,
					Message: confirmationLabel(req),
				})
				return
			}
			c.store.Clear(KeyConfirmation)
		})
	}
	c.logger.Debug("chat controller started", "entries", c.transcript.Len())
	return ctx.Err()
}

// Transcript returns the conversation transcript.
func (c *Controller) Transcript() *Transcript {
	return c.transcript
}

// Store returns the indicator store.
func (c *Controller) Store() Store {
	return c.store
}

// Busy reports whether a cycle is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Usage returns token usage summed over all completed cycles.
func (c *Controller) Usage() llm.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Submit appends text as a user entry and runs one cycle to completion.
// It returns ErrBusy without touching the transcript if a cycle is
// already running.
func (c *Controller) Submit(ctx context.Context, text string) error {
	cycleCtx, err := c.begin(ctx, text)
	if err != nil {
		return err
	}
	return c.run(cycleCtx, text)
}

// SubmitAsync is Submit without waiting. The busy check happens before it
// returns; the cycle's outcome is delivered on the channel.
func (c *Controller) SubmitAsync(ctx context.Context, text string) (<-chan error, error) {
	cycleCtx, err := c.begin(ctx, text)
	if err != nil {
		return nil, err
	}
	out := make(chan error, 1)
	go func() {
		out <- c.run(cycleCtx, text)
	}()
	return out, nil
}

func (c *Controller) begin(ctx context.Context, text string) (context.Context, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tornDown {
		return nil, errors.New("controller has been torn down")
	}
	if c.processing {
		return nil, ErrBusy
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	c.processing = true
	c.cancel = cancel
	c.cycleDone = make(chan struct{})
	return cycleCtx, nil
}

func (c *Controller) end(usage llm.Usage) {
	c.mu.Lock()
	c.usage.Add(usage)
	c.processing = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	done := c.cycleDone
	c.cycleDone = nil
	c.mu.Unlock()

	c.store.Clear(KeySpinner)
	if done != nil {
		close(done)
	}
}

func (c *Controller) run(ctx context.Context, text string) (err error) {
	var usage llm.Usage
	defer func() { c.end(usage) }()

	c.store.Clear(KeyNotification)
	if _, err := c.transcript.Append(UserEntry(text)); err != nil {
		return err
	}
	c.store.Set(KeySpinner, Indicator{Kind: IndicatorSpinner, Message: "Thinking..."})

	history := c.history()
	acc := NewAccumulator(c.transcript,
		WithFlushInterval(c.flushInterval),
		WithAccumulatorLogger(c.logger),
	)

	stream, err := c.transport.Stream(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			acc.Cancel()
			return ctx.Err()
		}
		acc.Fail(err)
		c.notify(LevelError, err.Error())
		return fmt.Errorf("start response: %w", err)
	}

	usage, err = acc.Run(ctx, stream)
	switch {
	case err == nil:
		c.logger.Debug("cycle complete", "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	case errors.Is(err, context.Canceled):
		c.notify(LevelWarn, "Cancelled")
	default:
		c.logger.Warn("cycle failed", "error", err)
		c.notify(LevelError, err.Error())
	}
	return err
}

func (c *Controller) history() []llm.Message {
	msgs := c.transcript.Messages()
	if c.systemPrompt == "" {
		return msgs
	}
	return append([]llm.Message{llm.SystemText(c.systemPrompt)}, msgs...)
}

func (c *Controller) notify(level Level, msg string) {
	c.store.Set(KeyNotification, Indicator{Kind: IndicatorNotification, Level: level, Message: msg})
}

// OnMessageUpdate forwards transcript changes to the recorder and updates
// the spinner label while tools run.
func (c *Controller) OnMessageUpdate(change Change) {
	if c.recorder != nil {
		if err := c.recorder.Record(change); err != nil {
			c.logger.Warn("record transcript change", "type", change.Type.String(), "id", change.Entry.ID, "error", err)
		}
	}
	if !c.Busy() {
		return
	}
	e := change.Entry
	switch {
	case change.Type == ChangeAppended && e.Kind == KindToolCall && e.ToolCall != nil:
		c.store.Set(KeySpinner, Indicator{Kind: IndicatorSpinner, Message: "Running " + e.ToolCall.Name + "..."})
	case change.Type == ChangeResolved:
		c.store.Set(KeySpinner, Indicator{Kind: IndicatorSpinner, Message: "Thinking..."})
	case change.Type == ChangeAppended && e.Kind == KindAssistant && e.IsStreaming:
		c.store.Set(KeySpinner, Indicator{Kind: IndicatorSpinner, Message: "Responding..."})
	}
}

// Cancel aborts the running cycle, if any.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Wait blocks until the running cycle, if any, has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.cycleDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// OnTeardown cancels any running cycle, waits for it and closes the
// recorder and gate.
func (c *Controller) OnTeardown() error {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return nil
	}
	c.tornDown = true
	c.mu.Unlock()

	c.Cancel()
	c.Wait()
	if c.gate != nil {
		c.gate.Close()
	}
	if c.recorder != nil {
		return c.recorder.Close()
	}
	return nil
}

func confirmationLabel(req *confirm.Request) string {
	if req.Details.Preview != "" {
		return req.Details.Preview
	}
	if req.Details.Operation != "" {
		return req.Details.Tool + ": " + req.Details.Operation
	}
	return req.Details.Tool
}
