package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

type recorded struct {
	mu      sync.Mutex
	changes []Change
	closed  bool
}

func (r *recorded) Record(c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorded) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorded) types() []ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeType, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Type
	}
	return out
}

// replyTransport answers every request with text and records the history
// it was given.
type replyTransport struct {
	mu        sync.Mutex
	histories [][]llm.Message
	reply     string
}

func (rt *replyTransport) Stream(ctx context.Context, history []llm.Message) (ChunkStream, error) {
	rt.mu.Lock()
	rt.histories = append(rt.histories, history)
	rt.mu.Unlock()
	return NewChunkStream(ctx, func(ctx context.Context, emit func(Chunk) error) error {
		if err := emit(ContentChunk{Text: rt.reply}); err != nil {
			return err
		}
		if err := emit(TokenCountChunk{Input: 5, Output: 2}); err != nil {
			return err
		}
		return emit(DoneChunk{})
	}), nil
}

// blockingTransport streams a little text then waits for release or
// cancellation.
func blockingTransport(release <-chan struct{}) Transport {
	return TransportFunc(func(ctx context.Context, history []llm.Message) (ChunkStream, error) {
		return NewChunkStream(ctx, func(ctx context.Context, emit func(Chunk) error) error {
			if err := emit(ContentChunk{Text: "thinking"}); err != nil {
				return err
			}
			select {
			case <-release:
				return emit(DoneChunk{})
			case <-ctx.Done():
				return ctx.Err()
			}
		}), nil
	})
}

func TestController_SubmitRunsOneCycle(t *testing.T) {
	rt := &replyTransport{reply: "Hi!"}
	rec := &recorded{}
	c := NewController(rt, WithRecorder(rec), WithSystemPrompt("be brief"), WithControllerFlushInterval(0))
	require.NoError(t, c.OnStart(context.Background()))

	require.NoError(t, c.Submit(context.Background(), "hello"))
	require.NoError(t, c.Submit(context.Background(), "again"))

	entries := c.Transcript().Snapshot()
	require.Len(t, entries, 4)
	assert.Equal(t, KindUser, entries[0].Kind)
	assert.Equal(t, "Hi!", entries[1].Content)
	assert.False(t, entries[1].IsStreaming)

	require.Len(t, rt.histories, 2)
	assert.Equal(t, llm.RoleSystem, rt.histories[0][0].Role)
	assert.Equal(t, []llm.Message{
		llm.SystemText("be brief"),
		llm.UserText("hello"),
		llm.AssistantText("Hi!"),
		llm.UserText("again"),
	}, rt.histories[1])

	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 4}, c.Usage())
	assert.False(t, c.Busy())
	_, spinning := c.Store().Get(KeySpinner)
	assert.False(t, spinning)

	assert.Contains(t, rec.types(), ChangeFinalized)
	require.NoError(t, c.OnTeardown())
	assert.True(t, rec.closed)
}

func TestController_RejectsSubmitWhileBusy(t *testing.T) {
	release := make(chan struct{})
	c := NewController(blockingTransport(release))

	result, err := c.SubmitAsync(context.Background(), "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := c.Transcript().Streaming(); return ok }, time.Second, 5*time.Millisecond)

	err = c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.SubmitAsync(context.Background(), "third")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-result)

	users := 0
	for _, e := range c.Transcript().Snapshot() {
		if e.Kind == KindUser {
			users++
		}
	}
	assert.Equal(t, 1, users)
}

func TestController_RejectsEmptyInput(t *testing.T) {
	c := NewController(&replyTransport{})
	assert.ErrorIs(t, c.Submit(context.Background(), "   "), ErrEmptyInput)
	assert.Zero(t, c.Transcript().Len())
}

func TestController_Cancel(t *testing.T) {
	c := NewController(blockingTransport(make(chan struct{})))

	result, err := c.SubmitAsync(context.Background(), "long task")
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := c.Transcript().Streaming(); return ok }, time.Second, 5*time.Millisecond)

	assert.True(t, c.Cancel())
	assert.ErrorIs(t, <-result, context.Canceled)
	assert.False(t, c.Busy())
	assert.False(t, c.Cancel())

	entries := c.Transcript().Snapshot()
	last := entries[len(entries)-1]
	assert.Equal(t, CancelledMessage, last.Content)
	assert.True(t, last.IsError)

	note, ok := c.Store().Get(KeyNotification)
	require.True(t, ok)
	assert.Equal(t, LevelWarn, note.Level)

	// Controller is usable again after a cancel.
	c2 := NewController(&replyTransport{reply: "ok"}, WithTranscript(c.Transcript()))
	require.NoError(t, c2.Submit(context.Background(), "next"))
}

func TestController_TransportStartFailure(t *testing.T) {
	c := NewController(TransportFunc(func(ctx context.Context, history []llm.Message) (ChunkStream, error) {
		return nil, errors.New("no network")
	}))
	err := c.Submit(context.Background(), "hi")
	require.Error(t, err)

	entries := c.Transcript().Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "Error: no network", entries[1].Content)
	assert.True(t, entries[1].IsError)
	assert.False(t, c.Busy())

	note, ok := c.Store().Get(KeyNotification)
	require.True(t, ok)
	assert.Equal(t, LevelError, note.Level)
}

func TestController_ToolSpinnerAndConfirmationIndicator(t *testing.T) {
	gate, err := confirm.NewGate(nil, confirm.Options{RequireConfirmation: true})
	require.NoError(t, err)

	store := NewMemoryStore()
	var mu sync.Mutex
	var labels []string
	unsubscribe := store.Subscribe(func(m map[string]Indicator) {
		mu.Lock()
		defer mu.Unlock()
		if ind, ok := m[KeySpinner]; ok {
			labels = append(labels, ind.Message)
		}
		if ind, ok := m[KeyConfirmation]; ok {
			labels = append(labels, "confirm:"+ind.Message)
		}
	})
	defer unsubscribe()

	decided := make(chan confirm.Decision, 1)
	transport := TransportFunc(func(ctx context.Context, history []llm.Message) (ChunkStream, error) {
		return NewChunkStream(ctx, func(ctx context.Context, emit func(Chunk) error) error {
			c := llm.ToolCall{ID: "t1", Name: tools.ShellToolName}
			if err := emit(ToolCallsChunk{Calls: []llm.ToolCall{c}}); err != nil {
				return err
			}
			d, err := gate.Request(ctx, confirm.Request{Call: c, Details: tools.ConfirmationDetails{
				Tool: tools.ShellToolName, Operation: "make", Preview: "Run: make",
			}})
			if err != nil {
				return err
			}
			decided <- d
			if err := emit(ToolResultChunk{Call: c, Result: tools.OK("built")}); err != nil {
				return err
			}
			return emit(DoneChunk{})
		}), nil
	})

	c := NewController(transport, WithStore(store), WithGate(gate), WithControllerFlushInterval(0))
	require.NoError(t, c.OnStart(context.Background()))
	gate.SetConfirmer(confirm.ConfirmerFunc(func(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
		return confirm.Approve, nil
	}))

	require.NoError(t, c.Submit(context.Background(), "build it"))
	assert.Equal(t, confirm.Approve, <-decided)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, labels, "Running shell...")
	assert.Contains(t, labels, "confirm:Run: make")
	_, ok := store.Get(KeyConfirmation)
	assert.False(t, ok)
}

func TestMemoryStore_Subscribe(t *testing.T) {
	s := NewMemoryStore()
	var got []map[string]Indicator
	unsubscribe := s.Subscribe(func(m map[string]Indicator) { got = append(got, m) })

	s.Set(KeyNotification, Indicator{Kind: IndicatorNotification, Message: "saved"})
	s.Clear(KeyNotification)
	s.Clear(KeyNotification)
	unsubscribe()
	unsubscribe()
	s.Set(KeySpinner, Indicator{Kind: IndicatorSpinner})

	require.Len(t, got, 2)
	assert.Equal(t, "saved", got[0][KeyNotification].Message)
	assert.Empty(t, got[1])

	snap := s.Snapshot()
	snap["x"] = Indicator{}
	_, ok := s.Get("x")
	assert.False(t, ok)
}
