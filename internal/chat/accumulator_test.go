package chat

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func call(id, name string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name}
}

// scripted returns a stream that emits chunks and then ends with err
// (io.EOF when err is nil).
func scripted(chunks []Chunk, err error) ChunkStream {
	return NewChunkStream(context.Background(), func(ctx context.Context, emit func(Chunk) error) error {
		for _, c := range chunks {
			if e := emit(c); e != nil {
				return e
			}
		}
		return err
	})
}

func TestAccumulator_ContentThenDone(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	acc.Consume(ContentChunk{Text: "Hello "})
	acc.Consume(ContentChunk{Text: "world"})
	acc.Consume(DoneChunk{})

	entries := tr.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, KindAssistant, entries[0].Kind)
	assert.Equal(t, "Hello world", entries[0].Content)
	assert.False(t, entries[0].IsStreaming)
}

func TestAccumulator_ToolRoundTrip(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	acc.Consume(ContentChunk{Text: "Checking..."})
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "bash")}})
	acc.Consume(ToolResultChunk{Call: call("t1", "bash"), Result: tools.OK("ok")})
	acc.Consume(DoneChunk{})

	entries := tr.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, KindAssistant, entries[0].Kind)
	assert.Equal(t, "Checking...", entries[0].Content)
	assert.False(t, entries[0].IsStreaming)
	assert.Equal(t, KindToolResult, entries[1].Kind)
	assert.Equal(t, "t1", entries[1].ToolCall.ID)
	assert.Equal(t, "ok", entries[1].Content)
}

func TestAccumulator_ResultsOutOfOrder(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "bash"), call("t2", "bash")}})
	acc.Consume(ToolResultChunk{Call: call("t2", "bash"), Result: tools.OK("second")})
	acc.Consume(ToolResultChunk{Call: call("t1", "bash"), Result: tools.OK("first")})
	acc.Consume(DoneChunk{})

	entries := tr.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "t1", entries[0].ToolCall.ID)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "t2", entries[1].ToolCall.ID)
	assert.Equal(t, "second", entries[1].Content)
	for _, e := range entries {
		assert.Equal(t, KindToolResult, e.Kind)
	}
}

func TestAccumulator_ResultBeforeBatchIsHeld(t *testing.T) {
	clock := newFakeClock()
	tr := NewTranscript()
	acc := NewAccumulator(tr, WithClock(clock.Now))

	acc.Consume(ToolResultChunk{Call: call("t1", "bash"), Result: tools.OK("early")})
	assert.Equal(t, 1, acc.HeldResults())
	assert.Zero(t, tr.Len())

	clock.Advance(time.Second)
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "bash")}})
	assert.Zero(t, acc.HeldResults())

	entries := tr.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, KindToolResult, entries[0].Kind)
}

func TestAccumulator_TransportErrorKeepsPartialText(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	stream := scripted([]Chunk{ContentChunk{Text: "partial"}}, errors.New("connection reset"))

	_, err := acc.Run(context.Background(), stream)
	require.EqualError(t, err, "connection reset")

	entries := tr.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "partial", entries[0].Content)
	assert.False(t, entries[0].IsStreaming)
	assert.False(t, entries[0].IsError)
	assert.Equal(t, "Error: connection reset", entries[1].Content)
	assert.True(t, entries[1].IsError)
}

func TestAccumulator_FlushIsIdempotent(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	acc.Consume(ContentChunk{Text: "abc"})
	acc.Flush(true)
	snap, version := tr.Snapshot(), tr.Version()

	assert.False(t, acc.Flush(true))
	assert.False(t, acc.Flush(false))
	assert.Equal(t, snap, tr.Snapshot())
	assert.Equal(t, version, tr.Version())
}

func TestAccumulator_ThrottlesNonForcedFlushes(t *testing.T) {
	clock := newFakeClock()
	tr := NewTranscript()
	acc := NewAccumulator(tr, WithClock(clock.Now), WithFlushInterval(50*time.Millisecond))

	acc.Consume(ContentChunk{Text: "a"})
	clock.Advance(10 * time.Millisecond)
	acc.Consume(ContentChunk{Text: "b"})
	assert.Equal(t, "a", tr.Snapshot()[0].Content)

	d, ok := acc.FlushDelay()
	require.True(t, ok)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 50*time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	assert.True(t, acc.Flush(false))
	assert.Equal(t, "ab", tr.Snapshot()[0].Content)

	_, ok = acc.FlushDelay()
	assert.False(t, ok)
}

func TestAccumulator_SecondBatchFlushesFirst(t *testing.T) {
	clock := newFakeClock()
	tr := NewTranscript()
	acc := NewAccumulator(tr, WithClock(clock.Now))

	acc.Consume(ContentChunk{Text: "x"})
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "bash")}})
	assert.False(t, tr.HasPendingToolCall("t1"), "throttled batch not yet applied")

	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{call("t2", "bash")}})
	assert.True(t, tr.HasPendingToolCall("t1"))
	assert.False(t, tr.HasPendingToolCall("t2"))

	acc.Consume(DoneChunk{})
	entries := tr.Snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "x", entries[0].Content)
	assert.Equal(t, "t1", entries[1].ToolCall.ID)
	assert.Equal(t, "t2", entries[2].ToolCall.ID)
}

func TestAccumulator_TextAfterHeldBatchStartsNewEntry(t *testing.T) {
	clock := newFakeClock()
	tr := NewTranscript()
	acc := NewAccumulator(tr, WithClock(clock.Now))

	acc.Consume(ContentChunk{Text: "Let me look. "})
	clock.Advance(5 * time.Millisecond)
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "read_file")}})
	clock.Advance(5 * time.Millisecond)
	acc.Consume(ToolResultChunk{Call: call("t1", "read_file"), Result: tools.OK("contents")})
	assert.False(t, tr.HasPendingToolCall("t1"), "batch still held by the throttle")
	clock.Advance(5 * time.Millisecond)
	acc.Consume(ContentChunk{Text: "The file says hi."})
	acc.Consume(DoneChunk{})

	entries := tr.Snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, KindAssistant, entries[0].Kind)
	assert.Equal(t, "Let me look. ", entries[0].Content)
	require.Len(t, entries[0].ToolCalls, 1)
	assert.Equal(t, KindToolResult, entries[1].Kind)
	assert.Equal(t, "contents", entries[1].ToolResult.Output)
	assert.Equal(t, KindAssistant, entries[2].Kind)
	assert.Equal(t, "The file says hi.", entries[2].Content)
	for _, e := range entries {
		assert.False(t, e.IsStreaming)
	}
}

func TestAccumulator_DropsMalformedChunks(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	acc.Consume(nil)
	acc.Consume(ToolCallsChunk{})
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{{ID: "", Name: "bash"}}})
	acc.Consume(ToolCallsChunk{Calls: []llm.ToolCall{{ID: "t1"}}})
	acc.Consume(ToolResultChunk{Result: tools.OK("orphan")})
	acc.Consume(TokenCountChunk{Input: -1})
	acc.Consume(DoneChunk{})

	assert.Zero(t, tr.Len())
	assert.Zero(t, acc.HeldResults())
	assert.Equal(t, llm.Usage{}, acc.Usage())
}

func TestAccumulator_LateResultAfterDone(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	stream := scripted([]Chunk{
		ContentChunk{Text: "Running"},
		ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "bash")}},
		TokenCountChunk{Input: 12, Output: 3},
		DoneChunk{},
		ToolResultChunk{Call: call("t1", "bash"), Result: tools.OK("late")},
		ToolResultChunk{Call: call("ghost", "bash"), Result: tools.OK("never matched")},
	}, nil)

	usage, err := acc.Run(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, llm.Usage{InputTokens: 12, OutputTokens: 3}, usage)

	entries := tr.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, KindToolResult, entries[1].Kind)
	assert.Equal(t, "late", entries[1].Content)
	assert.Zero(t, acc.HeldResults())
	assert.Zero(t, streamingCount(entries))
}

func TestAccumulator_EOFWithoutDone(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	_, err := acc.Run(context.Background(), scripted([]Chunk{ContentChunk{Text: "cut"}}, nil))
	require.ErrorIs(t, err, ErrIncompleteStream)

	entries := tr.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "cut", entries[0].Content)
	assert.True(t, entries[1].IsError)
}

func TestAccumulator_Cancel(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr)
	ctx, cancel := context.WithCancel(context.Background())

	sent := make(chan struct{})
	stream := NewChunkStream(ctx, func(ctx context.Context, emit func(Chunk) error) error {
		_ = emit(ContentChunk{Text: "working"})
		_ = emit(ToolCallsChunk{Calls: []llm.ToolCall{call("t1", "bash")}})
		close(sent)
		<-ctx.Done()
		return ctx.Err()
	})

	go func() {
		<-sent
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := acc.Run(ctx, stream)
	require.ErrorIs(t, err, context.Canceled)

	entries := tr.Snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "working", entries[0].Content)
	assert.Equal(t, KindToolResult, entries[1].Kind, "pending call is closed out")
	assert.False(t, entries[1].ToolResult.Success)
	assert.Equal(t, CancelledMessage, entries[2].Content)
	assert.Zero(t, streamingCount(entries))
}

func TestAccumulator_TrailingFlushDuringRun(t *testing.T) {
	tr := NewTranscript()
	acc := NewAccumulator(tr, WithFlushInterval(20*time.Millisecond))
	release := make(chan struct{})
	stream := NewChunkStream(context.Background(), func(ctx context.Context, emit func(Chunk) error) error {
		_ = emit(ContentChunk{Text: "a"})
		_ = emit(ContentChunk{Text: "b"})
		<-release
		_ = emit(DoneChunk{})
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = acc.Run(context.Background(), stream)
	}()

	require.Eventually(t, func() bool {
		e, ok := tr.Streaming()
		return ok && e.Content == "ab"
	}, time.Second, 5*time.Millisecond, "trailing flush should apply throttled text")

	close(release)
	<-done
	assert.Equal(t, "ab", tr.Snapshot()[0].Content)
}

// Random chunkings of the same response must yield the same transcript.
func TestAccumulator_ChunkingDoesNotChangeResult(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog."
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		clock := newFakeClock()
		tr := NewTranscript()
		acc := NewAccumulator(tr, WithClock(clock.Now))

		var streamed []string
		tr.OnChange(func(c Change) {
			if c.Entry.Kind == KindAssistant {
				streamed = append(streamed, c.Entry.Content)
			}
		})

		rest := text
		for rest != "" {
			n := 1 + rng.Intn(6)
			if n > len(rest) {
				n = len(rest)
			}
			acc.Consume(ContentChunk{Text: rest[:n]})
			rest = rest[n:]
			clock.Advance(time.Duration(rng.Intn(80)) * time.Millisecond)

			entries := tr.Snapshot()
			assert.LessOrEqual(t, streamingCount(entries), 1)
			if len(entries) > 0 {
				assert.True(t, strings.HasPrefix(text, entries[0].Content))
			}
		}
		acc.Consume(DoneChunk{})

		entries := tr.Snapshot()
		require.Len(t, entries, 1)
		assert.Equal(t, text, entries[0].Content)
		assert.False(t, entries[0].IsStreaming)
		for j := 1; j < len(streamed); j++ {
			assert.True(t, strings.HasPrefix(streamed[j], streamed[j-1]), "content only grows")
		}
	}
}
