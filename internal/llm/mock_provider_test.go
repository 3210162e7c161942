package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collected is everything one stream produced.
type collected struct {
	text  string
	calls []ToolCall
	usage *Usage
	err   error
}

func collectStream(t *testing.T, stream Stream) collected {
	t.Helper()
	defer stream.Close()
	var out collected
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			out.err = err
			return out
		}
		switch ev.Type {
		case EventTextDelta:
			out.text += ev.Text
		case EventToolCall:
			out.calls = append(out.calls, *ev.Tool)
		case EventUsage:
			out.usage = ev.Use
		case EventError:
			out.err = ev.Err
		}
	}
}

func TestMockProviderReplaysTurnsInOrder(t *testing.T) {
	p := NewMockProvider("mock").
		AddTextResponse("Hello, world!").
		AddToolCall("call_1", "read", map[string]string{"path": "main.go"})

	first, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	require.NoError(t, err)
	got := collectStream(t, first)
	assert.Equal(t, "Hello, world!", got.text)
	require.NotNil(t, got.usage)
	assert.Equal(t, 13, got.usage.OutputTokens)

	second, err := p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	got = collectStream(t, second)
	require.Len(t, got.calls, 1)
	assert.Equal(t, "read", got.calls[0].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, string(got.calls[0].Arguments))

	assert.Equal(t, 2, p.RequestCount())
	last, ok := p.LastRequest()
	require.True(t, ok)
	assert.Empty(t, last.Messages)

	_, err = p.Stream(context.Background(), Request{})
	assert.ErrorContains(t, err, "no more scripted turns")
}

func TestMockProviderScriptedError(t *testing.T) {
	boom := errors.New("boom")
	p := NewMockProvider("mock").AddError(boom)

	stream, err := p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	assert.ErrorIs(t, collectStream(t, stream).err, boom)
}

func TestMockProviderCancelInterruptsDelay(t *testing.T) {
	p := NewMockProvider("mock").AddTurn(MockTurn{Text: "late", Delay: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.Stream(ctx, Request{})
	require.NoError(t, err)
	cancel()

	start := time.Now()
	got := collectStream(t, stream)
	assert.Empty(t, got.text)
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMockProviderReset(t *testing.T) {
	p := NewMockProvider("mock").AddTextResponse("one")
	stream, err := p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	collectStream(t, stream)

	p.Reset()
	assert.Zero(t, p.RequestCount())

	p.AddTextResponse("two")
	stream, err = p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "two", collectStream(t, stream).text)
}

func TestChunkTextKeepsRunesWhole(t *testing.T) {
	for _, text := range []string{"", "hello", "hello world", "héllo wörld ünïcode"} {
		chunks := chunkText(text, 4)
		assert.Equal(t, text, strings.Join(chunks, ""))
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), 4)
		}
	}
	assert.Len(t, chunkText("abcdefghij", 4), 3)
}
