package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anthropicSSE = []struct{ event, data string }{
	{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"usage":{"input_tokens":10,"output_tokens":1}}}`},
	{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":0}`},
	{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"glob","input":{}}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"pattern\":"}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"*.go\"}"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":1}`},
	{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":12}}`},
	{"message_stop", `{"type":"message_stop"}`},
}

func TestAnthropicProviderStream(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range anthropicSSE {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.event, ev.data)
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, "claude-test", 1024)
	stream, err := p.Stream(context.Background(), Request{
		Messages: []Message{SystemText("be brief"), UserText("list go files")},
		Tools:    []ToolSpec{{Name: "glob", Description: "find files", Schema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var got []Event
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NotEqual(t, EventError, ev.Type, "stream error: %v", ev.Err)
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	assert.Equal(t, Event{Type: EventTextDelta, Text: "Hi"}, got[0])
	require.Equal(t, EventToolCall, got[1].Type)
	assert.Equal(t, "toolu_1", got[1].Tool.ID)
	assert.Equal(t, "glob", got[1].Tool.Name)
	assert.JSONEq(t, `{"pattern":"*.go"}`, string(got[1].Tool.Arguments))
	assert.Equal(t, &Usage{InputTokens: 10, OutputTokens: 12}, got[2].Use)
	assert.Equal(t, EventDone, got[3].Type)

	assert.Equal(t, "claude-test", body["model"])
	assert.Contains(t, fmt.Sprint(body["system"]), "be brief")
}

func TestAnthropicMessagesRoles(t *testing.T) {
	call := ToolCall{ID: "toolu_1", Name: "read"}
	system, msgs := anthropicMessages([]Message{
		SystemText("one"),
		SystemText("two"),
		UserText("hi"),
		AssistantMessage("", []ToolCall{call}),
		ToolResultsMessage([]ToolResult{{ID: "toolu_1", Content: "body"}}),
		UserText(""),
	})

	assert.Equal(t, "one\n\ntwo", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "read", msgs[1].Content[0].OfToolUse.Name)
	assert.Equal(t, json.RawMessage("{}"), msgs[1].Content[0].OfToolUse.Input)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "toolu_1", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestAnthropicToolCallIgnoresTextBlocks(t *testing.T) {
	content := []anthropic.ContentBlockUnion{
		{Type: "text", Text: "hello"},
		{Type: "tool_use", ID: "toolu_2", Name: "grep"},
	}
	_, ok := anthropicToolCall(content, 0)
	assert.False(t, ok)
	_, ok = anthropicToolCall(content, 5)
	assert.False(t, ok)

	call, ok := anthropicToolCall(content, 1)
	require.True(t, ok)
	assert.Equal(t, "grep", call.Name)
	assert.True(t, strings.HasPrefix(string(call.Arguments), "{"))
}
