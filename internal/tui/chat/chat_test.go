package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	xchat "github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
	"github.com/x-cli-team/x-cli-sub003/internal/ui"
)

func replyTransport(text string) xchat.Transport {
	return xchat.TransportFunc(func(ctx context.Context, history []llm.Message) (xchat.ChunkStream, error) {
		return xchat.NewChunkStream(ctx, func(ctx context.Context, emit func(xchat.Chunk) error) error {
			if err := emit(xchat.ContentChunk{Text: text}); err != nil {
				return err
			}
			return emit(xchat.DoneChunk{})
		}), nil
	})
}

func newTestModel(t *testing.T, transport xchat.Transport) *Model {
	t.Helper()
	ctrl := xchat.NewController(transport, xchat.WithControllerFlushInterval(0))
	m := New(context.Background(), ctrl, Options{Styles: ui.NewStyles(&strings.Builder{})})
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m
}

func TestSendRunsCycleAndRendersReply(t *testing.T) {
	m := newTestModel(t, replyTransport("hello back"))
	m.textarea.SetValue("hello")

	_, cmd := m.handleKeyMsg(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command waiting for the cycle")
	}
	if m.textarea.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.textarea.Value())
	}

	msg := cmd()
	done, ok := msg.(cycleDoneMsg)
	if !ok {
		t.Fatalf("expected cycleDoneMsg, got %T", msg)
	}
	if done.err != nil {
		t.Fatalf("cycle failed: %v", done.err)
	}
	m.Update(done)

	view := m.View()
	if !strings.Contains(view, "back") {
		t.Errorf("expected reply in view, got:\n%s", view)
	}
}

func TestEmptyInputIsIgnored(t *testing.T) {
	m := newTestModel(t, replyTransport("unused"))
	m.textarea.SetValue("   ")
	_, cmd := m.handleKeyMsg(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatal("expected no command for blank input")
	}
	if m.ctrl.Transcript().Len() != 0 {
		t.Fatal("blank input must not reach the transcript")
	}
}

func TestConfirmationPromptKeys(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want confirm.Decision
	}{
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'y'}}, confirm.Approve},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}}, confirm.ApproveAlways},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}}, confirm.Reject},
	}
	for _, tt := range tests {
		m := newTestModel(t, replyTransport("unused"))
		reply := make(chan confirm.Decision, 1)
		m.Update(confirmRequestMsg{
			req: confirm.Request{
				Call:    llm.ToolCall{ID: "c1", Name: "shell"},
				Details: tools.ConfirmationDetails{Tool: "shell", Command: "rm -rf build"},
			},
			reply: reply,
		})
		if !strings.Contains(m.View(), "rm -rf build") {
			t.Fatalf("expected prompt to show the command")
		}

		m.handleKeyMsg(tt.key)
		select {
		case got := <-reply:
			if got != tt.want {
				t.Errorf("key %q: decision=%s, want %s", tt.key.String(), got, tt.want)
			}
		default:
			t.Fatalf("key %q: no decision delivered", tt.key.String())
		}
		if m.prompt != nil {
			t.Errorf("key %q: prompt should close", tt.key.String())
		}
	}
}

func TestEscDuringPromptCancelsCycle(t *testing.T) {
	blocking := xchat.TransportFunc(func(ctx context.Context, history []llm.Message) (xchat.ChunkStream, error) {
		return xchat.NewChunkStream(ctx, func(ctx context.Context, emit func(xchat.Chunk) error) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	})
	m := newTestModel(t, blocking)
	m.textarea.SetValue("clean up")
	_, cmd := m.handleKeyMsg(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command waiting for the cycle")
	}

	reply := make(chan confirm.Decision, 1)
	m.Update(confirmRequestMsg{
		req:   confirm.Request{Details: tools.ConfirmationDetails{Tool: "shell", Command: "rm -rf build"}},
		reply: reply,
	})
	m.handleKeyMsg(tea.KeyMsg{Type: tea.KeyEsc})

	if m.prompt != nil {
		t.Error("prompt should close on esc")
	}
	select {
	case d := <-reply:
		t.Fatalf("esc must not answer the prompt, got %s", d)
	default:
	}

	done := cmd().(cycleDoneMsg)
	if !errors.Is(done.err, context.Canceled) {
		t.Fatalf("cycle err=%v, want context.Canceled", done.err)
	}
	entries := m.ctrl.Transcript().Snapshot()
	last := entries[len(entries)-1]
	if !last.IsError || last.Content != xchat.CancelledMessage {
		t.Errorf("last entry = %+v, want cancellation", last)
	}
}

func TestConfirmerDismissesOnCancel(t *testing.T) {
	var sent []tea.Msg
	c := NewConfirmer(func(msg tea.Msg) { sent = append(sent, msg) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d, err := c.RequestConfirmation(ctx, confirm.Request{Details: tools.ConfirmationDetails{Tool: "write_file"}})
	if err == nil {
		t.Fatal("expected context error")
	}
	if d != confirm.Reject {
		t.Errorf("decision=%s, want reject", d)
	}
	if len(sent) != 2 {
		t.Fatalf("expected request and dismiss messages, got %d", len(sent))
	}
	req := sent[0].(confirmRequestMsg)
	dismiss := sent[1].(confirmDismissMsg)
	if req.reply != dismiss.reply {
		t.Error("dismiss must reference the original request")
	}
}

func TestStatusLineShowsSpinnerLabel(t *testing.T) {
	m := newTestModel(t, replyTransport("unused"))
	m.Update(indicatorsMsg{xchat.KeySpinner: {Kind: xchat.IndicatorSpinner, Message: "Running shell..."}})
	if !strings.Contains(m.View(), "Running shell...") {
		t.Error("expected spinner label in status line")
	}
	m.Update(indicatorsMsg{xchat.KeyNotification: {Kind: xchat.IndicatorNotification, Message: "boom", Level: xchat.LevelError}})
	if !strings.Contains(m.View(), "boom") {
		t.Error("expected notification in status line")
	}
}
