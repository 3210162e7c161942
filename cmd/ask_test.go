package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/huh"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

func TestAskPrinterPrintsSettledEntries(t *testing.T) {
	var buf bytes.Buffer
	p := newAskPrinter(&buf, func(call llm.ToolCall) string { return "preview " + call.Name }, false)

	tr := chat.NewTranscript()
	tr.OnChange(p.onChange)

	if _, err := tr.Append(chat.UserEntry("question")); err != nil {
		t.Fatal(err)
	}
	tr.AppendStreaming("partial ")
	tr.AppendStreaming("answer")
	if buf.Len() != 0 {
		t.Fatalf("streaming text printed early: %q", buf.String())
	}
	batch := []llm.ToolCall{{ID: "c1", Name: "glob"}}
	tr.CloseStreaming(batch)
	tr.AppendToolCalls(batch)
	tr.ResolveToolCall("c1", tools.Result{Success: true, Output: "main.go"})

	out := buf.String()
	if strings.Contains(out, "question") {
		t.Errorf("user input should not be echoed: %q", out)
	}
	for _, want := range []string{"partial answer", "main.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "partial answer") > strings.Index(out, "main.go") {
		t.Errorf("entries printed out of order:\n%s", out)
	}
}

func TestSettled(t *testing.T) {
	tests := []struct {
		change chat.Change
		want   bool
	}{
		{chat.Change{Type: chat.ChangeUpdated, Entry: chat.Entry{Kind: chat.KindAssistant, IsStreaming: true}}, false},
		{chat.Change{Type: chat.ChangeAppended, Entry: chat.Entry{Kind: chat.KindAssistant, IsStreaming: true}}, false},
		{chat.Change{Type: chat.ChangeAppended, Entry: chat.Entry{Kind: chat.KindAssistant, IsError: true}}, true},
		{chat.Change{Type: chat.ChangeAppended, Entry: chat.Entry{Kind: chat.KindToolCall}}, false},
		{chat.Change{Type: chat.ChangeFinalized, Entry: chat.Entry{Kind: chat.KindAssistant}}, true},
		{chat.Change{Type: chat.ChangeResolved, Entry: chat.Entry{Kind: chat.KindToolResult}}, true},
	}
	for i, tt := range tests {
		if got := settled(tt.change); got != tt.want {
			t.Errorf("case %d: settled=%v, want %v", i, got, tt.want)
		}
	}
}

func TestFormOutcomeAbortCancelsCycle(t *testing.T) {
	cancelled := 0
	cancel := func() { cancelled++ }

	d, err := formOutcome(nil, confirm.ApproveAlways, cancel)
	if err != nil || d != confirm.ApproveAlways {
		t.Errorf("submitted form: got %s, %v", d, err)
	}

	d, err = formOutcome(huh.ErrUserAborted, confirm.Approve, cancel)
	if !errors.Is(err, context.Canceled) || d != confirm.Reject {
		t.Errorf("aborted form: got %s, %v", d, err)
	}
	if cancelled != 1 {
		t.Errorf("cancel called %d times, want 1", cancelled)
	}

	boom := errors.New("tty gone")
	if _, err := formOutcome(boom, confirm.Approve, cancel); !errors.Is(err, boom) {
		t.Errorf("form failure: got %v", err)
	}
	if cancelled != 1 {
		t.Error("a form failure must not cancel the cycle")
	}
}
