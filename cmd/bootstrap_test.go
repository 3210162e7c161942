package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/session"
)

// testFlags points the runtime at a throwaway config and session dir.
func testFlags(t *testing.T) (*CommonFlags, string) {
	t.Helper()
	dir := t.TempDir()
	sessions := filepath.Join(dir, "sessions")
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "provider: anthropic\nanthropic:\n  api_key: test-key\nsessions:\n  enabled: true\n  dir: " + sessions + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return &CommonFlags{ConfigFile: cfgPath, LogFile: "discard"}, sessions
}

func TestRuntimeRecordsAndResumesSession(t *testing.T) {
	ctx := context.Background()
	flags, dir := testFlags(t)

	rt, err := newRuntime(ctx, flags, session.ModeAsk, "")
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	if rt.session == nil || rt.recorder == nil {
		t.Fatal("expected a recorded session")
	}
	id := rt.session.ID
	if _, err := rt.ctrl.Transcript().Append(chat.UserEntry("hello there")); err != nil {
		t.Fatal(err)
	}
	rt.cycleDone(context.Canceled)
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := session.ReadLog(session.LogPath(dir, id))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Content != "hello there" {
		t.Fatalf("log entries = %+v", entries)
	}

	rt, err = newRuntime(ctx, flags, session.ModeChat, session.ShortID(id))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer rt.Close()
	if rt.session.ID != id {
		t.Errorf("resumed %s, want %s", rt.session.ID, id)
	}
	if n := rt.ctrl.Transcript().Len(); n != 1 {
		t.Errorf("restored %d entries, want 1", n)
	}

	sess, err := rt.store.Get(ctx, id)
	if err != nil || sess == nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Summary != "hello there" || sess.Mode != session.ModeAsk {
		t.Errorf("index row = %+v", sess)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("status = %s, want active while resumed", sess.Status)
	}
}

func TestRuntimeResumeUnknownSession(t *testing.T) {
	flags, _ := testFlags(t)
	_, err := newRuntime(context.Background(), flags, session.ModeChat, "nope")
	if err == nil || !strings.Contains(err.Error(), "no session matches") {
		t.Fatalf("err = %v", err)
	}
}

func TestRuntimeRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	flags, _ := testFlags(t)
	flags.Provider = "openai"
	_, err := newRuntime(context.Background(), flags, session.ModeAsk, "")
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("err = %v", err)
	}
}
