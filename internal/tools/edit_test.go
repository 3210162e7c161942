package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEditFileTool_ReplacesUniqueMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	os.WriteFile(path, []byte("package main\n\nfunc a() {}\n"), 0640)

	tool := NewEditFileTool()
	result, err := tool.Execute(context.Background(), mustMarshal(EditFileArgs{
		FilePath: path,
		OldText:  "func a() {}",
		NewText:  "func b() {}",
	}))
	if err != nil || !result.Success {
		t.Fatalf("edit failed: %v %+v", err, result)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "package main\n\nfunc b() {}\n" {
		t.Fatalf("content = %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0640 {
		t.Fatalf("mode = %v, want 0640", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Fatal("lock file should be removed")
	}
}

func TestEditFileTool_AmbiguousAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	os.WriteFile(path, []byte("a a a"), 0644)
	tool := NewEditFileTool()

	result, _ := tool.Execute(context.Background(), mustMarshal(EditFileArgs{FilePath: path, OldText: "a", NewText: "b"}))
	if result.Success || !strings.Contains(result.Error, "matches 3 times") {
		t.Fatalf("expected ambiguity error, got %+v", result)
	}

	result, _ = tool.Execute(context.Background(), mustMarshal(EditFileArgs{FilePath: path, OldText: "z", NewText: "b"}))
	if result.Success || !strings.Contains(result.Error, "NO_MATCH") {
		t.Fatalf("expected no match error, got %+v", result)
	}

	result, _ = tool.Execute(context.Background(), mustMarshal(EditFileArgs{FilePath: path, OldText: "a", NewText: "b", ReplaceAll: true}))
	if !result.Success {
		t.Fatalf("replace_all failed: %+v", result)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "b b b" {
		t.Fatalf("content = %q", data)
	}
}

func TestEditFileTool_ConfirmationDiff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("name: old\nport: 1\n"), 0644)

	details, err := NewEditFileTool().Confirmation(mustMarshal(EditFileArgs{FilePath: path, OldText: "old", NewText: "new"}))
	if err != nil {
		t.Fatalf("Confirmation: %v", err)
	}
	if !strings.Contains(details.Diff, "-name: old") || !strings.Contains(details.Diff, "+name: new") {
		t.Fatalf("unexpected diff:\n%s", details.Diff)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "name: old\nport: 1\n" {
		t.Fatal("confirmation preview must not modify the file")
	}
}

func TestResultContent(t *testing.T) {
	if got := OK("fine").Content(); got != "fine" {
		t.Fatalf("got %q", got)
	}
	failed := Result{Error: "Error [X]: bad", Output: "partial"}
	if got := failed.Content(); got != "Error [X]: bad\npartial" {
		t.Fatalf("got %q", got)
	}
}
