package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// EditFileTool implements the edit_file tool: exact old_text/new_text replacement.
type EditFileTool struct{}

func NewEditFileTool() *EditFileTool {
	return &EditFileTool{}
}

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	FilePath   string `json:"file_path"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EditFileToolName,
		Description: "Replace old_text with new_text in a file. old_text must match exactly once unless replace_all is true.",
		Schema: objectSchema([]string{"file_path", "old_text", "new_text"},
			stringParam("file_path", "Path of the file to edit"),
			stringParam("old_text", "Exact text to replace, with enough surrounding lines to be unique"),
			stringParam("new_text", "Replacement text"),
			boolParam("replace_all", "Replace every occurrence of old_text"),
		),
	}
}

func (t *EditFileTool) Kind() ToolKind { return KindEdit }

func (t *EditFileTool) Preview(args json.RawMessage) string {
	a, _ := peekArgs[EditFileArgs](args)
	return a.FilePath
}

func (t *EditFileTool) Confirmation(args json.RawMessage) (*ConfirmationDetails, error) {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	details := &ConfirmationDetails{
		Tool:      EditFileToolName,
		Operation: a.FilePath,
		Preview:   "Edit " + a.FilePath,
		Path:      a.FilePath,
	}
	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return details, nil
	}
	if updated, _, terr := applyEdit(string(data), a); terr == nil {
		details.Diff = unifiedDiff(a.FilePath, string(data), updated)
	}
	return details, nil
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a EditFileArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return Failed(terr), nil
	}
	if a.FilePath == "" {
		return Failed(NewToolError(ErrInvalidParams, "file_path is required")), nil
	}
	if a.OldText == "" {
		return Failed(NewToolError(ErrInvalidParams, "old_text is required")), nil
	}

	unlock, err := lockFile(a.FilePath)
	if err != nil {
		return Failed(NewToolErrorf(ErrExecutionFailed, "lock %s: %v", a.FilePath, err)), nil
	}
	defer unlock()

	info, err := os.Stat(a.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Failed(NewToolError(ErrFileNotFound, a.FilePath)), nil
		}
		return Failed(NewToolErrorf(ErrExecutionFailed, "stat error: %v", err)), nil
	}
	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return Failed(NewToolErrorf(ErrExecutionFailed, "read error: %v", err)), nil
	}

	updated, count, terr := applyEdit(string(data), a)
	if terr != nil {
		return Failed(terr), nil
	}
	if terr := atomicWrite(a.FilePath, []byte(updated), info.Mode()); terr != nil {
		return Failed(terr), nil
	}

	msg := fmt.Sprintf("Edited %s: replaced %d lines with %d lines.", a.FilePath, countLines(a.OldText), countLines(a.NewText))
	if count > 1 {
		msg = fmt.Sprintf("Edited %s: replaced %d occurrences.", a.FilePath, count)
	}
	return OK(msg), nil
}

// lockFile takes an exclusive lock on a sidecar path+".lock" file so
// concurrent edits of the same file serialize. The returned func releases
// the lock and removes the sidecar.
func lockFile(path string) (func(), error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		os.Remove(lockPath)
		return nil, err
	}
	return func() {
		os.Remove(lockPath)
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// applyEdit returns the edited content and the number of replacements.
func applyEdit(content string, a EditFileArgs) (string, int, *ToolError) {
	count := strings.Count(content, a.OldText)
	switch {
	case count == 0:
		return "", 0, NewToolErrorf(ErrNoMatch, "old_text not found in %s", a.FilePath)
	case count > 1 && !a.ReplaceAll:
		return "", 0, NewToolErrorf(ErrInvalidParams, "old_text matches %d times in %s; add context or set replace_all", count, a.FilePath)
	}
	if a.ReplaceAll {
		return strings.ReplaceAll(content, a.OldText, a.NewText), count, nil
	}
	return strings.Replace(content, a.OldText, a.NewText, 1), 1, nil
}
