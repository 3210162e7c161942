package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	diff "github.com/shogoki/gotextdiff"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// Diffs are skipped above this size; the preview still names the file.
const maxDiffSize = 256 * 1024

// WriteFileTool creates or replaces a whole file.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteFileToolName,
		Description: "Write a file with the given content, replacing it if it exists. Missing parent directories are created.",
		Schema: objectSchema([]string{"file_path", "content"},
			stringParam("file_path", "Path of the file to write"),
			stringParam("content", "The complete new content of the file"),
		),
	}
}

func (t *WriteFileTool) Kind() ToolKind { return KindEdit }

func (t *WriteFileTool) Preview(args json.RawMessage) string {
	a, _ := peekArgs[WriteFileArgs](args)
	return a.FilePath
}

func (t *WriteFileTool) Confirmation(args json.RawMessage) (*ConfirmationDetails, error) {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	details := &ConfirmationDetails{
		Tool:      WriteFileToolName,
		Operation: a.FilePath,
		Preview:   "Create " + a.FilePath,
		Path:      a.FilePath,
	}
	old, err := os.ReadFile(a.FilePath)
	if err == nil {
		details.Preview = "Write " + a.FilePath
	}
	details.Diff = unifiedDiff(a.FilePath, string(old), a.Content)
	return details, nil
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a WriteFileArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return Failed(terr), nil
	}
	if a.FilePath == "" {
		return Failed(NewToolError(ErrInvalidParams, "file_path is required")), nil
	}
	path, err := filepath.Abs(a.FilePath)
	if err != nil {
		return Failed(NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)), nil
	}

	mode := os.FileMode(0644)
	old, err := os.ReadFile(path)
	existed := err == nil
	switch {
	case existed:
		if info, serr := os.Stat(path); serr == nil {
			mode = info.Mode().Perm()
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Failed(NewToolErrorf(ErrExecutionFailed, "read %s: %v", path, err)), nil
	}

	if terr := atomicWrite(path, []byte(a.Content), mode); terr != nil {
		return Failed(terr), nil
	}
	if !existed {
		return OK(fmt.Sprintf("Created new file: %s (%d lines).", path, countLines(a.Content))), nil
	}
	return OK(fmt.Sprintf("Updated %s: %d lines -> %d lines.", path, countLines(string(old)), countLines(a.Content))), nil
}

// atomicWrite replaces path by renaming a synced temp file from the same
// directory over it, so readers never see a partial file.
func atomicWrite(path string, data []byte, mode os.FileMode) (terr *ToolError) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return NewToolErrorf(ErrExecutionFailed, "create directory %s: %v", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return NewToolErrorf(ErrExecutionFailed, "create temp file: %v", err)
	}
	defer func() {
		if terr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	steps := []struct {
		what string
		run  func() error
	}{
		{"write", func() error { _, err := tmp.Write(data); return err }},
		{"sync", tmp.Sync},
		{"close", tmp.Close},
		// CreateTemp always uses 0600.
		{"chmod", func() error { return os.Chmod(tmp.Name(), mode) }},
		{"rename", func() error { return os.Rename(tmp.Name(), path) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return NewToolErrorf(ErrExecutionFailed, "%s %s: %v", step.what, path, err)
		}
	}
	return nil
}

// unifiedDiff renders a unified diff, or "" when nothing changed or either
// side is too large to diff.
func unifiedDiff(path, before, after string) string {
	if before == after || len(before) > maxDiffSize || len(after) > maxDiffSize {
		return ""
	}
	return string(diff.Diff(path, []byte(before), path, []byte(after)))
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
