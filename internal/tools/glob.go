package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

const maxGlobResults = 200

var errGlobLimit = errors.New("glob result limit reached")

// GlobTool lists files matching a doublestar pattern, newest first.
type GlobTool struct{}

func NewGlobTool() *GlobTool {
	return &GlobTool{}
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// FileEntry is one glob match.
type FileEntry struct {
	FilePath  string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

func (t *GlobTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern; ** matches any number of directories. Newest files are listed first.",
		Schema: objectSchema([]string{"pattern"},
			stringParam("pattern", "Pattern relative to path, e.g. '**/*.go' or 'cmd/*/main.go'"),
			stringParam("path", "Directory to search from (default: working directory)"),
		),
	}
}

func (t *GlobTool) Kind() ToolKind { return KindSearch }

func (t *GlobTool) Preview(args json.RawMessage) string {
	a, ok := peekArgs[GlobArgs](args)
	switch {
	case !ok || a.Pattern == "":
		return ""
	case a.Path != "":
		return a.Pattern + " in " + a.Path
	}
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a GlobArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return Failed(terr), nil
	}
	if a.Pattern == "" {
		return Failed(NewToolError(ErrInvalidParams, "pattern is required")), nil
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return Failed(NewToolErrorf(ErrInvalidParams, "invalid glob pattern: %s", a.Pattern)), nil
	}
	base, terr := resolveBase(a.Path)
	if terr != nil {
		return Failed(terr), nil
	}

	walkCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var entries []FileEntry
	err := doublestar.GlobWalk(os.DirFS(base), filepath.ToSlash(a.Pattern), func(rel string, d fs.DirEntry) error {
		if err := walkCtx.Err(); err != nil {
			return err
		}
		if isHiddenPath(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			FilePath:  filepath.Join(base, filepath.FromSlash(rel)),
			IsDir:     d.IsDir(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		if len(entries) >= maxGlobResults {
			return errGlobLimit
		}
		return nil
	})
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Failed(NewToolError(ErrTimeout, "glob timed out; narrow the pattern or path")), nil
	case err != nil && !errors.Is(err, errGlobLimit):
		return Failed(NewToolErrorf(ErrExecutionFailed, "glob %s: %v", a.Pattern, err)), nil
	}

	if len(entries) == 0 {
		return OK("No files matched the pattern."), nil
	}
	slices.SortStableFunc(entries, func(x, y FileEntry) int {
		return y.ModTime.Compare(x.ModTime)
	})
	return OK(formatGlobResults(entries, len(entries) >= maxGlobResults)), nil
}

// isHiddenPath reports whether any element of a slash-separated path is a
// dotfile or dot-directory.
func isHiddenPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// resolveBase turns an optional user path into an existing absolute path.
func resolveBase(path string) (string, *ToolError) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "cannot resolve path: %v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", NewToolError(ErrFileNotFound, path)
	}
	return abs, nil
}

func formatGlobResults(entries []FileEntry, truncated bool) string {
	lines := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		kind := 'f'
		if e.IsDir {
			kind = 'd'
		}
		lines = append(lines, fmt.Sprintf("[%c] %s  %s  %s", kind, formatSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.FilePath))
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("\n[Results truncated at %d files]", maxGlobResults))
	}
	return strings.Join(lines, "\n")
}

// formatSize renders a byte count in a fixed-width column.
func formatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%4dB", n)
	}
	size := float64(n)
	for _, unit := range "KMGTPE" {
		size /= 1024
		if size < 1024 {
			return fmt.Sprintf("%4.0f%c", size, unit)
		}
	}
	return fmt.Sprintf("%4.0fE", size)
}
