package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// ReadFileTool returns numbered lines of a text file.
type ReadFileTool struct {
	limits OutputLimits
}

func NewReadFileTool(limits OutputLimits) *ReadFileTool {
	return &ReadFileTool{limits: limits}
}

// ReadFileArgs are the arguments for read_file. Lines are 1-indexed and
// the range is inclusive.
type ReadFileArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read a text file. Output is line-numbered; page through large files with start_line and end_line.",
		Schema: objectSchema([]string{"file_path"},
			stringParam("file_path", "Path of the file, absolute or relative to the working directory"),
			intParam("start_line", "First line to return, 1-indexed (default 1)"),
			intParam("end_line", "Last line to return, inclusive (default: end of file)"),
		),
	}
}

func (t *ReadFileTool) Kind() ToolKind { return KindRead }

func (t *ReadFileTool) Preview(args json.RawMessage) string {
	a, ok := peekArgs[ReadFileArgs](args)
	if !ok || a.FilePath == "" {
		return ""
	}
	if a.StartLine <= 0 && a.EndLine <= 0 {
		return a.FilePath
	}
	end := ""
	if a.EndLine > 0 {
		end = fmt.Sprint(a.EndLine)
	}
	return fmt.Sprintf("%s:%d-%s", a.FilePath, max(a.StartLine, 1), end)
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a ReadFileArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return Failed(terr), nil
	}
	if a.FilePath == "" {
		return Failed(NewToolError(ErrInvalidParams, "file_path is required")), nil
	}

	f, err := os.Open(a.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Failed(NewToolError(ErrFileNotFound, a.FilePath)), nil
	}
	if err != nil {
		return Failed(NewToolErrorf(ErrExecutionFailed, "open %s: %v", a.FilePath, err)), nil
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	if head, _ := r.Peek(512); looksBinary(head) {
		return Failed(NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", a.FilePath)), nil
	}

	page, err := t.readRange(ctx, r, a.StartLine, a.EndLine)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Failed(NewToolErrorf(ErrExecutionFailed, "read %s: %v", a.FilePath, err)), nil
	}
	if page.first > page.total {
		return Failed(NewToolErrorf(ErrInvalidParams, "start_line %d exceeds file length %d", a.StartLine, page.total)), nil
	}
	if page.body.Len() == 0 {
		return OK("No content in requested range."), nil
	}

	out := strings.TrimSuffix(page.body.String(), "\n")
	if t.limits.MaxBytes > 0 && int64(len(out)) > t.limits.MaxBytes {
		out = out[:t.limits.MaxBytes]
		page.truncated = true
	}
	if page.truncated {
		out += fmt.Sprintf("\n\n[Output truncated. Total lines: %d. Use start_line/end_line for pagination.]", page.total)
	}
	return OK(out), nil
}

type filePage struct {
	body      strings.Builder
	first     int
	total     int
	truncated bool
}

// readRange numbers lines first..last (last <= 0 means end of file) and
// counts the whole file so the model can page further.
func (t *ReadFileTool) readRange(ctx context.Context, r *bufio.Reader, first, last int) (*filePage, error) {
	page := &filePage{first: max(first, 1)}
	kept := 0
	for {
		line, err := r.ReadString('\n')
		if line == "" && err == io.EOF {
			break
		}
		page.total++
		if page.total%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		n := page.total
		inRange := n >= page.first && (last <= 0 || n <= last)
		switch {
		case !inRange:
		case t.limits.MaxLines > 0 && kept >= t.limits.MaxLines:
			page.truncated = true
		default:
			fmt.Fprintf(&page.body, "%d: %s\n", n, strings.TrimSuffix(line, "\n"))
			kept++
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	// An empty file reads as a single empty line.
	if page.total == 0 {
		page.total = 1
	}
	return page, nil
}

// looksBinary sniffs a file head: text, JSON and XML content types pass,
// anything else is binary if it contains a NUL byte.
func looksBinary(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	ct := http.DetectContentType(head)
	if strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "xml") {
		return false
	}
	return bytes.IndexByte(head, 0) >= 0
}
