package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

const (
	defaultGrepResults = 100
	grepContextLines   = 2
)

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	limits OutputLimits
}

func NewGrepTool(limits OutputLimits) *GrepTool {
	return &GrepTool{limits: limits}
}

// GrepArgs are the arguments for grep.
type GrepArgs struct {
	Pattern          string `json:"pattern"`
	Path             string `json:"path,omitempty"`
	Include          string `json:"include,omitempty"`
	MaxResults       int    `json:"max_results,omitempty"`
	FilesWithMatches bool   `json:"files_with_matches,omitempty"`
}

// GrepMatch is a matching line with the lines around it.
type GrepMatch struct {
	FilePath   string
	LineNumber int
	Context    string
}

func (t *GrepTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GrepToolName,
		Description: "Search file contents with a regular expression (RE2). Each match is shown with two lines of context.",
		Schema: objectSchema([]string{"pattern"},
			stringParam("pattern", "RE2 regular expression"),
			stringParam("path", "File or directory to search (default: working directory)"),
			stringParam("include", "Only search paths matching this glob, e.g. '**/*.go'; a bare '*.go' matches at any depth"),
			intParam("max_results", fmt.Sprintf("Stop after this many matches (default %d)", defaultGrepResults)),
			boolParam("files_with_matches", "List matching files instead of matching lines"),
		),
	}
}

func (t *GrepTool) Kind() ToolKind { return KindSearch }

func (t *GrepTool) Preview(args json.RawMessage) string {
	a, ok := peekArgs[GrepArgs](args)
	switch {
	case !ok || a.Pattern == "":
		return ""
	case a.Path != "":
		return "/" + a.Pattern + "/ in " + a.Path
	}
	return "/" + a.Pattern + "/"
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a GrepArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return Failed(terr), nil
	}
	if a.Pattern == "" {
		return Failed(NewToolError(ErrInvalidParams, "pattern is required")), nil
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return Failed(NewToolErrorf(ErrInvalidParams, "invalid regex pattern: %v", err)), nil
	}
	if a.Include != "" && !doublestar.ValidatePattern(a.Include) {
		return Failed(NewToolErrorf(ErrInvalidParams, "invalid include pattern: %s", a.Include)), nil
	}
	limit := a.MaxResults
	if limit <= 0 {
		limit = defaultGrepResults
	}
	root, terr := resolveBase(a.Path)
	if terr != nil {
		return Failed(terr), nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	files, err := grepCandidates(searchCtx, root, a.Include)
	if err == nil {
		var perFile [][]GrepMatch
		perFile, err = searchFiles(searchCtx, files, re, limit)
		if err == nil {
			return t.format(perFile, limit, a.FilesWithMatches), nil
		}
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Failed(NewToolError(ErrTimeout, "grep timed out; try a more specific pattern or path")), nil
	}
	return Failed(NewToolErrorf(ErrExecutionFailed, "grep: %v", err)), nil
}

func (t *GrepTool) format(perFile [][]GrepMatch, limit int, filesOnly bool) Result {
	var matches []GrepMatch
	var files []string
	for _, found := range perFile {
		if len(found) == 0 || len(matches) >= limit {
			continue
		}
		files = append(files, found[0].FilePath)
		matches = append(matches, found[:min(len(found), limit-len(matches))]...)
	}
	if len(matches) == 0 {
		return OK("No matches found.")
	}
	if filesOnly {
		return OK(strings.Join(files, "\n"))
	}

	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "%s:%d\n%s\n", m.FilePath, m.LineNumber, m.Context)
	}
	if len(matches) >= limit {
		sb.WriteString("\n[Results truncated at limit]")
	}
	out := sb.String()
	if t.limits.MaxBytes > 0 && int64(len(out)) > t.limits.MaxBytes {
		out = out[:t.limits.MaxBytes] + "\n\n[Output truncated due to size limit]"
	}
	return OK(out)
}

// grepCandidates lists the files under root to search, skipping hidden
// entries. A root that is a file is searched on its own.
func grepCandidates(ctx context.Context, root, include string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	// Bare patterns like "*.go" match against the base name at any depth.
	byName := include != "" && !strings.Contains(include, "/")
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if include != "" {
			rel, _ := filepath.Rel(root, path)
			ok, _ := doublestar.Match(include, filepath.ToSlash(rel))
			if !ok && byName {
				ok, _ = doublestar.Match(include, d.Name())
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// searchFiles greps files concurrently. Results keep the order of files;
// each file contributes at most limit matches.
func searchFiles(ctx context.Context, files []string, re *regexp.Regexp, limit int) ([][]GrepMatch, error) {
	results := make([][]GrepMatch, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Unreadable and binary files are skipped.
			results[i], _ = grepFile(path, re, limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]GrepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if head, _ := r.Peek(512); looksBinary(head) {
		return nil, fmt.Errorf("%s: binary file", path)
	}

	var lines []string
	var hits []int
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(hits) < limit && re.MatchString(line) {
			hits = append(hits, len(lines))
		}
		lines = append(lines, line)
		if len(hits) >= limit && len(lines) > hits[len(hits)-1]+grepContextLines {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	matches := make([]GrepMatch, 0, len(hits))
	for _, idx := range hits {
		matches = append(matches, GrepMatch{
			FilePath:   path,
			LineNumber: idx + 1,
			Context:    contextBlock(lines, idx),
		})
	}
	return matches, nil
}

// contextBlock renders the lines around lines[idx], marking the match.
func contextBlock(lines []string, idx int) string {
	from := max(idx-grepContextLines, 0)
	to := min(idx+grepContextLines+1, len(lines))
	block := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		marker := "  "
		if i == idx {
			marker = "> "
		}
		block = append(block, fmt.Sprintf("%s%d: %s", marker, i+1, lines[i]))
	}
	return strings.Join(block, "\n")
}
