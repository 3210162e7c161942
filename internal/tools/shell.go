package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

const (
	defaultShellTimeout = 30
	maxShellTimeout     = 300
)

// ShellTool runs a command through the user's shell.
type ShellTool struct {
	limits OutputLimits
}

func NewShellTool(limits OutputLimits) *ShellTool {
	return &ShellTool{limits: limits}
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult is what a finished command produced.
type ShellResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (t *ShellTool) Spec() llm.ToolSpec {
	timeout := intParam("timeout_seconds", fmt.Sprintf("Kill the command after this many seconds (default %d, max %d)", defaultShellTimeout, maxShellTimeout))
	timeout.schema["default"] = defaultShellTimeout
	return llm.ToolSpec{
		Name:        ShellToolName,
		Description: "Run a shell command and return its stdout, stderr and exit code.",
		Schema: objectSchema([]string{"command"},
			stringParam("command", "Command line passed to the shell with -c"),
			stringParam("working_dir", "Directory to run in (default: working directory)"),
			timeout,
		),
	}
}

func (t *ShellTool) Kind() ToolKind { return KindExecute }

func (t *ShellTool) Preview(args json.RawMessage) string {
	a, _ := peekArgs[ShellArgs](args)
	return truncateCommand(a.Command)
}

func (t *ShellTool) Confirmation(args json.RawMessage) (*ConfirmationDetails, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	preview := "Run: " + truncateCommand(a.Command)
	if a.WorkingDir != "" {
		preview += " (in " + a.WorkingDir + ")"
	}
	return &ConfirmationDetails{
		Tool:      ShellToolName,
		Operation: a.Command,
		Preview:   preview,
		Command:   a.Command,
	}, nil
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a ShellArgs
	if terr := decodeArgs(args, &a); terr != nil {
		return Failed(terr), nil
	}
	if a.Command == "" {
		return Failed(NewToolError(ErrInvalidParams, "command is required")), nil
	}
	timeout := defaultShellTimeout
	if a.TimeoutSeconds > 0 {
		timeout = min(a.TimeoutSeconds, maxShellTimeout)
	}

	res, err := t.run(ctx, a.Command, a.WorkingDir, time.Duration(timeout)*time.Second)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if err != nil {
		return Failed(NewToolErrorf(ErrExecutionFailed, "command error: %v", err)), nil
	}

	out := res.format()
	switch {
	case res.TimedOut:
		return Result{Output: out, Error: formatToolError(NewToolErrorf(ErrTimeout, "command timed out after %ds", timeout))}, nil
	case res.ExitCode != 0:
		return Result{Output: out, Error: formatToolError(NewToolErrorf(ErrExecutionFailed, "exit code %d", res.ExitCode))}, nil
	}
	return OK(out), nil
}

// run executes command and captures its output. A non-zero exit or a
// timeout is reported in the result; err is only set when the command
// could not run at all.
func (t *ShellTool) run(ctx context.Context, command, dir string, timeout time.Duration) (ShellResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: t.limits.MaxBytes}
	stderr := &cappedBuffer{limit: t.limits.MaxBytes}
	cmd := exec.CommandContext(runCtx, userShell(), "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Background children can hold the pipes open after the shell is killed.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := ShellResult{
		Stdout:    ansi.Strip(stdout.String()),
		Stderr:    ansi.Strip(stderr.String()),
		Truncated: stdout.dropped || stderr.dropped,
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return res, err
	}
	return res, nil
}

func (r ShellResult) format() string {
	var sections []string
	if r.TimedOut {
		sections = append(sections, "[Command timed out]\n")
	}
	if r.Stdout != "" {
		sections = append(sections, "stdout:\n"+withNewline(r.Stdout))
	}
	if r.Stderr != "" {
		sections = append(sections, "stderr:\n"+withNewline(r.Stderr))
	}
	sections = append(sections, fmt.Sprintf("exit_code: %d", r.ExitCode))
	out := strings.Join(sections, "\n")
	if r.Truncated {
		out += "\n\n[Output truncated due to size limit]"
	}
	return out
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest; limit <= 0 keeps everything.
type cappedBuffer struct {
	strings.Builder
	limit   int64
	dropped bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit > 0 {
		room := b.limit - int64(b.Len())
		if room < int64(len(p)) {
			b.dropped = true
			p = p[:max(room, 0)]
		}
	}
	b.Builder.Write(p)
	return n, nil
}

func userShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}

func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
