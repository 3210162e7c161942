package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/session"
	"github.com/x-cli-team/x-cli-sub003/internal/signal"
	"github.com/x-cli-team/x-cli-sub003/internal/ui"
)

// maxStdinBytes bounds piped input appended to the question.
const maxStdinBytes = 1 << 20

var askPlain bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the answer",
	Long: `Ask the assistant one question, print the answer and exit.

Piped input is appended to the question. Tool calls that change files or
run commands are confirmed interactively; without a terminal they are
rejected unless --yes is given.

Examples:
  x-cli ask "what does internal/chat do?"
  git diff | x-cli ask "review this change"
  x-cli ask --yes "run the tests and fix failures"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Print raw text instead of rendered markdown")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	if piped, err := readPipedStdin(); err != nil {
		return err
	} else if piped != "" {
		question += "\n\n```\n" + piped + "\n```"
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	rt, err := newRuntime(ctx, &common, session.ModeAsk, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	out := newAskPrinter(os.Stdout, rt.registry.Preview, !askPlain)
	rt.ctrl.Transcript().OnChange(out.onChange)
	rt.gate.SetConfirmer(askConfirmer(out, func() { rt.ctrl.Cancel() }))
	if err := rt.ctrl.OnStart(ctx); err != nil {
		return err
	}

	err = rt.ctrl.Submit(ctx, question)
	rt.cycleDone(err)
	if errors.Is(err, context.Canceled) {
		out.notice(out.r.Styles.Warning.Render("Cancelled"))
		return errInterrupted
	}
	return err
}

func readPipedStdin() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinBytes))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// askPrinter writes durable transcript entries as they settle. The mutex
// also keeps output from interleaving with a confirmation form.
type askPrinter struct {
	mu sync.Mutex
	w  io.Writer
	r  *ui.EntryRenderer
}

func newAskPrinter(w io.Writer, preview func(llm.ToolCall) string, markdown bool) *askPrinter {
	width := 80
	if f, ok := w.(*os.File); ok {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			width = tw
		}
	}
	return &askPrinter{
		w: w,
		r: &ui.EntryRenderer{
			Styles:   ui.NewStyles(w),
			Width:    width,
			Markdown: markdown,
			Preview:  preview,
		},
	}
}

func (p *askPrinter) onChange(c chat.Change) {
	if !settled(c) {
		return
	}
	if out := p.r.Render(c.Entry); strings.TrimSpace(out) != "" {
		p.notice(strings.TrimRight(out, "\n"))
	}
}

// settled reports whether c carries an entry in its final form: finished
// assistant text, a resolved tool call, or an error reply.
func settled(c chat.Change) bool {
	switch c.Type {
	case chat.ChangeFinalized, chat.ChangeResolved:
		return true
	case chat.ChangeAppended:
		return c.Entry.Kind == chat.KindAssistant && !c.Entry.IsStreaming
	}
	return false
}

func (p *askPrinter) notice(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

// askConfirmer prompts on the terminal, or rejects when there is none.
// cancel stops the running cycle when the user aborts the prompt.
func askConfirmer(p *askPrinter, cancel func()) confirm.Confirmer {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return confirm.ConfirmerFunc(func(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
			p.notice(p.r.Styles.Warning.Render(fmt.Sprintf("Rejected %s: no terminal to confirm (use --yes to allow)", req.Details.Tool)))
			return confirm.Reject, nil
		})
	}
	return confirm.ConfirmerFunc(func(ctx context.Context, req confirm.Request) (confirm.Decision, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		d := req.Details
		var desc strings.Builder
		switch {
		case d.Command != "":
			desc.WriteString("$ " + d.Command)
		case d.Preview != "":
			desc.WriteString(d.Preview)
		}
		if d.Diff != "" {
			desc.WriteString("\n")
			desc.WriteString(ui.RenderDiff(d.Path, d.Diff, !p.r.Styles.Plain()))
		}
		fmt.Fprintln(p.w, desc.String())

		decision := confirm.Reject
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[confirm.Decision]().
					Title("Allow " + d.Tool + "?").
					Options(
						huh.NewOption("Yes", confirm.Approve),
						huh.NewOption("Always for this session", confirm.ApproveAlways),
						huh.NewOption("No", confirm.Reject),
					).
					Value(&decision),
			),
		).WithShowHelp(false).WithShowErrors(false).WithTheme(huh.ThemeBase())

		return formOutcome(form.RunWithContext(ctx), decision, cancel)
	})
}

// formOutcome maps the confirmation form's result to a decision. Aborting
// the form cancels the whole cycle.
func formOutcome(err error, decision confirm.Decision, cancel func()) (confirm.Decision, error) {
	switch {
	case err == nil:
		return decision, nil
	case errors.Is(err, huh.ErrUserAborted):
		cancel()
		return confirm.Reject, context.Canceled
	default:
		return confirm.Reject, err
	}
}
