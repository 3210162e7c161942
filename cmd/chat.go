package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/x-cli-team/x-cli-sub003/internal/session"
	"github.com/x-cli-team/x-cli-sub003/internal/signal"
	tuichat "github.com/x-cli-team/x-cli-sub003/internal/tui/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/ui"
)

var chatResume string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat with the configured provider.

Keyboard shortcuts:
  Enter        Send message
  Ctrl+J       Insert newline
  Esc          Cancel the running response
  PgUp/PgDn    Scroll the conversation
  y / a / n    Approve, always approve, or reject a tool call
  Ctrl+C       Quit

Examples:
  x-cli chat
  x-cli chat -p openai:gpt-4.1
  x-cli chat --resume 01HV
  x-cli chat --yes                   # run tools without asking`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume a session by ID or ID prefix")
	if err := chatCmd.RegisterFlagCompletionFunc("resume", SessionIDCompletion); err != nil {
		panic("failed to register resume completion: " + err.Error())
	}
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	// The TUI reads Ctrl+C as a key; this catches SIGTERM and signals
	// delivered before the program takes over the terminal.
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	rt, err := newRuntime(ctx, &common, session.ModeChat, chatResume)
	if err != nil {
		return err
	}
	// tuichat.Run tears the controller down; Close finishes the rest.
	defer rt.Close()

	return tuichat.Run(ctx, rt.ctrl, rt.gate, tuichat.Options{
		ModelName:   rt.cfg.Provider + ":" + rt.model,
		Preview:     rt.registry.Preview,
		Styles:      ui.NewStyles(os.Stdout),
		Color:       ui.ColorEnabled(os.Stdout),
		OnCycleDone: rt.cycleDone,
	})
}
