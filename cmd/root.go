package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "x-cli",
	Short: "Chat with an AI coding assistant in your terminal",
	Long: `x-cli is a terminal chat client for LLM providers. The assistant can
read, search and edit files and run shell commands, asking before anything
that changes your system.

Examples:
  x-cli                                  # interactive chat
  x-cli chat -p openai:gpt-4.1           # chat with another provider
  x-cli chat --resume 01HV               # continue a previous session
  x-cli ask "summarize the README"       # one-shot answer
  x-cli sessions list                    # browse saved sessions
  x-cli config show                      # view configuration`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Args:              cobra.NoArgs,
	RunE:              runChat,
}

func init() {
	AddCommonFlags(rootCmd, &common)
	rootCmd.Flags().StringVar(&chatResume, "resume", "", "Resume a session by ID or ID prefix")
	if err := rootCmd.RegisterFlagCompletionFunc("resume", SessionIDCompletion); err != nil {
		panic("failed to register resume completion: " + err.Error())
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}

// errInterrupted marks a run the user cancelled; the message was already shown.
var errInterrupted = errors.New("interrupted")

func exitCode(err error) int {
	if errors.Is(err, errInterrupted) {
		return 130
	}
	return 1
}
