package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-cli-team/x-cli-sub003/internal/config"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/session"
)

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish|powershell]",
	Short:     "Generate shell completion scripts",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return fmt.Errorf("unsupported shell: %s", args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// ProviderFlagCompletion handles --provider flag completion
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if name, _, found := strings.Cut(toComplete, ":"); found {
		// Offer the configured default model for the typed provider.
		cfg, err := config.Load()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		cfg.Provider = name
		active, err := cfg.Active()
		if err != nil || active.Model == "" {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return []string{name + ":" + active.Model}, cobra.ShellCompDirectiveNoFileComp
	}

	var completions []string
	for _, name := range llm.ProviderNames {
		if strings.HasPrefix(name, toComplete) {
			completions = append(completions, name)
		}
	}
	// No space so the user can type ":" and a model.
	return completions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
}

// SessionIDCompletion completes session IDs from the index.
func SessionIDCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessions, err := store.List(ctx, session.ListOptions{Limit: 50})
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var completions []string
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, toComplete) {
			completions = append(completions, s.ID+"\t"+s.Summary)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
