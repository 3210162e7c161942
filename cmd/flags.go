package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/x-cli-team/x-cli-sub003/internal/config"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
)

// CommonFlags holds the flag values shared by the chat and ask commands.
type CommonFlags struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	ConfigFile string
	MaxTokens  int
	MaxTurns   int
	Yes        bool
	Debug      bool
	LogFile    string
}

var common CommonFlags

// AddCommonFlags registers the shared flags as persistent flags of cmd.
func AddCommonFlags(cmd *cobra.Command, f *CommonFlags) {
	flags := cmd.PersistentFlags()
	AddProviderFlag(cmd, &f.Provider)
	flags.StringVarP(&f.Model, "model", "m", "", "Override the model for the selected provider")
	flags.StringVar(&f.APIKey, "api-key", "", "API key for the selected provider")
	flags.StringVar(&f.BaseURL, "base-url", "", "Custom API endpoint for the selected provider")
	flags.StringVarP(&f.ConfigFile, "config", "c", "", "Config file (default is the XDG config directory)")
	flags.IntVar(&f.MaxTokens, "max-tokens", 0, "Maximum tokens per response")
	AddMaxTurnsFlag(cmd, &f.MaxTurns)
	AddYesFlag(cmd, &f.Yes)
	AddDebugFlag(cmd, &f.Debug)
	flags.StringVar(&f.LogFile, "log-file", "", "Write diagnostic logs to this file (or stderr/stdout)")
}

// AddProviderFlag adds the --provider/-p flag with completion
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.PersistentFlags().StringVarP(dest, "provider", "p", "", "Override provider, optionally with model (e.g., openai:gpt-4.1)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddMaxTurnsFlag adds the --max-turns flag
func AddMaxTurnsFlag(cmd *cobra.Command, dest *int) {
	cmd.PersistentFlags().IntVar(dest, "max-turns", 0, "Max model turns per message when tools are used")
}

// AddYesFlag adds the --yes/-y flag
func AddYesFlag(cmd *cobra.Command, dest *bool) {
	cmd.PersistentFlags().BoolVarP(dest, "yes", "y", false, "Run tools without asking for confirmation")
	cmd.PersistentFlags().BoolVar(dest, "no-confirm", false, "Alias for --yes")
}

// AddDebugFlag adds the --debug/-d flag
func AddDebugFlag(cmd *cobra.Command, dest *bool) {
	cmd.PersistentFlags().BoolVarP(dest, "debug", "d", false, "Write debug-level diagnostic logs")
}

// parseProviderModel splits "provider:model". The model part is optional.
func parseProviderModel(s string) (provider, model string, err error) {
	provider, model, _ = strings.Cut(strings.TrimSpace(s), ":")
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" {
		return "", "", nil
	}
	for _, name := range llm.ProviderNames {
		if name == provider {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider %q (valid: %s)", provider, strings.Join(llm.ProviderNames, ", "))
}

// overrides converts flag values into config overrides.
func (f *CommonFlags) overrides() (config.Overrides, error) {
	provider, model, err := parseProviderModel(f.Provider)
	if err != nil {
		return config.Overrides{}, err
	}
	if f.Model != "" {
		model = f.Model
	}
	return config.Overrides{
		Provider:  provider,
		Model:     model,
		APIKey:    f.APIKey,
		BaseURL:   f.BaseURL,
		MaxTokens: f.MaxTokens,
		MaxTurns:  f.MaxTurns,
		NoConfirm: f.Yes,
	}, nil
}
