package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/x-cli-team/x-cli-sub003/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage x-cli configuration",
	Long: `View or edit your x-cli configuration.

Examples:
  x-cli config                       # show effective config (keys redacted)
  x-cli config init                  # write a config file with defaults
  x-cli config set provider openai
  x-cli config get anthropic.model
  x-cli config edit                  # edit in $EDITOR`,
	RunE: configShow,
}

var configInitForce bool

func init() {
	initCmd := configSubcommand("init", "Write a configuration file with default values", cobra.NoArgs, configInit)
	initCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing config file")

	setCmd := configSubcommand("set <key> <value>", "Set a configuration value", cobra.ExactArgs(2), configSet)
	setCmd.Long = `Set a configuration value. Comments in the file are kept.

Examples:
  x-cli config set provider gemini
  x-cli config set openai.model gpt-4.1-mini
  x-cli config set sessions.max_age_days 14`

	configCmd.AddCommand(
		configSubcommand("show", "Show the effective configuration", cobra.NoArgs, configShow),
		configSubcommand("path", "Print configuration file path", cobra.NoArgs, configPath),
		initCmd,
		configSubcommand("edit", "Open the configuration file in $EDITOR", cobra.NoArgs, configEdit),
		setCmd,
		configSubcommand("get <key>", "Print a value from the config file", cobra.ExactArgs(1), configGet),
	)
	rootCmd.AddCommand(configCmd)
}

func configSubcommand(use, short string, args cobra.PositionalArgs, run func(*cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{Use: use, Short: short, Args: args, RunE: run}
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&common)
	if err != nil {
		return err
	}
	path := common.ConfigFile
	if path == "" {
		if path, err = config.GetConfigPath(); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprint(out, "# No config file, showing defaults. Create one with: x-cli config init\n\n")
	} else {
		fmt.Fprintf(out, "# %s\n\n", path)
	}

	redacted := cfg.Redacted()
	data, err := redacted.Marshal()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	out.Write(data)

	if active, err := cfg.Active(); err == nil && active.APIKey == "" && active.BaseURL == "" {
		fmt.Fprintf(out, "\n# warning: no API key for provider %q\n", cfg.Provider)
	}
	return nil
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	if config.Exists() && !configInitForce {
		path, _ := config.GetConfigPath()
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	path, err := config.Save(config.Default())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func configEdit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	if !config.Exists() {
		if _, err := config.Save(config.Default()); err != nil {
			return err
		}
	}
	argv := append(editorCommand(), path)
	editor := exec.CommandContext(cmd.Context(), argv[0], argv[1:]...)
	editor.Stdin, editor.Stdout, editor.Stderr = os.Stdin, os.Stdout, os.Stderr
	return editor.Run()
}

// editorCommand splits $VISUAL or $EDITOR so values like "code -w" work.
func editorCommand() []string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(os.Getenv(env)); len(fields) > 0 {
			return fields
		}
	}
	return []string{"vi"}
}

func configSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	doc, err := loadDocument(path, true)
	if err != nil {
		return err
	}
	if err := setKey(doc, strings.Split(key, "."), value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := replaceValidated(path, buf.Bytes()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}

// replaceValidated writes data next to path, loads it as a config and only
// then renames it into place.
func replaceValidated(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}
	if _, err := config.LoadFile(tmp.Name()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func configGet(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	doc, err := loadDocument(path, false)
	if err != nil {
		return err
	}
	value, err := getKey(doc, strings.Split(args[0], "."))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// loadDocument parses the config file as a YAML node tree. A missing or
// empty file yields an empty mapping when create is set.
func loadDocument(path string, create bool) (*yaml.Node, error) {
	empty := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && create:
		return empty, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("no config file at %s", path)
	case err != nil:
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		return empty, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: top level is not a mapping", path)
	}
	return &doc, nil
}

// walkKey follows keys through nested mappings. With create set, missing
// or non-mapping intermediate nodes are replaced by empty mappings and a
// missing leaf is added as an empty scalar.
func walkKey(doc *yaml.Node, keys []string, create bool) (*yaml.Node, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("not a YAML document")
	}
	node := doc.Content[0]
	for i, k := range keys {
		if node.Kind != yaml.MappingNode {
			if !create {
				return nil, fmt.Errorf("%s is not a mapping", strings.Join(keys[:i], "."))
			}
			*node = yaml.Node{Kind: yaml.MappingNode}
		}
		var next *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == k {
				next = node.Content[j+1]
				break
			}
		}
		if next == nil {
			if !create {
				return nil, fmt.Errorf("key not found: %s", strings.Join(keys[:i+1], "."))
			}
			next = &yaml.Node{Kind: yaml.ScalarNode}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, next)
		}
		node = next
	}
	return node, nil
}

// setKey stores value at keys, keeping any line comment on the old value.
func setKey(doc *yaml.Node, keys []string, value string) error {
	node, err := walkKey(doc, keys, true)
	if err != nil {
		return err
	}
	*node = yaml.Node{Kind: yaml.ScalarNode, Value: value, LineComment: node.LineComment}
	return nil
}

func getKey(doc *yaml.Node, keys []string) (string, error) {
	node, err := walkKey(doc, keys, false)
	if err != nil {
		return "", err
	}
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("%s is not a single value", strings.Join(keys, "."))
	}
	return node.Value, nil
}
