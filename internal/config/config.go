package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName names the config and data directories.
const AppName = "x-cli"

type Config struct {
	Provider            string        `mapstructure:"provider" yaml:"provider"`
	Model               string        `mapstructure:"model" yaml:"model,omitempty"`
	APIKey              string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	MaxTokens           int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequireConfirmation bool          `mapstructure:"require_confirmation" yaml:"require_confirmation"`
	MaxTurns            int           `mapstructure:"max_turns" yaml:"max_turns"`
	ToolConcurrency     int           `mapstructure:"tool_concurrency" yaml:"tool_concurrency"`
	FlushInterval       time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShellAllow          []string      `mapstructure:"shell_allow" yaml:"shell_allow,omitempty"`
	SystemPrompt        string        `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`

	Anthropic ProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
	OpenAI    ProviderConfig `mapstructure:"openai" yaml:"openai"`
	Gemini    ProviderConfig `mapstructure:"gemini" yaml:"gemini"`

	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Breaker  BreakerConfig  `mapstructure:"breaker" yaml:"breaker"`
	Sessions SessionsConfig `mapstructure:"sessions" yaml:"sessions"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ProviderConfig holds per-provider credentials and defaults.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// RetryConfig controls retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// BreakerConfig controls the provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures" yaml:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SessionsConfig controls session logging and the session index.
type SessionsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir        string `mapstructure:"dir" yaml:"dir,omitempty"`             // Override default data directory
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"` // Delete logs older than N days (0=never)
}

// LogConfig controls the diagnostic log (never the terminal, which the UI owns).
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// Overrides are values supplied on the command line.
type Overrides struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	MaxTurns  int
	// NoConfirm disables confirmation prompts when set.
	NoConfirm bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("require_confirmation", true)
	v.SetDefault("max_turns", 25)
	v.SetDefault("tool_concurrency", 4)
	v.SetDefault("flush_interval", 50*time.Millisecond)
	v.SetDefault("request_timeout", 10*time.Minute)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("sessions.max_age_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config.yaml from the XDG config directory (or the working directory).
// A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolveCredentials()
	return &cfg, nil
}

// resolveCredentials expands ${VAR} references and falls back to provider env vars.
func (c *Config) resolveCredentials() {
	c.APIKey = expandEnv(c.APIKey)
	c.BaseURL = expandEnv(c.BaseURL)
	resolveProvider(&c.Anthropic, "ANTHROPIC_API_KEY")
	resolveProvider(&c.OpenAI, "OPENAI_API_KEY")
	resolveProvider(&c.Gemini, "GEMINI_API_KEY")
}

func resolveProvider(cfg *ProviderConfig, envVar string) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(envVar)
	}
	cfg.BaseURL = expandEnv(cfg.BaseURL)
}

// ApplyOverrides applies command line overrides. Top-level api_key, base_url
// and model apply to the active provider.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Provider != "" {
		c.Provider = o.Provider
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.MaxTokens > 0 {
		c.MaxTokens = o.MaxTokens
	}
	if o.MaxTurns > 0 {
		c.MaxTurns = o.MaxTurns
	}
	if o.NoConfirm {
		c.RequireConfirmation = false
	}
}

// Active returns the effective settings for the selected provider, with
// top-level api_key, base_url and model taking precedence.
func (c *Config) Active() (ProviderConfig, error) {
	var pc ProviderConfig
	switch c.Provider {
	case "anthropic":
		pc = c.Anthropic
	case "openai":
		pc = c.OpenAI
	case "gemini":
		pc = c.Gemini
	default:
		return pc, fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.APIKey != "" {
		pc.APIKey = c.APIKey
	}
	if c.BaseURL != "" {
		pc.BaseURL = c.BaseURL
	}
	if c.Model != "" {
		pc.Model = c.Model
	}
	return pc, nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for x-cli.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, AppName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for x-cli.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, AppName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", AppName), nil
}

// SessionDir returns where session logs and the session index live.
func (c *Config) SessionDir() (string, error) {
	if c.Sessions.Dir != "" {
		return c.Sessions.Dir, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions"), nil
}

// LogPath returns the diagnostic log file path.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, AppName+".log"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		return &Config{}
	}
	return cfg
}

// Redacted returns a copy with API keys masked, for display.
func (c Config) Redacted() Config {
	c.APIKey = redact(c.APIKey)
	c.Anthropic.APIKey = redact(c.Anthropic.APIKey)
	c.OpenAI.APIKey = redact(c.OpenAI.APIKey)
	c.Gemini.APIKey = redact(c.Gemini.APIKey)
	return c
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the config to disk at the standard path.
func Save(cfg *Config) (string, error) {
	path, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	header := "# x-cli configuration. API keys may reference env vars, e.g. api_key: ${ANTHROPIC_API_KEY}\n"
	return path, os.WriteFile(path, append([]byte(header), data...), 0600)
}
