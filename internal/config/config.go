// Package config loads kb-assistant configuration from defaults, an optional TOML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultModel           = "claude-sonnet-4-5"
	DefaultMaxToolRounds   = 10
	DefaultMaxOutputTokens = 8192

	appName = "kb-assistant"
)

// Config holds the configuration for the assistant
type Config struct {
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	Model           string `toml:"model"`
	MaxToolRounds   int    `toml:"max_tool_rounds"`
	MaxOutputTokens int64  `toml:"max_output_tokens"`
	DataDir         string `toml:"data_dir"` // Holds the knowledge base, logs and input history
	GitHubToken     string `toml:"github_token"`

	Telemetry TelemetryConfig `toml:"telemetry"`

	Verbose bool `toml:"verbose"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Default returns the configuration used when nothing else is set
func Default() Config {
	dataDir := ".kb-assistant"
	if dir, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(dir, ".local", "share", appName)
	}
	return Config{
		Model:           DefaultModel,
		MaxToolRounds:   DefaultMaxToolRounds,
		MaxOutputTokens: DefaultMaxOutputTokens,
		DataDir:         dataDir,
	}
}

// DefaultPath returns the config file location: $KB_ASSISTANT_CONFIG if set, otherwise config.toml in the user's
// config directory
func DefaultPath() string {
	if path := os.Getenv("KB_ASSISTANT_CONFIG"); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "config.toml")
}

// Load builds the configuration. A missing config file is not an error; a malformed one is. Environment variables,
// including those from a .env file in the working directory, override the file
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); errors.Is(err, fs.ErrNotExist) {
			// Optional
		} else if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// A missing .env file is expected; variables may come from the real environment
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	loadOptionalFromEnv(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	loadOptionalFromEnv(&c.Model, "KB_MODEL")
	loadOptionalFromEnv(&c.DataDir, "KB_DATA_DIR")
	loadOptionalFromEnv(&c.GitHubToken, "GITHUB_TOKEN")
	loadOptionalFromEnv(&c.Telemetry.OTLPEndpoint, "KB_OTLP_ENDPOINT")

	return errors.Join(
		parseOptionalFromEnv(&c.MaxToolRounds, "KB_MAX_TOOL_ROUNDS", strconv.Atoi),
		parseOptionalFromEnv(&c.MaxOutputTokens, "KB_MAX_OUTPUT_TOKENS", func(v string) (int64, error) {
			return strconv.ParseInt(v, 10, 64)
		}),
		parseOptionalFromEnv(&c.Telemetry.Enabled, "KB_TELEMETRY_ENABLED", strconv.ParseBool),
	)
}

func loadOptionalFromEnv(dest *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dest = v
	}
}

func parseOptionalFromEnv[T any](dest *T, key string, parseFn func(string) (T, error)) error {
	str := os.Getenv(key)
	if str == "" {
		return nil // Leave default value
	}
	v, err := parseFn(str)
	if err != nil {
		return fmt.Errorf("failed to parse environment variable '%s' value '%s' as '%T': %w", key, str, *dest, err)
	}
	*dest = v
	return nil
}

// Validate checks the settings every command needs
func (c Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if c.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("max tool rounds must not be negative, got %d", c.MaxToolRounds))
	}
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("max output tokens must be positive, got %d", c.MaxOutputTokens))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data directory must not be empty"))
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry is enabled but no OTLP endpoint is set (KB_OTLP_ENDPOINT)"))
	}
	return errors.Join(errs...)
}

// ValidateForChat additionally checks the settings needed to talk to the model
func (c Config) ValidateForChat() error {
	err := c.Validate()
	if c.AnthropicAPIKey == "" {
		err = errors.Join(err, errors.New("missing required environment variable: ANTHROPIC_API_KEY"))
	}
	return err
}

func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "kb.db")
}

func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, appName+".log")
}

func (c Config) InputHistoryPath() string {
	return filepath.Join(c.DataDir, "input_history")
}
