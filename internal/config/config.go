package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level runtime configuration loaded from YAML and ENV.
type Config struct {
	Version    string                    `mapstructure:"version"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     map[string]ModelConfig    `mapstructure:"models"`
	Runtime    RuntimeConfig             `mapstructure:"runtime"`
	Compactor  CompactorConfig           `mapstructure:"compactor"`
	Edit       EditConfig                `mapstructure:"edit"`
	Escalation EscalationConfig          `mapstructure:"escalation"`
	Sandbox    SandboxConfig             `mapstructure:"sandbox"`
	Verify     VerifyConfig              `mapstructure:"verify"`
	Logging    LoggingConfig             `mapstructure:"logging"`
}

// ProviderConfig represents a model backend such as OpenAI or a compatible gateway.
type ProviderConfig struct {
	Type    string        `mapstructure:"type"`     // openai or ollama
	BaseURL string        `mapstructure:"base_url"` // API base URL
	APIKey  string        `mapstructure:"api_key"`  // optional API key
	Timeout time.Duration `mapstructure:"timeout"`  // request timeout
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider      string  `mapstructure:"provider"`
	Model         string  `mapstructure:"model"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	ContextTokens int     `mapstructure:"context_tokens"` // context window size for budgeting
	Default       bool    `mapstructure:"default"`
}

// RuntimeConfig describes loop controller parameters.
type RuntimeConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`   // think/act cycles before FAILED
	MaxFixAttempts int           `mapstructure:"max_fix_attempts"` // verification self-correction cap
	RetryAttempts  int           `mapstructure:"retry_attempts"`   // model backend retries
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`    // initial backoff between retries
	SharedFiles    []string      `mapstructure:"shared_files"`     // globally scoped files with serialized edits
}

// CompactorConfig controls conversation budget compaction.
type CompactorConfig struct {
	Threshold  float64 `mapstructure:"threshold"`   // fraction of context window that triggers compaction
	KeepRecent int     `mapstructure:"keep_recent"` // invocation/result pairs never compacted
}

// EditConfig controls the structured-edit engine.
type EditConfig struct {
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"` // minimum similarity for fuzzy matches
}

// EscalationConfig controls when repeated failures become a human question.
type EscalationConfig struct {
	SameSignature   int `mapstructure:"same_signature"`    // occurrences of one signature
	DistinctPerFile int `mapstructure:"distinct_per_file"` // distinct signatures on one file
}

// SandboxConfig controls command execution restrictions.
type SandboxConfig struct {
	DeniedPatterns []string `mapstructure:"denied_patterns"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	OutputLimit    int      `mapstructure:"output_limit"` // characters kept from command output
}

// VerifyConfig configures the verification gate commands.
type VerifyConfig struct {
	FileCommand      string `mapstructure:"file_command"`      // per-file check; {} replaced with the path
	WorkspaceCommand string `mapstructure:"workspace_command"` // final whole-workspace check
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: LOOPSMITH_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOOPSMITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("runtime.max_iterations", 30)
	v.SetDefault("runtime.max_fix_attempts", 5)
	v.SetDefault("runtime.retry_attempts", 3)
	v.SetDefault("runtime.retry_backoff", "500ms")
	v.SetDefault("runtime.shared_files", []string{})

	v.SetDefault("compactor.threshold", 0.85)
	v.SetDefault("compactor.keep_recent", 5)

	v.SetDefault("edit.fuzzy_threshold", 0.85)

	v.SetDefault("escalation.same_signature", 3)
	v.SetDefault("escalation.distinct_per_file", 3)

	v.SetDefault("sandbox.timeout_seconds", 120)
	v.SetDefault("sandbox.output_limit", 16384)
	v.SetDefault("sandbox.denied_patterns", []string{})

	v.SetDefault("verify.file_command", "")
	v.SetDefault("verify.workspace_command", "")
	v.SetDefault("verify.timeout_seconds", 300)
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
	}

	var defaultFound bool
	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}

		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}

		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}

		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}

		if m.ContextTokens < 0 {
			return fmt.Errorf("model %q context_tokens cannot be negative", name)
		}

		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	if c.Runtime.MaxIterations <= 0 {
		return errors.New("runtime.max_iterations must be > 0")
	}
	if c.Runtime.MaxFixAttempts < 0 {
		return errors.New("runtime.max_fix_attempts must be >= 0")
	}
	if c.Runtime.RetryAttempts <= 0 {
		return errors.New("runtime.retry_attempts must be > 0")
	}
	if c.Runtime.RetryBackoff < 0 {
		return errors.New("runtime.retry_backoff must be >= 0")
	}

	if c.Compactor.Threshold <= 0 || c.Compactor.Threshold > 1 {
		return errors.New("compactor.threshold must be within (0,1]")
	}
	if c.Compactor.KeepRecent < 0 {
		return errors.New("compactor.keep_recent must be >= 0")
	}

	if c.Edit.FuzzyThreshold <= 0 || c.Edit.FuzzyThreshold > 1 {
		return errors.New("edit.fuzzy_threshold must be within (0,1]")
	}

	if c.Escalation.SameSignature <= 0 {
		return errors.New("escalation.same_signature must be > 0")
	}
	if c.Escalation.DistinctPerFile <= 0 {
		return errors.New("escalation.distinct_per_file must be > 0")
	}

	if c.Sandbox.TimeoutSeconds <= 0 {
		return errors.New("sandbox.timeout_seconds must be > 0")
	}
	if c.Sandbox.OutputLimit <= 0 {
		return errors.New("sandbox.output_limit must be > 0")
	}

	if c.Verify.TimeoutSeconds <= 0 {
		return errors.New("verify.timeout_seconds must be > 0")
	}

	return nil
}

// DefaultModel returns the name of the model marked default, or the empty string.
func (c *Config) DefaultModel() string {
	for name, m := range c.Models {
		if m.Default {
			return name
		}
	}
	return ""
}
