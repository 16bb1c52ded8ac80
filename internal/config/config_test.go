package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  main:
    type: openai
models:
  default:
    provider: main
    model: gpt-4o-mini
    default: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 30, cfg.Runtime.MaxIterations)
	require.Equal(t, 5, cfg.Runtime.MaxFixAttempts)
	require.InDelta(t, 0.85, cfg.Compactor.Threshold, 1e-9)
	require.Equal(t, 5, cfg.Compactor.KeepRecent)
	require.InDelta(t, 0.85, cfg.Edit.FuzzyThreshold, 1e-9)
	require.Equal(t, 3, cfg.Escalation.SameSignature)
	require.Equal(t, 3, cfg.Escalation.DistinctPerFile)
	require.Equal(t, 120, cfg.Sandbox.TimeoutSeconds)
	require.Equal(t, "default", cfg.DefaultModel())
}

func TestLoadRejectsUnknownProviderReference(t *testing.T) {
	path := writeConfig(t, `
providers:
  main:
    type: openai
models:
  default:
    provider: missing
    model: gpt-4o-mini
    default: true
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")
}

func TestLoadRequiresDefaultModel(t *testing.T) {
	path := writeConfig(t, `
providers:
  main:
    type: openai
models:
  coder:
    provider: main
    model: gpt-4o-mini
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "default")
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderConfig{"main": {Type: "openai"}},
		Models: map[string]ModelConfig{
			"default": {Provider: "main", Model: "m", Default: true},
		},
		Runtime:    RuntimeConfig{MaxIterations: 30, RetryAttempts: 3},
		Compactor:  CompactorConfig{Threshold: 1.5, KeepRecent: 5},
		Edit:       EditConfig{FuzzyThreshold: 0.85},
		Escalation: EscalationConfig{SameSignature: 3, DistinctPerFile: 3},
		Sandbox:    SandboxConfig{TimeoutSeconds: 120, OutputLimit: 1024},
		Verify:     VerifyConfig{TimeoutSeconds: 300},
	}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "compactor.threshold")
}
