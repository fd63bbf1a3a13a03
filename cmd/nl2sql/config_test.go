package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/nl2sql/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeTestFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestResolveConfigPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/work", defaultConfigPath), resolveConfigPath("/work", ""))
	assert.Equal(t, filepath.Join("/work", "conf", "x.yaml"), resolveConfigPath("/work", "conf/x.yaml"))
	assert.Equal(t, "/etc/nl2sql.yaml", resolveConfigPath("/work", "/etc/nl2sql.yaml"))
}

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	resetViper(t)

	cfg, err := loadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_UsesYAMLAndEnvOverrides(t *testing.T) {
	resetViper(t)
	workDir := t.TempDir()
	require.NoError(t, writeTestFile(filepath.Join(workDir, defaultConfigPath), `llm:
  model: llama-3.1-8b-instant
  retry_after: 2s
  requests_per_minute: 30
database:
  driver: sqlite
  dsn: shop.db
tasks:
  generate_output: out/generated.json
`))
	t.Setenv("NL2SQL_LLM_MAX_TOKENS", "256")

	cfg, err := loadConfig(workDir)
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLM.Model)
	assert.Equal(t, 2*time.Second, cfg.LLM.RetryAfter)
	assert.Equal(t, time.Minute, cfg.LLM.ResetDefault)
	assert.Equal(t, 30, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, 256, cfg.LLM.MaxTokens)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "out/generated.json", cfg.Tasks.GenerateOutput)
	assert.Equal(t, "train_generate_task.json", cfg.Tasks.GenerateInput)
}

func TestLoadConfig_RejectsInvalidFile(t *testing.T) {
	resetViper(t)
	workDir := t.TempDir()
	require.NoError(t, writeTestFile(filepath.Join(workDir, defaultConfigPath), "database:\n  driver: oracle\n"))

	_, err := loadConfig(workDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver")
}
