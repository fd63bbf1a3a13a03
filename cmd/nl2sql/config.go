package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/metalagman/nl2sql/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "nl2sql.yaml"
	envPrefix         = "NL2SQL"
)

func resolveConfigPath(workDir, path string) string {
	if path == "" {
		path = defaultConfigPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	return path
}

// loadConfig merges defaults, the config file when present, and NL2SQL_*
// environment overrides.
func loadConfig(workDir string) (config.Config, error) {
	setDefaults(viper.GetViper())
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	path := resolveConfigPath(workDir, viper.GetString("config"))
	switch _, err := os.Stat(path); {
	case err == nil:
		if err := config.ValidateFile(path); err != nil {
			return config.Config{}, err
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("read config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Debug().Str("path", path).Msg("config file not found, using defaults")
	default:
		return config.Config{}, fmt.Errorf("stat config: %w", err)
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := config.Default()
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.api_key_env", d.LLM.APIKeyEnv)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.n", d.LLM.N)
	v.SetDefault("llm.retry_after", d.LLM.RetryAfter.String())
	v.SetDefault("llm.reset_default", d.LLM.ResetDefault.String())
	v.SetDefault("llm.requests_per_minute", d.LLM.RequestsPerMinute)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.schema", d.Database.Schema)
	v.SetDefault("database.migrations_dir", d.Database.MigrationsDir)
	v.SetDefault("tasks.generate_input", d.Tasks.GenerateInput)
	v.SetDefault("tasks.generate_output", d.Tasks.GenerateOutput)
	v.SetDefault("tasks.correct_input", d.Tasks.CorrectInput)
	v.SetDefault("tasks.correct_output", d.Tasks.CorrectOutput)
	v.SetDefault("metrics_file", d.MetricsFile)
}
