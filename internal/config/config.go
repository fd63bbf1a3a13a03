// Package config provides configuration loading and management for nl2sql.
package config

import (
	"fmt"
	"time"

	"github.com/metalagman/nl2sql/internal/llm"
)

// Config is the root configuration.
type Config struct {
	LLM         LLMConfig      `json:"llm"                    mapstructure:"llm"          yaml:"llm"`
	Database    DatabaseConfig `json:"database"               mapstructure:"database"     yaml:"database"`
	Tasks       TasksConfig    `json:"tasks"                  mapstructure:"tasks"        yaml:"tasks"`
	MetricsFile string         `json:"metrics_file,omitempty" mapstructure:"metrics_file" yaml:"metrics_file,omitempty"`
}

// LLMConfig describes the completion endpoint and generation parameters.
type LLMConfig struct {
	BaseURL           string        `json:"base_url"            mapstructure:"base_url"            yaml:"base_url"`
	Model             string        `json:"model"               mapstructure:"model"               yaml:"model"`
	APIKey            string        `json:"api_key,omitempty"   mapstructure:"api_key"             yaml:"api_key,omitempty"`
	APIKeyEnv         string        `json:"api_key_env"         mapstructure:"api_key_env"         yaml:"api_key_env"`
	Temperature       float64       `json:"temperature"         mapstructure:"temperature"         yaml:"temperature"`
	MaxTokens         int           `json:"max_tokens"          mapstructure:"max_tokens"          yaml:"max_tokens"`
	N                 int           `json:"n"                   mapstructure:"n"                   yaml:"n"`
	RetryAfter        time.Duration `json:"retry_after"         mapstructure:"retry_after"         yaml:"retry_after"`
	ResetDefault      time.Duration `json:"reset_default"       mapstructure:"reset_default"       yaml:"reset_default"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// DatabaseConfig describes the schema source.
type DatabaseConfig struct {
	Driver        string `json:"driver"                   mapstructure:"driver"         yaml:"driver"`
	DSN           string `json:"dsn"                      mapstructure:"dsn"            yaml:"dsn"`
	Schema        string `json:"schema"                   mapstructure:"schema"         yaml:"schema"`
	MigrationsDir string `json:"migrations_dir,omitempty" mapstructure:"migrations_dir" yaml:"migrations_dir,omitempty"`
}

// TasksConfig holds batch input and output paths.
type TasksConfig struct {
	GenerateInput  string `json:"generate_input"  mapstructure:"generate_input"  yaml:"generate_input"`
	GenerateOutput string `json:"generate_output" mapstructure:"generate_output" yaml:"generate_output"`
	CorrectInput   string `json:"correct_input"   mapstructure:"correct_input"   yaml:"correct_input"`
	CorrectOutput  string `json:"correct_output"  mapstructure:"correct_output"  yaml:"correct_output"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	params := llm.DefaultParams()
	return Config{
		LLM: LLMConfig{
			BaseURL:      "https://api.groq.com/openai/v1",
			Model:        "llama-3.2-3b-preview",
			APIKeyEnv:    "GROQ_API_KEY",
			Temperature:  params.Temperature,
			MaxTokens:    params.MaxTokens,
			N:            params.N,
			RetryAfter:   5 * time.Second,
			ResetDefault: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "pgx",
			DSN:    "postgres://postgres@localhost:5432/postgres?sslmode=disable",
			Schema: "public",
		},
		Tasks: TasksConfig{
			GenerateInput:  "train_generate_task.json",
			GenerateOutput: "output_sql_generation_task.json",
			CorrectInput:   "train_query_correction_task.json",
			CorrectOutput:  "output_sql_correction_task.json",
		},
	}
}

// Params returns the generation parameters for every completion call.
func (c LLMConfig) Params() llm.Params {
	return llm.Params{
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		N:           c.N,
	}
}

// ClientConfig returns the completion client configuration.
func (c LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		APIKey:            c.APIKey,
		APIKeyEnv:         c.APIKeyEnv,
		DefaultRetryAfter: c.RetryAfter,
		DefaultReset:      c.ResetDefault,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}

// Validate checks values that the schema cannot express.
func (c Config) Validate() error {
	if err := c.LLM.Params().Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be >= 0")
	}
	if c.LLM.RetryAfter < 0 || c.LLM.ResetDefault < 0 {
		return fmt.Errorf("llm.retry_after and llm.reset_default must be >= 0")
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite or pgx, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
