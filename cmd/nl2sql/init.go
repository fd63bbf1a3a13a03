package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/nl2sql/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "Write a default config file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir, err := os.Getwd()
			if err != nil {
				return err
			}
			path := resolveConfigPath(workDir, viper.GetString("config"))
			written, err := writeDefaultConfig(path, force)
			if err != nil {
				return err
			}
			if !written {
				log.Info().Str("path", path).Msg("config already exists, skipping")
				return nil
			}
			log.Info().Str("path", path).Msg("installed default config")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func writeDefaultConfig(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}
