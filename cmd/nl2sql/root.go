package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/metalagman/nl2sql/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	debug     bool
	logFormat string
	runID     = uuid.NewString()
	rootCmd   = &cobra.Command{
		Use:           "nl2sql",
		Short:         "nl2sql generates and corrects SQL in batches with a rate-limited LLM endpoint",
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logging.Init(debug, logFormat, runID)
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(correctCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(initCmd())
	return rootCmd.Execute()
}

// initConfig loads .env so api keys can live next to the batch files.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}
