package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/metalagman/nl2sql/internal/batch"
	"github.com/metalagman/nl2sql/internal/config"
	"github.com/metalagman/nl2sql/internal/db"
	"github.com/metalagman/nl2sql/internal/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type taskSet struct {
	generate bool
	correct  bool
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "run",
		Short:        "Generate SQL for every question, then correct every incorrect statement",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksCmd(cmd, taskSet{generate: true, correct: true})
		},
	}
}

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "generate",
		Short:        "Convert natural-language questions to SQL",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksCmd(cmd, taskSet{generate: true})
		},
	}
}

func correctCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "correct",
		Short:        "Correct known-incorrect SQL statements",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksCmd(cmd, taskSet{correct: true})
		},
	}
}

func runTasksCmd(cmd *cobra.Command, tasks taskSet) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(workDir)
	if err != nil {
		return err
	}
	report, err := runTasks(cmd.Context(), cfg, tasks)
	if err != nil {
		return err
	}
	report.print(cmd.OutOrStdout())
	return nil
}

type runReport struct {
	generate    *batch.Stats
	correct     *batch.Stats
	totalTokens int
}

func (r runReport) print(w io.Writer) {
	if r.generate != nil {
		fmt.Fprintf(w, "Time taken to generate SQLs: %s\n", r.generate.Elapsed.Round(time.Millisecond))
	}
	if r.correct != nil {
		fmt.Fprintf(w, "Time taken to correct SQLs: %s\n", r.correct.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Total tokens: %d\n", r.totalTokens)
}

// runTasks loads every input before the first call so a bad file fails fast.
func runTasks(ctx context.Context, cfg config.Config, tasks taskSet) (runReport, error) {
	var genItems []batch.GenerationItem
	var corItems []batch.CorrectionItem
	var err error
	if tasks.generate {
		if genItems, err = batch.LoadGenerationItems(cfg.Tasks.GenerateInput); err != nil {
			return runReport{}, err
		}
	}
	if tasks.correct {
		if corItems, err = batch.LoadCorrectionItems(cfg.Tasks.CorrectInput); err != nil {
			return runReport{}, err
		}
	}

	var conn *sql.DB
	var client *llm.Client
	stop, err := startApp(ctx, cfg, &conn, &client)
	if err != nil {
		return runReport{}, err
	}
	defer stop()

	schema, err := db.DescribeSchema(ctx, conn, cfg.Database.Driver, cfg.Database.Schema)
	if err != nil {
		return runReport{}, err
	}
	runner, err := batch.NewRunner(client, schema, cfg.LLM.Params())
	if err != nil {
		return runReport{}, err
	}

	var report runReport
	if tasks.generate {
		results, stats := runner.Generate(ctx, genItems)
		if len(results) != len(genItems) {
			return report, fmt.Errorf("generation produced %d results for %d items", len(results), len(genItems))
		}
		if err := batch.WriteJSON(cfg.Tasks.GenerateOutput, results); err != nil {
			return report, err
		}
		logStats("generate", cfg.Tasks.GenerateOutput, stats)
		report.generate = &stats
	}
	if tasks.correct {
		results, stats := runner.Correct(ctx, corItems)
		if len(results) != len(corItems) {
			return report, fmt.Errorf("correction produced %d results for %d items", len(results), len(corItems))
		}
		if err := batch.WriteJSON(cfg.Tasks.CorrectOutput, results); err != nil {
			return report, err
		}
		logStats("correct", cfg.Tasks.CorrectOutput, stats)
		report.correct = &stats
	}

	report.totalTokens = client.Usage().CompletionTokens()
	log.Info().
		Int("completion_tokens", report.totalTokens).
		Int("calls", client.Usage().Calls()).
		Msg("usage")

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, client.Gatherer()); err != nil {
			return report, fmt.Errorf("write metrics: %w", err)
		}
	}
	return report, nil
}

func logStats(task, output string, stats batch.Stats) {
	log.Info().
		Str("task", task).
		Int("items", stats.Items).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("elapsed", stats.Elapsed).
		Str("output", output).
		Msg("batch finished")
}
