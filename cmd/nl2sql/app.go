package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/metalagman/nl2sql/internal/config"
	"github.com/metalagman/nl2sql/internal/db"
	"github.com/metalagman/nl2sql/internal/llm"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
)

// startApp builds only the components targets ask for and returns a stop
// function that closes them.
func startApp(ctx context.Context, cfg config.Config, targets ...any) (func(), error) {
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(provideDB, provideUsage, provideClient),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return func() {}, err
	}
	if err := app.Start(ctx); err != nil {
		return func() {}, fmt.Errorf("start app: %w", err)
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("stop app")
		}
	}, nil
}

func provideDB(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if dir := cfg.Database.MigrationsDir; dir != "" {
		if err := db.Migrate(conn, cfg.Database.Driver, os.DirFS(dir), "."); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

func provideUsage() *llm.Usage {
	return &llm.Usage{}
}

func provideClient(cfg config.Config, usage *llm.Usage) (*llm.Client, error) {
	return llm.NewClient(cfg.LLM.ClientConfig(), nil, llm.WithUsage(usage))
}
