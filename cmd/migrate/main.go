// Package main applies the embedded PostgreSQL and ClickHouse migrations
// for the configured storage backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"edufund/internal/config"
	"edufund/internal/logging"
	"edufund/internal/storage/migrations"
	pgstore "edufund/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall migration timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	applied := 0

	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("connect to postgres")
		}
		versions, err := migrations.RunPostgresMigrations(ctx, pool, logger)
		pool.Close()
		if err != nil {
			logger.WithError(err).Fatal("postgres migrations failed")
		}
		logger.WithField("applied", versions).Info("postgres schema up to date")
		applied++
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
		if err != nil {
			logger.WithError(err).Fatal("clickhouse migrations failed")
		}
		_ = conn.Close()
		logger.Info("clickhouse schema up to date")
		applied++
	}

	if applied == 0 {
		logger.Warn("no database configured; set EDUFUND_STORAGE_POSTGRES_DSN or EDUFUND_STORAGE_CLICKHOUSE_DSN")
	}
}
