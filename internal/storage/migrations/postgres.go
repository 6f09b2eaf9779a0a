package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"edufund/internal/storage/postgres"
)

// pgLockKey is the advisory lock held while a migration is applied, so
// replicas starting together do not race.
const pgLockKey int64 = 0x6564_7566_756e64

// RunPostgresMigrations applies the embedded PostgreSQL migrations that
// are not recorded yet, each in its own transaction. It returns the
// versions it applied.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, log logrus.FieldLogger) ([]int, error) {
	migs, err := Load(dialectPostgres)
	if err != nil {
		return nil, err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []int
	for _, m := range migs {
		done, err := applyPostgres(ctx, pool, m)
		if err != nil {
			return applied, fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		if done {
			applied = append(applied, m.Version)
			log.WithFields(logrus.Fields{"version": m.Version, "name": m.Name}).Info("postgres migration applied")
		}
	}
	return applied, nil
}

// applyPostgres runs m unless it is already recorded. It reports whether
// m was applied by this call.
func applyPostgres(ctx context.Context, pool *postgres.Pool, m Migration) (applied bool, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, pgLockKey); err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check version: %w", err)
	}
	if exists {
		return false, tx.Rollback(ctx)
	}

	// The simple protocol accepts a multi-statement script.
	if _, err = tx.Exec(ctx, m.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return false, err
	}
	if _, err = tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return false, fmt.Errorf("record version: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
