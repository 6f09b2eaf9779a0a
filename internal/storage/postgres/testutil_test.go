package postgres

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDSN points at the container shared by every test in the package.
// It stays empty in short mode or when docker is unavailable.
var testDSN string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, dsn, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container unavailable, integration tests skipped: %v\n", err)
		os.Exit(m.Run())
	}
	testDSN = dsn

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("edufund_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", err
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	defer pool.Close()
	if err := applySchema(ctx, pool); err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, dsn, nil
}

// applySchema runs the SQL files under ../migrations/postgres in name
// order. The migrations package imports this one, so the files are read
// from disk rather than through it.
func applySchema(ctx context.Context, pool *Pool) error {
	files, err := filepath.Glob(filepath.Join("..", "migrations", "postgres", "*.sql"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no postgres migrations found")
	}
	for _, f := range files {
		script, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

// setupTestDB returns a pool on the shared container with every table
// emptied. The cleanup closes the pool.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testDSN == "" {
		t.Skip("postgres integration tests need docker")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, testDSN)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE payout_events, payouts, votes, applicants, funds CASCADE`)
	require.NoError(t, err)

	return pool, pool.Close
}
