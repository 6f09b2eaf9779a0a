package main

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"edufund/internal/config"
	"edufund/internal/evm"
	"edufund/internal/jsonrpc"
	"edufund/internal/ledger"
	"edufund/internal/ledger/stub"
	"edufund/internal/solana"
	"edufund/internal/storage"
	chstore "edufund/internal/storage/clickhouse"
	"edufund/internal/storage/memory"
	"edufund/internal/storage/migrations"
	pgstore "edufund/internal/storage/postgres"
)

// allStores holds the storage implementations selected by config.
type allStores struct {
	funds   storage.FundStore
	journal storage.PayoutJournal
}

// vaultLedger is what the services need from a ledger backend.
type vaultLedger interface {
	ledger.Client
	ledger.BalanceReader
	ledger.AddressValidator
	ledger.StatusChecker
}

var (
	_ vaultLedger = (*stub.Ledger)(nil)
	_ vaultLedger = (*solana.Ledger)(nil)
	_ vaultLedger = (*evm.Ledger)(nil)
)

// createStores opens the configured backends. The returned cleanup closes
// them in reverse order.
func createStores(ctx context.Context, cfg config.StorageConfig, logger logrus.FieldLogger) (*allStores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var pool *pgstore.Pool
	if cfg.Backend == "postgres" || cfg.Journal == "postgres" {
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, p.Close)
		pool = p

		if cfg.MigrateOnStart {
			applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.WithField("applied", len(applied)).Info("postgres schema up to date")
		}
	}

	stores := &allStores{}
	switch cfg.Backend {
	case "postgres":
		stores.funds = pgstore.NewFundStore(pool)
	default:
		stores.funds = memory.NewFundStore()
	}

	switch cfg.Journal {
	case "postgres":
		stores.journal = pgstore.NewPayoutJournal(pool)
	case "clickhouse":
		var (
			conn *chstore.Conn
			err  error
		)
		if cfg.MigrateOnStart {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
		}
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		stores.journal = chstore.NewPayoutJournal(conn)
	default:
		stores.journal = memory.NewPayoutJournal()
	}

	return stores, cleanup, nil
}

// createLedger builds the ledger backend named by cfg.Kind.
func createLedger(ctx context.Context, cfg config.LedgerConfig, logger logrus.FieldLogger) (vaultLedger, func(), error) {
	rpcOpts := []jsonrpc.Option{
		jsonrpc.WithMaxRetries(cfg.MaxRetries),
		jsonrpc.WithRateLimit(cfg.RPS, int(math.Max(1, math.Ceil(cfg.RPS)))),
	}

	switch cfg.Kind {
	case "solana":
		key, err := solana.ParsePrivateKey(cfg.VaultKey)
		if err != nil {
			return nil, nil, fmt.Errorf("vault key: %w", err)
		}
		commitment, err := solana.ParseCommitment(cfg.Commitment)
		if err != nil {
			return nil, nil, err
		}
		rpc := solana.NewHTTPClient(cfg.RPCEndpoint, rpcOpts...)

		var (
			confirmer solana.Confirmer = solana.NewPollConfirmer(rpc, cfg.ConfirmPollInterval)
			closeWS                    = func() {}
		)
		if cfg.WSEndpoint != "" {
			wsCfg := solana.DefaultWSConfig()
			wsCfg.Logger = logger
			ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &wsCfg)
			if err != nil {
				return nil, nil, fmt.Errorf("connect solana websocket: %w", err)
			}
			confirmer = solana.NewWSConfirmer(ws, rpc)
			closeWS = func() { _ = ws.Close() }
		}

		l := solana.NewLedger(rpc, confirmer, key, commitment, logger,
			solana.WithConfirmTimeout(cfg.ConfirmTimeout),
		)
		return l, closeWS, nil

	case "evm":
		l, err := evm.NewLedger(evm.NewHTTPClient(cfg.RPCEndpoint, rpcOpts...), cfg.VaultAddress, cfg.ConfirmPollInterval, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil

	default:
		balance, err := decimal.NewFromString(cfg.StubBalance)
		if err != nil {
			return nil, nil, fmt.Errorf("stub balance: %w", err)
		}
		logger.Warn("using the stub ledger; transfers are simulated in memory")
		return stub.NewLedger(cfg.VaultAddress, balance), func() {}, nil
	}
}
