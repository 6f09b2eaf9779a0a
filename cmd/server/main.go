// Package main runs the scholarship escrow service:
// - REST API (funds, applications, votes, ranking, distribution)
// - Distribution engine paying winners through the configured ledger
// - Escrow solvency monitor (scheduled)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"edufund/internal/config"
	"edufund/internal/distribution"
	"edufund/internal/escrow"
	"edufund/internal/httpapi"
	"edufund/internal/logging"
	"edufund/internal/voting"
)

const (
	// requestGrace is how long in-flight requests run undisturbed after a
	// shutdown signal before their contexts are canceled.
	requestGrace = 10 * time.Second
	// shutdownSlack covers writing the last responses.
	shutdownSlack = 5 * time.Second
)

// shutdownTimeout bounds graceful shutdown: the grace period plus the time
// a canceled distribution needs to record what it already transferred.
func shutdownTimeout(drain time.Duration) time.Duration {
	return requestGrace + drain + shutdownSlack
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional; EDUFUND_* env vars override it)")
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

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server error")
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeStores, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer closeStores()

	led, closeLedger, err := createLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	defer closeLedger()

	logger.WithFields(logrus.Fields{
		"storage": cfg.Storage.Backend,
		"journal": cfg.Storage.Journal,
		"ledger":  cfg.Ledger.Kind,
		"vault":   led.VaultAddress(),
	}).Info("starting edufund")

	escrowSvc := escrow.NewService(stores.funds, logger,
		escrow.WithPlatformFeeBps(cfg.Fees.PlatformFeeBps),
		escrow.WithAddressValidator(led),
	)
	votingSvc := voting.NewService(stores.funds, logger,
		voting.WithAddressValidator(led),
	)
	engine := distribution.NewEngine(stores.funds, led, cfg.DistributionEngineConfig(), logger,
		distribution.WithJournal(stores.journal),
	)

	monitor := escrow.NewMonitor(stores.funds, led, led.VaultAddress(), logger)
	if cfg.Monitor.Enabled {
		if err := monitor.Start(cfg.Monitor.Schedule); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	api := httpapi.NewServer(httpapi.Deps{
		Escrow:       escrowSvc,
		Voting:       votingSvc,
		Distribution: engine,
		Journal:      stores.journal,
		Balances:     led,
		Monitor:      monitor,
	}, httpapi.Options{
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, logger)

	// Request contexts derive from reqCtx so shutdown can stop running
	// distributions between transfers.
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	timeout := shutdownTimeout(engine.DrainTimeout())

	// Wait for second signal for immediate shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warnf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(timeout + 5*time.Second):
			logger.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	// After the grace period running distributions are canceled: they
	// start no further transfer, and a transfer cut short in flight is
	// recorded as pending and settled on the next run. Shutdown returns
	// once they have recorded their outcome.
	grace := time.AfterFunc(requestGrace, cancelRequests)
	defer grace.Stop()
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
