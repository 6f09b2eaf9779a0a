package main

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"edufund/internal/distribution"
	"edufund/internal/ledger/stub"
	"edufund/internal/storage/memory"
)

func TestShutdownTimeoutCoversDistributionDrain(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := distribution.DefaultConfig()
	engine := distribution.NewEngine(memory.NewFundStore(), stub.NewLedger("vault", decimal.Zero), cfg, log)

	timeout := shutdownTimeout(engine.DrainTimeout())
	assert.Greater(t, timeout, requestGrace+engine.DrainTimeout())
	assert.Greater(t, engine.DrainTimeout(), time.Duration(0))
}
