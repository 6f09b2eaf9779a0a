package evm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"edufund/internal/ledger"
)

// Decimals is the base-unit exponent for ether.
const Decimals = 18

// DefaultPollInterval is the receipt polling period.
const DefaultPollInterval = time.Second

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lowercases and validates a 0x-prefixed 20-byte address.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !addressPattern.MatchString(addr) {
		return "", ledger.ErrInvalidAddress
	}
	return addr, nil
}

// Ledger pays ether from an unlocked vault account.
type Ledger struct {
	rpc          RPCClient
	vault        string
	pollInterval time.Duration
	log          logrus.FieldLogger
}

// NewLedger creates an EVM ledger client. vault must be unlocked on the
// node behind rpc.
func NewLedger(rpc RPCClient, vault string, pollInterval time.Duration, log logrus.FieldLogger) (*Ledger, error) {
	v, err := NormalizeAddress(vault)
	if err != nil {
		return nil, fmt.Errorf("vault address: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Ledger{
		rpc:          rpc,
		vault:        v,
		pollInterval: pollInterval,
		log:          log.WithField("ledger", "evm"),
	}, nil
}

// VaultAddress returns the vault account.
func (l *Ledger) VaultAddress() string {
	return l.vault
}

// Transfer submits eth_sendTransaction and waits for a receipt with
// status 0x1. The reference is the transaction hash; it is also returned
// with ErrNotConfirmed when no receipt arrived in time.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	if !strings.EqualFold(from, l.vault) {
		return "", fmt.Errorf("evm ledger: cannot send from %s", from)
	}
	to, err := NormalizeAddress(to)
	if err != nil {
		return "", err
	}

	wei, err := ledger.ToBaseUnits(amount, Decimals)
	if err != nil {
		return "", err
	}

	hash, err := l.rpc.SendTransaction(ctx, l.vault, to, wei.BigInt())
	if err != nil {
		return "", fmt.Errorf("eth_sendTransaction: %w", err)
	}

	log := l.log.WithFields(logrus.Fields{"to": to, "wei": wei.String(), "tx_hash": hash})
	log.Debug("transaction submitted")

	if err := l.waitReceipt(ctx, hash); err != nil {
		log.WithError(err).Warn("transaction not confirmed")
		if errors.Is(err, ledger.ErrNotConfirmed) {
			return hash, err
		}
		return "", err
	}

	log.Info("transfer confirmed")
	return hash, nil
}

func (l *Ledger) waitReceipt(ctx context.Context, hash string) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.rpc.GetTransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if !receipt.Success {
				return fmt.Errorf("%w: %s reverted", ledger.ErrTransactionFailed, hash)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ledger.ErrNotConfirmed, hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TransferStatus looks up the receipt of a hash returned with
// ErrNotConfirmed. A transaction without a receipt may still be mined, so
// it stays unknown however old it is.
func (l *Ledger) TransferStatus(ctx context.Context, hash string, _ time.Time) (ledger.TransferState, error) {
	receipt, err := l.rpc.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return ledger.TransferUnknown, fmt.Errorf("eth_getTransactionReceipt: %w", err)
	}
	switch {
	case receipt == nil:
		return ledger.TransferUnknown, nil
	case receipt.Success:
		return ledger.TransferLanded, nil
	default:
		return ledger.TransferDropped, nil
	}
}

// Balance returns the ether balance of address.
func (l *Ledger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := l.rpc.GetBalance(ctx, addr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_getBalance: %w", err)
	}
	return ledger.FromBaseUnits(decimal.NewFromBigInt(wei, 0), Decimals), nil
}

// NormalizeAddress validates an EVM wallet address.
func (l *Ledger) NormalizeAddress(addr string) (string, error) {
	return NormalizeAddress(addr)
}

var (
	_ ledger.Client           = (*Ledger)(nil)
	_ ledger.BalanceReader    = (*Ledger)(nil)
	_ ledger.AddressValidator = (*Ledger)(nil)
	_ ledger.StatusChecker    = (*Ledger)(nil)
)
