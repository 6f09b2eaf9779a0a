// Package ledger defines the external value-transfer capability used to
// pay winners out of the vault.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Client moves native asset from the vault to a wallet.
type Client interface {
	// Transfer sends amount (in whole asset units) from the vault account
	// to the destination and returns the transaction reference once the
	// ledger accepted it. When a transaction was submitted but its outcome
	// is unknown, the reference is returned together with an error wrapping
	// ErrNotConfirmed; the transfer may still land.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error)

	// VaultAddress returns the account holding escrowed value.
	VaultAddress() string
}

// AddressValidator normalizes and validates wallet identifiers for a ledger.
type AddressValidator interface {
	NormalizeAddress(addr string) (string, error)
}

// BalanceReader reads account balances in whole asset units.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// TransferState is what a ledger knows about a submitted transaction.
type TransferState int

const (
	// TransferUnknown means the transaction may still land.
	TransferUnknown TransferState = iota
	// TransferLanded means the transaction executed successfully.
	TransferLanded
	// TransferDropped means the transaction failed or can no longer land.
	TransferDropped
)

func (s TransferState) String() string {
	switch s {
	case TransferLanded:
		return "landed"
	case TransferDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// StatusChecker looks up transactions whose Transfer returned a reference
// with ErrNotConfirmed. submittedAt is no earlier than the submission.
type StatusChecker interface {
	TransferStatus(ctx context.Context, ref string, submittedAt time.Time) (TransferState, error)
}

// Ledger errors.
var (
	// ErrInvalidAddress is returned for malformed wallet identifiers.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidAmount is returned for non-positive or sub-unit amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrTransactionFailed is returned when the ledger executed the
	// transaction but reported an error.
	ErrTransactionFailed = errors.New("transaction failed on ledger")

	// ErrNotConfirmed is returned when a submitted transaction did not
	// reach the requested confirmation level in time.
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

// ToBaseUnits converts whole units to the ledger's smallest unit
// (decimals=9 for lamports, 18 for wei). Fractions below one base unit
// are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	units := amount.Shift(decimals).Truncate(0)
	if !units.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return units, nil
}

// FromBaseUnits converts a base-unit integer to whole units.
func FromBaseUnits(units decimal.Decimal, decimals int32) decimal.Decimal {
	return units.Shift(-decimals)
}
