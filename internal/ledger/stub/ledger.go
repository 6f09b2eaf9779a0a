package stub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"edufund/internal/ledger"
)

// ErrInsufficientFunds is returned when the sender balance is too low.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Transfer records one accepted transfer.
type Transfer struct {
	From   string
	To     string
	Amount decimal.Decimal
	TxRef  string
}

// Ledger implements the ledger interfaces in memory for tests and local
// runs.
type Ledger struct {
	mu       sync.Mutex
	vault    string
	balances map[string]decimal.Decimal
	calls    int
	accepted []Transfer

	// FailWallets makes every transfer to the wallet fail with the error.
	FailWallets map[string]error
	// FailOnCall makes the n-th Transfer call (1-based) fail with the error.
	FailOnCall map[int]error
	// UnconfirmedOnCall makes the n-th Transfer call move the funds but
	// report ledger.ErrNotConfirmed along with its reference.
	UnconfirmedOnCall map[int]bool
	// DropOnCall makes the n-th Transfer call return a reference with
	// ledger.ErrNotConfirmed without moving anything.
	DropOnCall map[int]bool
	// Statuses overrides what TransferStatus reports for a reference.
	Statuses map[string]ledger.TransferState
	// Delay is applied before each transfer and honors ctx cancellation.
	Delay time.Duration
	// EnforceBalance rejects transfers exceeding the sender balance.
	EnforceBalance bool
}

// NewLedger creates a stub ledger whose vault holds balance.
func NewLedger(vault string, balance decimal.Decimal) *Ledger {
	return &Ledger{
		vault:       vault,
		balances:    map[string]decimal.Decimal{vault: balance},
		FailWallets: make(map[string]error),
		FailOnCall:  make(map[int]error),

		UnconfirmedOnCall: make(map[int]bool),
		DropOnCall:        make(map[int]bool),
		Statuses:          make(map[string]ledger.TransferState),
	}
}

// VaultAddress returns the vault account.
func (l *Ledger) VaultAddress() string {
	return l.vault
}

// Transfer moves amount between accounts unless a failure is scripted.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	l.mu.Lock()
	l.calls++
	call := l.calls
	delay := l.Delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", ledger.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.FailOnCall[call]; ok {
		return "", err
	}
	if l.DropOnCall[call] {
		ref := fmt.Sprintf("stubtx-%d", call)
		return ref, fmt.Errorf("transaction %s: %w", ref, ledger.ErrNotConfirmed)
	}
	if err, ok := l.FailWallets[to]; ok {
		return "", err
	}
	if l.EnforceBalance && l.balances[from].LessThan(amount) {
		return "", ErrInsufficientFunds
	}

	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)

	ref := fmt.Sprintf("stubtx-%d", call)
	l.accepted = append(l.accepted, Transfer{From: from, To: to, Amount: amount, TxRef: ref})
	if l.UnconfirmedOnCall[call] {
		return ref, fmt.Errorf("transaction %s: %w", ref, ledger.ErrNotConfirmed)
	}
	return ref, nil
}

// TransferStatus reports accepted references as landed and anything else
// as dropped, unless Statuses says otherwise.
func (l *Ledger) TransferStatus(_ context.Context, ref string, _ time.Time) (ledger.TransferState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.Statuses[ref]; ok {
		return st, nil
	}
	for _, t := range l.accepted {
		if t.TxRef == ref {
			return ledger.TransferLanded, nil
		}
	}
	return ledger.TransferDropped, nil
}

// Balance returns the balance of address.
func (l *Ledger) Balance(_ context.Context, address string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address], nil
}

// NormalizeAddress trims whitespace and rejects empty identifiers.
func (l *Ledger) NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ledger.ErrInvalidAddress
	}
	return addr, nil
}

// Transfers returns the accepted transfers in order.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.accepted...)
}

// Calls returns the number of Transfer invocations, failed ones included.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var (
	_ ledger.Client           = (*Ledger)(nil)
	_ ledger.BalanceReader    = (*Ledger)(nil)
	_ ledger.AddressValidator = (*Ledger)(nil)
	_ ledger.StatusChecker    = (*Ledger)(nil)
)
