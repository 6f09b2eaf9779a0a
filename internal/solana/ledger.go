package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"edufund/internal/jsonrpc"
	"edufund/internal/ledger"
)

// Ledger pays native SOL out of a vault keypair.
type Ledger struct {
	rpc        RPCClient
	confirmer  Confirmer
	key        ed25519.PrivateKey
	vault      string
	commitment Commitment
	log        logrus.FieldLogger

	confirmTimeout    time.Duration
	blockhashLifetime time.Duration
}

// DefaultBlockhashLifetime bounds how long a signed transaction can land:
// its blockhash expires after 150 blocks, about a minute.
const DefaultBlockhashLifetime = 2 * time.Minute

// LedgerOption configures Ledger.
type LedgerOption func(*Ledger)

// WithConfirmTimeout bounds the wait for confirmation of one transaction.
// The caller context still applies.
func WithConfirmTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.confirmTimeout = d
	}
}

// WithBlockhashLifetime overrides DefaultBlockhashLifetime.
func WithBlockhashLifetime(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.blockhashLifetime = d
		}
	}
}

// NewLedger creates a Solana ledger client signing with key.
func NewLedger(rpc RPCClient, confirmer Confirmer, key ed25519.PrivateKey, commitment Commitment, log logrus.FieldLogger, opts ...LedgerOption) *Ledger {
	if confirmer == nil {
		confirmer = NewPollConfirmer(rpc, DefaultPollInterval)
	}
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	l := &Ledger{
		rpc:        rpc,
		confirmer:  confirmer,
		key:        key,
		vault:      PublicKeyOf(key),
		commitment: commitment,
		log:        log.WithField("ledger", "solana"),

		blockhashLifetime: DefaultBlockhashLifetime,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// VaultAddress returns the vault public key.
func (l *Ledger) VaultAddress() string {
	return l.vault
}

// Transfer signs and submits a System Program transfer from the vault and
// waits for confirmation. The returned reference is the transaction
// signature; it is also returned with ErrNotConfirmed when the outcome is
// unknown.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	if from != l.vault {
		return "", fmt.Errorf("solana ledger: cannot sign for %s", from)
	}
	to, err := NormalizeAddress(to)
	if err != nil {
		return "", err
	}
	if to == l.vault {
		return "", fmt.Errorf("%w: destination is the vault", ledger.ErrInvalidAddress)
	}

	units, err := ledger.ToBaseUnits(amount, Decimals)
	if err != nil {
		return "", err
	}
	if !units.BigInt().IsUint64() {
		return "", fmt.Errorf("%w: %s exceeds u64 lamports", ledger.ErrInvalidAmount, amount)
	}
	lamports := units.BigInt().Uint64()

	toKey, err := DecodePublicKey(to)
	if err != nil {
		return "", err
	}

	bh, err := l.rpc.GetLatestBlockhash(ctx, l.commitment)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	blockhash, err := base58.Decode(bh.Hash)
	if err != nil {
		return "", fmt.Errorf("decode blockhash: %w", err)
	}

	tx, err := SignTransfer(l.key, &TransferMessage{
		From:            l.key.Public().(ed25519.PublicKey),
		To:              toKey,
		RecentBlockhash: blockhash,
		Lamports:        lamports,
	})
	if err != nil {
		return "", err
	}

	start := time.Now()
	sig, err := l.rpc.SendTransaction(ctx, tx.Base64(), l.commitment)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("send transaction: %w", err)
		}
		// The node may have taken the transaction before the call failed.
		return tx.Signature, fmt.Errorf("send transaction %s: %w: %w", tx.Signature, ledger.ErrNotConfirmed, err)
	}
	if sig == "" {
		sig = tx.Signature
	}

	log := l.log.WithFields(logrus.Fields{
		"to":        to,
		"lamports":  lamports,
		"signature": sig,
	})
	log.Debug("transaction submitted")

	cctx := ctx
	if l.confirmTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.confirmTimeout)
		defer cancel()
	}
	if err := l.confirmer.Confirm(cctx, sig, l.commitment); err != nil {
		if errors.Is(err, ledger.ErrTransactionFailed) {
			log.WithError(err).Warn("transaction failed")
			return "", fmt.Errorf("transaction %s: %w", sig, err)
		}
		log.WithError(err).Warn("transaction not confirmed")
		if !errors.Is(err, ledger.ErrNotConfirmed) {
			err = fmt.Errorf("%w: %w", ledger.ErrNotConfirmed, err)
		}
		return sig, fmt.Errorf("transaction %s: %w", sig, err)
	}

	log.WithField("elapsed", time.Since(start)).Info("transfer confirmed")
	return sig, nil
}

// TransferStatus looks up a signature returned with ErrNotConfirmed. A
// signature the cluster has never seen is dropped once its blockhash must
// have expired.
func (l *Ledger) TransferStatus(ctx context.Context, signature string, submittedAt time.Time) (ledger.TransferState, error) {
	statuses, err := l.rpc.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		return ledger.TransferUnknown, fmt.Errorf("get signature status: %w", err)
	}
	if len(statuses) == 0 || statuses[0] == nil {
		if time.Since(submittedAt) > l.blockhashLifetime {
			return ledger.TransferDropped, nil
		}
		return ledger.TransferUnknown, nil
	}

	st := statuses[0]
	if st.Err != nil {
		return ledger.TransferDropped, nil
	}
	level := st.ConfirmationStatus
	if level == "" && st.Confirmations == nil {
		level = CommitmentFinalized
	}
	if level.Reaches(l.commitment) {
		return ledger.TransferLanded, nil
	}
	return ledger.TransferUnknown, nil
}

// Balance returns the SOL balance of address.
func (l *Ledger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	lamports, err := l.rpc.GetBalance(ctx, addr, l.commitment)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return ledger.FromBaseUnits(decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0), Decimals), nil
}

// NormalizeAddress validates a Solana wallet address.
func (l *Ledger) NormalizeAddress(addr string) (string, error) {
	return NormalizeAddress(addr)
}

var (
	_ ledger.Client           = (*Ledger)(nil)
	_ ledger.BalanceReader    = (*Ledger)(nil)
	_ ledger.AddressValidator = (*Ledger)(nil)
	_ ledger.StatusChecker    = (*Ledger)(nil)
)
