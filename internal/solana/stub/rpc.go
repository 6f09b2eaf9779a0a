package stub

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"edufund/internal/solana"
)

// ErrNotFound is returned for unknown accounts.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing. Every submitted
// transaction is recorded and, unless scripted otherwise, reported as
// confirmed at ConfirmAs.
type RPCClient struct {
	mu sync.Mutex

	Blockhash string
	Balances  map[string]uint64
	// SendErr is returned by SendTransaction when set.
	SendErr error
	// Statuses overrides the status reported for a signature.
	Statuses map[string]*solana.SignatureStatus
	// ConfirmAs is the status given to submitted transactions without an
	// override. Empty leaves them unknown.
	ConfirmAs solana.Commitment
	// TxErr, when set, is reported as the on-chain error of submitted
	// transactions.
	TxErr interface{}

	sent [][]byte
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient(blockhash string) *RPCClient {
	return &RPCClient{
		Blockhash: blockhash,
		Balances:  make(map[string]uint64),
		Statuses:  make(map[string]*solana.SignatureStatus),
		ConfirmAs: solana.CommitmentConfirmed,
	}
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context, _ solana.Commitment) (*solana.Blockhash, error) {
	return &solana.Blockhash{Hash: c.Blockhash, LastValidBlockHeight: 1000}, nil
}

// SendTransaction records the transaction and returns its signature.
func (c *RPCClient) SendTransaction(_ context.Context, encoded string, _ solana.Commitment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return "", c.SendErr
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	sig, err := solana.SignatureOf(raw)
	if err != nil {
		return "", err
	}
	c.sent = append(c.sent, raw)
	if _, ok := c.Statuses[sig]; !ok && c.ConfirmAs != "" {
		c.Statuses[sig] = &solana.SignatureStatus{Slot: 1, ConfirmationStatus: c.ConfirmAs, Err: c.TxErr}
	}
	return sig, nil
}

// GetSignatureStatuses returns recorded statuses.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if st, ok := c.Statuses[sig]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

// GetBalance returns the stored balance.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string, _ solana.Commitment) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bal, ok := c.Balances[pubkey]
	if !ok {
		return 0, ErrNotFound
	}
	return bal, nil
}

// SetStatus scripts the status of a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// Sent returns the raw submitted transactions in order.
func (c *RPCClient) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

var _ solana.RPCClient = (*RPCClient)(nil)
