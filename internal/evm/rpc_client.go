// Package evm implements the ledger client for EVM JSON-RPC nodes that hold
// the vault account unlocked (eth_sendTransaction).
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"edufund/internal/jsonrpc"
)

// Receipt is the subset of eth_getTransactionReceipt the ledger needs.
type Receipt struct {
	TransactionHash string
	BlockNumber     uint64
	Success         bool
}

// RPCClient defines the EVM JSON-RPC methods used for payouts.
type RPCClient interface {
	SendTransaction(ctx context.Context, from, to string, wei *big.Int) (string, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// HTTPClient implements RPCClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	rpc *jsonrpc.Client
}

// NewHTTPClient creates a new EVM RPC client.
func NewHTTPClient(endpoint string, opts ...jsonrpc.Option) *HTTPClient {
	return &HTTPClient{rpc: jsonrpc.NewClient(endpoint, opts...)}
}

// SendTransaction asks the node to sign and broadcast a value transfer
// from an unlocked account. Returns the transaction hash.
func (c *HTTPClient) SendTransaction(ctx context.Context, from, to string, wei *big.Int) (string, error) {
	params := []any{
		map[string]string{
			"from":  from,
			"to":    to,
			"value": EncodeQuantity(wei),
		},
	}

	var hash string
	if err := c.rpc.Call(ctx, "eth_sendTransaction", params, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GetTransactionReceipt returns nil while the transaction is pending.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var result *receiptResult
	if err := c.rpc.Call(ctx, "eth_getTransactionReceipt", []any{hash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	block, err := DecodeQuantity(result.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("receipt block number: %w", err)
	}
	return &Receipt{
		TransactionHash: result.TransactionHash,
		BlockNumber:     block.Uint64(),
		Success:         result.Status == "0x1",
	}, nil
}

type receiptResult struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

// GetBalance returns the latest balance in wei.
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var result string
	if err := c.rpc.Call(ctx, "eth_getBalance", []any{address, "latest"}, &result); err != nil {
		return nil, err
	}
	return DecodeQuantity(result)
}

// EncodeQuantity renders a JSON-RPC hex quantity without leading zeros.
func EncodeQuantity(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// DecodeQuantity parses a JSON-RPC hex quantity.
func DecodeQuantity(s string) (*big.Int, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("quantity %q: missing 0x prefix", s)
	}
	digits := s[2:]
	if digits == "" {
		return nil, fmt.Errorf("quantity %q: no digits", s)
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("quantity %q: invalid hex", s)
	}
	return v, nil
}

var _ RPCClient = (*HTTPClient)(nil)
