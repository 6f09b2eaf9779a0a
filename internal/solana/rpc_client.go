package solana

import (
	"context"

	"edufund/internal/jsonrpc"
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	rpc *jsonrpc.Client
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...jsonrpc.Option) *HTTPClient {
	return &HTTPClient{rpc: jsonrpc.NewClient(endpoint, opts...)}
}

// GetLatestBlockhash retrieves the most recent blockhash.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error) {
	params := []any{
		map[string]any{"commitment": commitment},
	}

	var result getLatestBlockhashResult
	if err := c.rpc.Call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return nil, err
	}

	return &Blockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

type getLatestBlockhashResult struct {
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// SendTransaction submits a signed transaction.
func (c *HTTPClient) SendTransaction(ctx context.Context, encoded string, commitment Commitment) (string, error) {
	params := []any{
		encoded,
		map[string]any{
			"encoding":            "base64",
			"preflightCommitment": commitment,
		},
	}

	var signature string
	if err := c.rpc.Call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetSignatureStatuses retrieves the status of each signature.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	params := []any{
		signatures,
		map[string]any{"searchTransactionHistory": true},
	}

	var result getSignatureStatusesResult
	if err := c.rpc.Call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	statuses := make([]*SignatureStatus, len(result.Value))
	for i, v := range result.Value {
		if v == nil {
			continue
		}
		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			Err:                v.Err,
			ConfirmationStatus: Commitment(v.ConfirmationStatus),
		}
	}
	return statuses, nil
}

type getSignatureStatusesResult struct {
	Value []*signatureStatusValue `json:"value"`
}

type signatureStatusValue struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// GetBalance retrieves the lamport balance of pubkey.
func (c *HTTPClient) GetBalance(ctx context.Context, pubkey string, commitment Commitment) (uint64, error) {
	params := []any{
		pubkey,
		map[string]any{"commitment": commitment},
	}

	var result getBalanceResult
	if err := c.rpc.Call(ctx, "getBalance", params, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

type getBalanceResult struct {
	Value uint64 `json:"value"`
}

var _ RPCClient = (*HTTPClient)(nil)
