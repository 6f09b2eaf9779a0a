package solana

import "context"

// RPCClient defines the Solana RPC HTTP methods needed to pay out of the
// vault.
type RPCClient interface {
	// GetLatestBlockhash returns a blockhash to anchor a new transaction.
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error)

	// SendTransaction submits a base64 encoded signed transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, encoded string, commitment Commitment) (string, error)

	// GetSignatureStatuses returns one entry per signature; nil entries are
	// unknown to the node.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetBalance returns the balance of pubkey in lamports.
	GetBalance(ctx context.Context, pubkey string, commitment Commitment) (uint64, error)
}
