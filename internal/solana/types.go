package solana

import "fmt"

// Commitment is the cluster confirmation level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment validates a commitment name. Empty means confirmed.
func ParseCommitment(s string) (Commitment, error) {
	switch Commitment(s) {
	case "":
		return CommitmentConfirmed, nil
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return Commitment(s), nil
	default:
		return "", fmt.Errorf("unknown commitment %q", s)
	}
}

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches reports whether status c satisfies the target commitment.
func (c Commitment) Reaches(target Commitment) bool {
	return c.rank() >= target.rank() && c.rank() > 0
}

// Blockhash from getLatestBlockhash.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64 // nil once rooted
	Err                interface{}
	ConfirmationStatus Commitment
}
