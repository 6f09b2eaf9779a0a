package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePayoutEventID computes a deterministic payout event id using SHA256.
// Formula: SHA256(fund_id|attempt|rank|applicant_id)
// Returns hex-encoded hash (64 characters). Appending the same attempt
// twice yields the same id, which the journals use to deduplicate.
func ComputePayoutEventID(
	fundID string,
	attempt int,
	rank int,
	applicantID int,
) string {
	data := fmt.Sprintf("%s|%d|%d|%d",
		fundID,
		attempt,
		rank,
		applicantID,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
