package solana

import (
	"context"
	"fmt"
	"time"

	"edufund/internal/ledger"
)

// Confirmer waits until a submitted signature reaches a commitment level.
type Confirmer interface {
	Confirm(ctx context.Context, signature string, commitment Commitment) error
}

// DefaultPollInterval is the default getSignatureStatuses polling period.
const DefaultPollInterval = 500 * time.Millisecond

// PollConfirmer confirms by polling getSignatureStatuses.
type PollConfirmer struct {
	rpc      RPCClient
	interval time.Duration
}

// NewPollConfirmer creates a polling confirmer.
func NewPollConfirmer(rpc RPCClient, interval time.Duration) *PollConfirmer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollConfirmer{rpc: rpc, interval: interval}
}

// Confirm polls until the signature reaches commitment, fails on chain,
// or ctx ends.
func (p *PollConfirmer) Confirm(ctx context.Context, signature string, commitment Commitment) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := checkStatus(ctx, p.rpc, signature, commitment)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ledger.ErrNotConfirmed, signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

// checkStatus reports whether signature is final for our purposes. A
// transport error is not final; polling continues.
func checkStatus(ctx context.Context, rpc RPCClient, signature string, commitment Commitment) (bool, error) {
	statuses, err := rpc.GetSignatureStatuses(ctx, []string{signature})
	if err != nil || len(statuses) == 0 || statuses[0] == nil {
		return false, nil
	}
	st := statuses[0]
	if st.Err != nil {
		return true, fmt.Errorf("%w: %s: %v", ledger.ErrTransactionFailed, signature, st.Err)
	}
	level := st.ConfirmationStatus
	if level == "" && st.Confirmations == nil {
		// Rooted transactions report no confirmation count.
		level = CommitmentFinalized
	}
	return level.Reaches(commitment), nil
}

// WSConfirmer confirms through signatureSubscribe, with one status poll
// after subscribing to cover signatures that confirmed before the
// subscription existed.
type WSConfirmer struct {
	ws  WSClient
	rpc RPCClient
}

// NewWSConfirmer creates a WebSocket confirmer.
func NewWSConfirmer(ws WSClient, rpc RPCClient) *WSConfirmer {
	return &WSConfirmer{ws: ws, rpc: rpc}
}

// Confirm waits for the signature notification or ctx end.
func (w *WSConfirmer) Confirm(ctx context.Context, signature string, commitment Commitment) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := w.ws.SubscribeSignature(subCtx, signature, commitment)
	if err != nil {
		return fmt.Errorf("subscribe signature: %w", err)
	}

	if w.rpc != nil {
		if done, err := checkStatus(ctx, w.rpc, signature, commitment); done || err != nil {
			return err
		}
	}

	select {
	case notif, ok := <-ch:
		if !ok {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %w", ledger.ErrNotConfirmed, signature, ctx.Err())
			}
			return fmt.Errorf("%w: %s: subscription closed", ledger.ErrNotConfirmed, signature)
		}
		if notif.Err != nil {
			return fmt.Errorf("%w: %s: %v", ledger.ErrTransactionFailed, signature, notif.Err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ledger.ErrNotConfirmed, signature, ctx.Err())
	}
}

var (
	_ Confirmer = (*PollConfirmer)(nil)
	_ Confirmer = (*WSConfirmer)(nil)
)
