package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Sender submits fully signed transactions and waits for them to land. It is
// used for service-signed flows (reward pool top-ups); wallet-signed staking
// transactions are handed to the wallet for submission instead.
type Sender struct {
	log                   *slog.Logger
	rpc                   RPCClient
	waitForVisibleTimeout time.Duration
}

type SenderOption func(*Sender)

func WithWaitForVisibleTimeout(timeout time.Duration) SenderOption {
	return func(s *Sender) {
		s.waitForVisibleTimeout = timeout
	}
}

func NewSender(log *slog.Logger, rpc RPCClient, opts ...SenderOption) *Sender {
	s := &Sender{
		log:                   log,
		rpc:                   rpc,
		waitForVisibleTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send submits the transaction and waits until the cluster has seen it and
// finalized it.
func (s *Sender) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to send transaction: %v", ErrNetworkUnavailable, err)
	}

	if err := s.waitForSignatureVisible(ctx, sig); err != nil {
		return solana.Signature{}, fmt.Errorf("transaction dropped or rejected before cluster saw it: %w", err)
	}
	if err := s.waitForFinalized(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

func (s *Sender) waitForSignatureVisible(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(s.waitForVisibleTimeout)
	for time.Now().Before(deadline) {
		resp, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if len(resp.Value) > 0 && resp.Value[0] != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return errors.New("signature not found after wait")
}

func (s *Sender) waitForFinalized(ctx context.Context, sig solana.Signature) error {
	s.log.Debug("waiting for transaction to be finalized", "sig", sig)
	start := time.Now()
	for {
		resp, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if len(resp.Value) == 0 {
			return errors.New("transaction not found")
		}
		status := resp.Value[0]
		if status != nil {
			// A status can carry an on-chain error at any confirmation
			// level; finalizing a failed transaction is not a success.
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			if status.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
				s.log.Debug("transaction finalized", "sig", sig, "duration", time.Since(start))
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
}
