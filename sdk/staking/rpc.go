package staking

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/hatmlabs/staking-gateway/internal/metrics"
)

// RPCClient is the subset of the Solana RPC surface this SDK consumes.
// *rpc.Client satisfies it.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

const (
	rpcCallTimeout = 10 * time.Second
	rpcMaxRetries  = 3
)

// withRetry runs op with a bounded per-attempt timeout and a small number of
// exponential-backoff retries. Not-found is permanent and returned as is;
// everything else is treated as transient. Every attempt is counted per
// method and outcome.
func withRetry(ctx context.Context, method string, op func(ctx context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		err := op(callCtx)
		if err == nil {
			metrics.RPCRequestsTotal.WithLabelValues(method, "ok").Inc()
			return nil
		}
		metrics.RPCRequestsTotal.WithLabelValues(method, "error").Inc()
		if errors.Is(err, solanarpc.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), rpcMaxRetries), ctx)
	return backoff.Retry(attempt, bo)
}
