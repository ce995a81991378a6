package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// RegistrationGuard answers whether a wallet already owns a user_info account,
// so that transaction building prepends register_user at most once.
type RegistrationGuard struct {
	log     *slog.Logger
	rpc     RPCClient
	program Program
}

func NewRegistrationGuard(log *slog.Logger, rpc RPCClient, program Program) *RegistrationGuard {
	return &RegistrationGuard{log: log, rpc: rpc, program: program}
}

// IsRegistered reports whether the wallet's user_info PDA exists and is owned
// by the staking program. An account at the right address with a different
// owner (for example one only holding rent-exempt lamports) does not count.
//
// On RPC failure the error is surfaced rather than guessed around:
// register_user is init-constrained on-chain, so assuming "not registered"
// would produce a transaction the program rejects, and assuming "registered"
// would silently skip a required instruction.
func (g *RegistrationGuard) IsRegistered(ctx context.Context, wallet solana.PublicKey) (bool, error) {
	pda, _, err := g.program.DeriveUserInfoAddress(wallet)
	if err != nil {
		return false, fmt.Errorf("failed to derive user_info PDA: %w", err)
	}

	var res *solanarpc.GetAccountInfoResult
	err = withRetry(ctx, "getAccountInfo", func(ctx context.Context) error {
		var err error
		res, err = g.rpc.GetAccountInfo(ctx, pda)
		return err
	})
	if errors.Is(err, solanarpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to look up user_info account: %v", ErrNetworkUnavailable, err)
	}
	if res == nil || res.Value == nil {
		return false, nil
	}
	if !res.Value.Owner.Equals(g.program.ID) {
		g.log.Debug("user_info address exists but is not program-owned",
			"wallet", wallet, "address", pda, "owner", res.Value.Owner)
		return false, nil
	}
	return true, nil
}
