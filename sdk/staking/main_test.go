package staking_test

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/lmittmann/tint"
)

var (
	log *slog.Logger
)

// TestMain sets up the test environment with a global logger.
func TestMain(m *testing.M) {
	flag.Parse()
	verbose := false
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		verbose = true
	}
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))

	os.Exit(m.Run())
}

type mockRPCClient struct {
	staking.RPCClient

	GetAccountInfoFunc          func(context.Context, solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	GetLatestBlockhashFunc      func(context.Context, solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOptsFunc func(context.Context, *solana.Transaction, solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatusesFunc    func(context.Context, bool, ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	return m.GetAccountInfoFunc(ctx, account)
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, ct solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	return m.GetLatestBlockhashFunc(ctx, ct)
}

func (m *mockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	return m.SendTransactionWithOptsFunc(ctx, tx, opts)
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	return m.GetSignatureStatusesFunc(ctx, search, sigs...)
}

func testProgram() staking.Program {
	return staking.Program{
		ID:        solana.MustPublicKeyFromBase58(staking.ProgramIDMainnet),
		TokenMint: solana.MustPublicKeyFromBase58(staking.TokenMintMainnet),
		Decimals:  staking.TokenDecimals,
	}
}

// accountInfoResult builds a GetAccountInfo result owned by owner with raw
// binary data.
func accountInfoResult(owner solana.PublicKey, data []byte) *solanarpc.GetAccountInfoResult {
	return &solanarpc.GetAccountInfoResult{
		RPCContext: solanarpc.RPCContext{},
		Value: &solanarpc.Account{
			Owner: owner,
			Data:  solanarpc.DataBytesOrJSONFromBytes(data),
		},
	}
}

func blockhashResult() *solanarpc.GetLatestBlockhashResult {
	return &solanarpc.GetLatestBlockhashResult{
		Value: &solanarpc.LatestBlockhashResult{
			Blockhash:            solana.MustHashFromBase58("5NzX7jrPWeTkGsDnVnszdEa7T3Yyr3nSgyc78z3CwjWQ"),
			LastValidBlockHeight: 100,
		},
	}
}
