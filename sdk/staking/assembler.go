package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrNoInstructions is returned when Assemble is called with an empty
	// instruction list.
	ErrNoInstructions = errors.New("at least one instruction is required")
	// ErrMissingSignatures is returned when Serialize is asked for a fully
	// signed payload but signatures are missing.
	ErrMissingSignatures = errors.New("transaction is missing required signatures")
)

// Assembler turns instructions into signable transactions. It fetches the
// recent blockhash immediately before building, because the blockhash expires
// within a couple of minutes; callers must submit or rebuild promptly.
type Assembler struct {
	log *slog.Logger
	rpc RPCClient
}

func NewAssembler(log *slog.Logger, rpc RPCClient) *Assembler {
	return &Assembler{log: log, rpc: rpc}
}

// Assemble orders the instructions into a transaction with feePayer as the
// first signer and a freshly fetched blockhash. It does not sign or submit.
func (a *Assembler) Assemble(ctx context.Context, instructions []solana.Instruction, feePayer solana.PublicKey) (*solana.Transaction, error) {
	if len(instructions) == 0 {
		return nil, ErrNoInstructions
	}
	if feePayer.IsZero() {
		return nil, fmt.Errorf("%w: fee payer is required", ErrInvalidAddress)
	}

	var blockhash *solanarpc.GetLatestBlockhashResult
	err := withRetry(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		var err error
		blockhash, err = a.rpc.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get latest blockhash: %v", ErrNetworkUnavailable, err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// PartialSign attaches signatures for whichever required signers are present
// in keys, leaving the remaining signature slots empty for another party
// (typically the wallet owner) to complete.
func PartialSign(tx *solana.Transaction, keys ...solana.PrivateKey) error {
	byPub := make(map[solana.PublicKey]*solana.PrivateKey, len(keys))
	for i := range keys {
		byPub[keys[i].PublicKey()] = &keys[i]
	}
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		return byPub[key]
	})
	if err != nil {
		return fmt.Errorf("failed to partially sign transaction: %w", err)
	}
	return nil
}

// Serialize returns the wire bytes of the transaction. When
// requireAllSignatures is set every required signature slot must be filled;
// otherwise a partially signed payload is produced for second-party signing.
func Serialize(tx *solana.Transaction, requireAllSignatures bool) ([]byte, error) {
	if requireAllSignatures {
		required := int(tx.Message.Header.NumRequiredSignatures)
		if len(tx.Signatures) < required {
			return nil, fmt.Errorf("%w: have %d of %d", ErrMissingSignatures, len(tx.Signatures), required)
		}
		for i, sig := range tx.Signatures[:required] {
			if sig.IsZero() {
				return nil, fmt.Errorf("%w: signature %d is empty", ErrMissingSignatures, i)
			}
		}
	}
	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return out, nil
}
