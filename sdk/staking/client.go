package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrAccountNotFound is returned when a program account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotRegistered is returned when an operation requires a registered wallet.
	ErrNotRegistered = errors.New("wallet is not registered")
	// ErrAlreadyRegistered is returned when registering a wallet that already has a user_info account.
	ErrAlreadyRegistered = errors.New("wallet is already registered")
	// ErrInvalidReferrer is returned when the given referrer is not itself registered.
	ErrInvalidReferrer = errors.New("invalid referrer")
	// ErrInsufficientStake is returned when unstaking more than the staked balance.
	ErrInsufficientStake = errors.New("insufficient staked balance")
	// ErrNetworkUnavailable wraps transport failures after retries are exhausted.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// Client is the high-level entry point for building staking transactions and
// reading program state.
type Client struct {
	log       *slog.Logger
	rpc       RPCClient
	program   Program
	guard     *RegistrationGuard
	assembler *Assembler

	// feePayer, when set, covers fees and partially signs built transactions
	// before they are handed to the wallet.
	feePayer *solana.PrivateKey

	vaultMu    sync.Mutex
	vaultState *Vault
}

type ClientConfig struct {
	Logger   *slog.Logger
	RPC      RPCClient
	Program  Program
	FeePayer *solana.PrivateKey
}

func (c *ClientConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.RPC == nil {
		return errors.New("rpc client is required")
	}
	return c.Program.Validate()
}

func NewClient(cfg *ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:       cfg.Logger,
		rpc:       cfg.RPC,
		program:   cfg.Program,
		guard:     NewRegistrationGuard(cfg.Logger, cfg.RPC, cfg.Program),
		assembler: NewAssembler(cfg.Logger, cfg.RPC),
		feePayer:  cfg.FeePayer,
	}, nil
}

func (c *Client) Program() Program {
	return c.program
}

func (c *Client) Guard() *RegistrationGuard {
	return c.guard
}

// BuiltTransaction is a serialized, possibly partially signed transaction
// ready to be handed to the wallet for final signing and submission.
type BuiltTransaction struct {
	Transaction *solana.Transaction
	Serialized  []byte
	// RegisterIncluded reports whether a register_user instruction was
	// prepended because the wallet had no user_info account yet.
	RegisterIncluded bool
}

// BuildStakeTransaction builds a stake transaction for the wallet. If the
// wallet is not yet registered a register_user instruction is prepended
// exactly once; a referrer may only be supplied on that first registration
// and must itself be registered.
func (c *Client) BuildStakeTransaction(ctx context.Context, wallet solana.PublicKey, amount uint64, referrer *solana.PublicKey) (*BuiltTransaction, error) {
	registered, err := c.guard.IsRegistered(ctx, wallet)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if !registered {
		if referrer != nil {
			refRegistered, err := c.guard.IsRegistered(ctx, *referrer)
			if err != nil {
				return nil, err
			}
			if !refRegistered {
				return nil, fmt.Errorf("%w: referrer %s is not registered", ErrInvalidReferrer, referrer)
			}
		}
		registerIx, err := c.program.BuildRegisterUserInstruction(RegisterUserInstructionConfig{
			Owner:    wallet,
			Referrer: referrer,
		})
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, registerIx)
	}

	vaultTokenAccount, err := c.resolveVaultTokenAccount(ctx)
	if err != nil {
		return nil, err
	}
	ownerTokenAccount, _, err := solana.FindAssociatedTokenAddress(wallet, c.program.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive owner token account: %w", err)
	}

	stakeIx, err := c.program.BuildStakeInstruction(StakeInstructionConfig{
		Owner:             wallet,
		OwnerTokenAccount: ownerTokenAccount,
		VaultTokenAccount: vaultTokenAccount,
		Amount:            amount,
	})
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, stakeIx)

	built, err := c.assembleAndSign(ctx, instructions, wallet)
	if err != nil {
		return nil, err
	}
	built.RegisterIncluded = !registered
	return built, nil
}

// BuildUnstakeTransaction builds an unstake transaction. The wallet must be
// registered and have at least amount staked on-chain.
func (c *Client) BuildUnstakeTransaction(ctx context.Context, wallet solana.PublicKey, amount uint64) (*BuiltTransaction, error) {
	info, err := c.GetUserInfo(ctx, wallet)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, wallet)
	}
	if err != nil {
		return nil, err
	}
	if info.StakedAmount < amount {
		return nil, fmt.Errorf("%w: staked %d, requested %d", ErrInsufficientStake, info.StakedAmount, amount)
	}

	vaultTokenAccount, err := c.resolveVaultTokenAccount(ctx)
	if err != nil {
		return nil, err
	}
	ownerTokenAccount, _, err := solana.FindAssociatedTokenAddress(wallet, c.program.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive owner token account: %w", err)
	}

	unstakeIx, err := c.program.BuildUnstakeInstruction(UnstakeInstructionConfig{
		Owner:             wallet,
		OwnerTokenAccount: ownerTokenAccount,
		VaultTokenAccount: vaultTokenAccount,
		Amount:            amount,
	})
	if err != nil {
		return nil, err
	}
	return c.assembleAndSign(ctx, []solana.Instruction{unstakeIx}, wallet)
}

// BuildClaimTransaction builds a claim_rewards transaction for a registered
// wallet.
func (c *Client) BuildClaimTransaction(ctx context.Context, wallet solana.PublicKey) (*BuiltTransaction, error) {
	registered, err := c.guard.IsRegistered(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, wallet)
	}

	vaultTokenAccount, err := c.resolveVaultTokenAccount(ctx)
	if err != nil {
		return nil, err
	}
	ownerTokenAccount, _, err := solana.FindAssociatedTokenAddress(wallet, c.program.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive owner token account: %w", err)
	}

	claimIx, err := c.program.BuildClaimRewardsInstruction(ClaimRewardsInstructionConfig{
		Owner:             wallet,
		OwnerTokenAccount: ownerTokenAccount,
		VaultTokenAccount: vaultTokenAccount,
	})
	if err != nil {
		return nil, err
	}
	return c.assembleAndSign(ctx, []solana.Instruction{claimIx}, wallet)
}

// BuildCompoundTransaction builds a compound_rewards transaction folding the
// wallet's accrued rewards into its staked amount.
func (c *Client) BuildCompoundTransaction(ctx context.Context, wallet solana.PublicKey) (*BuiltTransaction, error) {
	registered, err := c.guard.IsRegistered(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, wallet)
	}

	compoundIx, err := c.program.BuildCompoundRewardsInstruction(CompoundRewardsInstructionConfig{Owner: wallet})
	if err != nil {
		return nil, err
	}
	return c.assembleAndSign(ctx, []solana.Instruction{compoundIx}, wallet)
}

// GetUserInfo reads and decodes the wallet's user_info account.
func (c *Client) GetUserInfo(ctx context.Context, wallet solana.PublicKey) (*UserInfo, error) {
	pda, _, err := c.program.DeriveUserInfoAddress(wallet)
	if err != nil {
		return nil, err
	}
	data, err := c.getProgramAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	return DeserializeUserInfo(data)
}

// GetGlobalState reads and decodes the program's global_state account.
func (c *Client) GetGlobalState(ctx context.Context) (*GlobalState, error) {
	pda, _, err := c.program.DeriveGlobalStateAddress()
	if err != nil {
		return nil, err
	}
	data, err := c.getProgramAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	return DeserializeGlobalState(data)
}

// GetVault reads and decodes the vault config account.
func (c *Client) GetVault(ctx context.Context) (*Vault, error) {
	pda, _, err := c.program.DeriveVaultAddress()
	if err != nil {
		return nil, err
	}
	data, err := c.getProgramAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	return DeserializeVault(data)
}

func (c *Client) assembleAndSign(ctx context.Context, instructions []solana.Instruction, wallet solana.PublicKey) (*BuiltTransaction, error) {
	feePayer := wallet
	if c.feePayer != nil {
		feePayer = c.feePayer.PublicKey()
	}

	tx, err := c.assembler.Assemble(ctx, instructions, feePayer)
	if err != nil {
		return nil, err
	}
	if c.feePayer != nil {
		if err := PartialSign(tx, *c.feePayer); err != nil {
			return nil, err
		}
	}

	// The wallet owner signs last, so the payload leaves here partially signed.
	serialized, err := Serialize(tx, false)
	if err != nil {
		return nil, err
	}
	return &BuiltTransaction{Transaction: tx, Serialized: serialized}, nil
}

func (c *Client) resolveVaultTokenAccount(ctx context.Context) (solana.PublicKey, error) {
	c.vaultMu.Lock()
	defer c.vaultMu.Unlock()
	if c.vaultState != nil {
		return c.vaultState.TokenVault, nil
	}
	vault, err := c.GetVault(ctx)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to resolve vault token account: %w", err)
	}
	c.vaultState = vault
	return vault.TokenVault, nil
}

func (c *Client) getProgramAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	var res *solanarpc.GetAccountInfoResult
	err := withRetry(ctx, "getAccountInfo", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetAccountInfo(ctx, account)
		return err
	})
	if errors.Is(err, solanarpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get account %s: %v", ErrNetworkUnavailable, account, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	if !res.Value.Owner.Equals(c.program.ID) {
		return nil, fmt.Errorf("%w: account %s is owned by %s, not the staking program", ErrAccountNotFound, account, res.Value.Owner)
	}
	return res.Value.Data.GetBinary(), nil
}
