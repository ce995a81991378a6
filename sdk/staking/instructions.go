package staking

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// RegisterUserInstructionConfig holds the inputs for a register_user
// instruction. Referrer is optional; when set it changes both the serialized
// data (presence flag + key) and the account list (the referrer's user_info
// PDA is appended writable).
type RegisterUserInstructionConfig struct {
	Owner    solana.PublicKey
	Referrer *solana.PublicKey
}

func (c *RegisterUserInstructionConfig) Validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner is required", ErrInvalidAddress)
	}
	if c.Referrer != nil {
		if c.Referrer.IsZero() {
			return fmt.Errorf("%w: referrer must not be the zero address", ErrInvalidAddress)
		}
		if c.Referrer.Equals(c.Owner) {
			return fmt.Errorf("%w: referrer must not be the owner", ErrInvalidAddress)
		}
	}
	return nil
}

// BuildRegisterUserInstruction builds the instruction creating the wallet's
// user_info account. The account is an init-constrained PDA on-chain, so
// sending this twice for the same wallet fails; callers gate it behind
// IsRegistered.
func (p Program) BuildRegisterUserInstruction(config RegisterUserInstructionConfig) (solana.Instruction, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	data, err := borsh.Serialize(struct {
		Discriminator Discriminator
		Referrer      *solana.PublicKey
	}{
		Discriminator: DiscriminatorRegisterUser,
		Referrer:      config.Referrer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}

	userInfoPDA, _, err := p.DeriveUserInfoAddress(config.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive user_info PDA: %w", err)
	}
	vaultPDA, _, err := p.DeriveVaultAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault PDA: %w", err)
	}

	accounts := []*solana.AccountMeta{
		{PublicKey: config.Owner, IsSigner: true, IsWritable: true},
		{PublicKey: userInfoPDA, IsSigner: false, IsWritable: true},
		{PublicKey: vaultPDA, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SysVarRentPubkey, IsSigner: false, IsWritable: false},
	}
	if config.Referrer != nil {
		referrerInfoPDA, _, err := p.DeriveUserInfoAddress(*config.Referrer)
		if err != nil {
			return nil, fmt.Errorf("failed to derive referrer user_info PDA: %w", err)
		}
		accounts = append(accounts, &solana.AccountMeta{PublicKey: referrerInfoPDA, IsSigner: false, IsWritable: true})
	}

	return &solana.GenericInstruction{
		ProgID:        p.ID,
		AccountValues: accounts,
		DataBytes:     data,
	}, nil
}

// StakeInstructionConfig holds the inputs for a stake instruction. Amount is
// in base units.
type StakeInstructionConfig struct {
	Owner             solana.PublicKey
	OwnerTokenAccount solana.PublicKey
	VaultTokenAccount solana.PublicKey
	Amount            uint64
}

func (c *StakeInstructionConfig) Validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner is required", ErrInvalidAddress)
	}
	if c.OwnerTokenAccount.IsZero() {
		return fmt.Errorf("%w: owner token account is required", ErrInvalidAddress)
	}
	if c.VaultTokenAccount.IsZero() {
		return fmt.Errorf("%w: vault token account is required", ErrInvalidAddress)
	}
	if c.Amount == 0 {
		return fmt.Errorf("stake amount must be nonzero")
	}
	return nil
}

// BuildStakeInstruction builds the stake instruction transferring Amount base
// units from the owner's token account into the vault.
func (p Program) BuildStakeInstruction(config StakeInstructionConfig) (solana.Instruction, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	data, err := serializeAmountArgs(DiscriminatorStake, config.Amount)
	if err != nil {
		return nil, err
	}

	accounts, err := p.stakeFlowAccounts(config.Owner, false)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: config.OwnerTokenAccount, IsSigner: false, IsWritable: true},
		&solana.AccountMeta{PublicKey: config.VaultTokenAccount, IsSigner: false, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	)

	return &solana.GenericInstruction{
		ProgID:        p.ID,
		AccountValues: accounts,
		DataBytes:     data,
	}, nil
}

// UnstakeInstructionConfig holds the inputs for an unstake instruction.
// Amount is in base units.
type UnstakeInstructionConfig struct {
	Owner             solana.PublicKey
	OwnerTokenAccount solana.PublicKey
	VaultTokenAccount solana.PublicKey
	Amount            uint64
}

func (c *UnstakeInstructionConfig) Validate() error {
	sc := StakeInstructionConfig{
		Owner:             c.Owner,
		OwnerTokenAccount: c.OwnerTokenAccount,
		VaultTokenAccount: c.VaultTokenAccount,
		Amount:            c.Amount,
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	return nil
}

// BuildUnstakeInstruction builds the unstake instruction transferring Amount
// base units from the vault back to the owner's token account, signed
// on-chain by the vault authority PDA.
func (p Program) BuildUnstakeInstruction(config UnstakeInstructionConfig) (solana.Instruction, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	data, err := serializeAmountArgs(DiscriminatorUnstake, config.Amount)
	if err != nil {
		return nil, err
	}

	accounts, err := p.stakeFlowAccounts(config.Owner, true)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: config.VaultTokenAccount, IsSigner: false, IsWritable: true},
		&solana.AccountMeta{PublicKey: config.OwnerTokenAccount, IsSigner: false, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	)

	return &solana.GenericInstruction{
		ProgID:        p.ID,
		AccountValues: accounts,
		DataBytes:     data,
	}, nil
}

// ClaimRewardsInstructionConfig holds the inputs for a claim_rewards
// instruction. The instruction carries no arguments; the program pays out the
// wallet's accrued rewards in full.
type ClaimRewardsInstructionConfig struct {
	Owner             solana.PublicKey
	OwnerTokenAccount solana.PublicKey
	VaultTokenAccount solana.PublicKey
}

func (c *ClaimRewardsInstructionConfig) Validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner is required", ErrInvalidAddress)
	}
	if c.OwnerTokenAccount.IsZero() {
		return fmt.Errorf("%w: owner token account is required", ErrInvalidAddress)
	}
	if c.VaultTokenAccount.IsZero() {
		return fmt.Errorf("%w: vault token account is required", ErrInvalidAddress)
	}
	return nil
}

// BuildClaimRewardsInstruction builds the claim_rewards instruction.
func (p Program) BuildClaimRewardsInstruction(config ClaimRewardsInstructionConfig) (solana.Instruction, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	data, err := borsh.Serialize(struct {
		Discriminator Discriminator
	}{Discriminator: DiscriminatorClaimRewards})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}

	accounts, err := p.stakeFlowAccounts(config.Owner, true)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: config.VaultTokenAccount, IsSigner: false, IsWritable: true},
		&solana.AccountMeta{PublicKey: config.OwnerTokenAccount, IsSigner: false, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	)

	return &solana.GenericInstruction{
		ProgID:        p.ID,
		AccountValues: accounts,
		DataBytes:     data,
	}, nil
}

// CompoundRewardsInstructionConfig holds the inputs for a compound_rewards
// instruction, which folds accrued rewards into the staked amount without a
// token transfer.
type CompoundRewardsInstructionConfig struct {
	Owner solana.PublicKey
}

// BuildCompoundRewardsInstruction builds the compound_rewards instruction.
func (p Program) BuildCompoundRewardsInstruction(config CompoundRewardsInstructionConfig) (solana.Instruction, error) {
	if config.Owner.IsZero() {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidAddress)
	}

	data, err := borsh.Serialize(struct {
		Discriminator Discriminator
	}{Discriminator: DiscriminatorCompoundRewards})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}

	globalStatePDA, _, err := p.DeriveGlobalStateAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive global_state PDA: %w", err)
	}
	userInfoPDA, _, err := p.DeriveUserInfoAddress(config.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive user_info PDA: %w", err)
	}

	accounts := []*solana.AccountMeta{
		{PublicKey: config.Owner, IsSigner: true, IsWritable: true},
		{PublicKey: globalStatePDA, IsSigner: false, IsWritable: true},
		{PublicKey: userInfoPDA, IsSigner: false, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}

	return &solana.GenericInstruction{
		ProgID:        p.ID,
		AccountValues: accounts,
		DataBytes:     data,
	}, nil
}

// AddToRewardPoolInstructionConfig holds the inputs for the authority-only
// add_to_reward_pool instruction.
type AddToRewardPoolInstructionConfig struct {
	Authority             solana.PublicKey
	AuthorityTokenAccount solana.PublicKey
	VaultTokenAccount     solana.PublicKey
	Amount                uint64
}

// BuildAddToRewardPoolInstruction builds the add_to_reward_pool instruction.
func (p Program) BuildAddToRewardPoolInstruction(config AddToRewardPoolInstructionConfig) (solana.Instruction, error) {
	if config.Authority.IsZero() || config.AuthorityTokenAccount.IsZero() || config.VaultTokenAccount.IsZero() {
		return nil, fmt.Errorf("%w: authority, authority token account and vault token account are required", ErrInvalidAddress)
	}
	if config.Amount == 0 {
		return nil, fmt.Errorf("reward pool amount must be nonzero")
	}

	data, err := serializeAmountArgs(DiscriminatorAddToRewardPool, config.Amount)
	if err != nil {
		return nil, err
	}

	globalStatePDA, _, err := p.DeriveGlobalStateAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive global_state PDA: %w", err)
	}

	accounts := []*solana.AccountMeta{
		{PublicKey: config.Authority, IsSigner: true, IsWritable: true},
		{PublicKey: globalStatePDA, IsSigner: false, IsWritable: true},
		{PublicKey: config.AuthorityTokenAccount, IsSigner: false, IsWritable: true},
		{PublicKey: config.VaultTokenAccount, IsSigner: false, IsWritable: true},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}

	return &solana.GenericInstruction{
		ProgID:        p.ID,
		AccountValues: accounts,
		DataBytes:     data,
	}, nil
}

// stakeFlowAccounts builds the shared account prefix for stake, unstake and
// claim_rewards: owner, global_state, user_info, vault, and for vault-signed
// transfers the vault authority.
func (p Program) stakeFlowAccounts(owner solana.PublicKey, withVaultAuthority bool) ([]*solana.AccountMeta, error) {
	globalStatePDA, _, err := p.DeriveGlobalStateAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive global_state PDA: %w", err)
	}
	userInfoPDA, _, err := p.DeriveUserInfoAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive user_info PDA: %w", err)
	}
	vaultPDA, _, err := p.DeriveVaultAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault PDA: %w", err)
	}

	accounts := []*solana.AccountMeta{
		{PublicKey: owner, IsSigner: true, IsWritable: true},
		{PublicKey: globalStatePDA, IsSigner: false, IsWritable: true},
		{PublicKey: userInfoPDA, IsSigner: false, IsWritable: true},
		{PublicKey: vaultPDA, IsSigner: false, IsWritable: false},
	}
	if withVaultAuthority {
		vaultAuthPDA, _, err := p.DeriveVaultAuthorityAddress()
		if err != nil {
			return nil, fmt.Errorf("failed to derive vault_auth PDA: %w", err)
		}
		accounts = append(accounts, &solana.AccountMeta{PublicKey: vaultAuthPDA, IsSigner: false, IsWritable: false})
	}
	return accounts, nil
}

func serializeAmountArgs(disc Discriminator, amount uint64) ([]byte, error) {
	data, err := borsh.Serialize(struct {
		Discriminator Discriminator
		Amount        uint64
	}{Discriminator: disc, Amount: amount})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return data, nil
}
