package staking

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DeriveVaultAddress derives the PDA holding the staking vault state.
func (p Program) DeriveVaultAddress() (solana.PublicKey, uint8, error) {
	return p.derive([][]byte{[]byte(SeedVault)})
}

// DeriveVaultAuthorityAddress derives the PDA that owns the vault token
// account. It has no account data; the program signs token transfers with it.
func (p Program) DeriveVaultAuthorityAddress() (solana.PublicKey, uint8, error) {
	return p.derive([][]byte{[]byte(SeedVaultAuthority)})
}

// DeriveGlobalStateAddress derives the PDA holding global staking parameters
// and vault-wide counters.
func (p Program) DeriveGlobalStateAddress() (solana.PublicKey, uint8, error) {
	return p.derive([][]byte{[]byte(SeedGlobalState)})
}

// DeriveUserInfoAddress derives the per-wallet stake info PDA.
func (p Program) DeriveUserInfoAddress(wallet solana.PublicKey) (solana.PublicKey, uint8, error) {
	if wallet.IsZero() {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: zero wallet", ErrInvalidAddress)
	}
	return p.derive([][]byte{[]byte(SeedUserInfo), wallet[:]})
}

func (p Program) derive(seeds [][]byte) (solana.PublicKey, uint8, error) {
	for _, seed := range seeds {
		if len(seed) > solana.MaxSeedLength {
			return solana.PublicKey{}, 0, fmt.Errorf("%w: seed length %d exceeds max %d", ErrInvalidSeed, len(seed), solana.MaxSeedLength)
		}
	}
	addr, bump, err := solana.FindProgramAddress(seeds, p.ID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %v", ErrNoValidBump, err)
	}
	return addr, bump, nil
}
