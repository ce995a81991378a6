// Package staking is the Go SDK for the HATM referral staking program.
//
// It owns the external contract of the on-chain program: PDA seeds,
// instruction discriminators and argument layouts, account list ordering,
// and the byte layouts of the program's accounts. Everything that has to
// match the deployed program byte-for-byte lives here and nowhere else.
package staking

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Default deployments of the staking program.
const (
	// ProgramIDMainnet is the referral staking program ID.
	ProgramIDMainnet = "EnGhdovdYhHk4nsHEJr6gmV5cYfrx53ky19RD56eRRGm"
	// TokenMintMainnet is the HATM token mint.
	TokenMintMainnet = "59TF7G5NqMdqjHvpsBPojuhvksHiHVUkaNkaiVvozDrk"
	// TokenDecimals is the decimal exponent of the HATM mint.
	TokenDecimals = 9
)

// PDA seeds. These are exact ASCII byte sequences; any deviation derives a
// different, wrong address.
const (
	SeedVault          = "vault"
	SeedVaultAuthority = "vault_auth"
	SeedUserInfo       = "user_info"
	SeedGlobalState    = "global_state"
)

// Instruction discriminators, Anchor-style: sha256("global:<method>")[..8].
var (
	DiscriminatorInitialize      = Discriminator{175, 175, 109, 31, 13, 152, 155, 237}
	DiscriminatorRegisterUser    = Discriminator{2, 241, 150, 223, 99, 214, 116, 97}
	DiscriminatorStake           = Discriminator{206, 176, 202, 18, 200, 209, 179, 108}
	DiscriminatorUnstake         = Discriminator{90, 95, 107, 42, 205, 124, 50, 225}
	DiscriminatorClaimRewards    = Discriminator{4, 144, 132, 71, 116, 23, 151, 80}
	DiscriminatorCompoundRewards = Discriminator{254, 191, 226, 120, 82, 115, 5, 87}
	DiscriminatorAddToRewardPool = Discriminator{141, 194, 129, 156, 24, 185, 199, 206}
)

// Discriminator is the 8-byte prefix identifying which operation an
// instruction's data encodes.
type Discriminator [8]byte

var (
	// ErrInvalidSeed is returned when a PDA seed exceeds the maximum seed length.
	ErrInvalidSeed = errors.New("invalid PDA seed")
	// ErrNoValidBump is returned when no bump in [0,255] yields an off-curve address.
	ErrNoValidBump = errors.New("no valid bump seed found")
	// ErrInvalidAddress is returned when a provided address fails format validation.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrAmountOverflow is returned when an amount does not fit in 64 bits of base units.
	ErrAmountOverflow = errors.New("amount overflows u64 base units")
)

// Program describes one deployed version of the staking program. The encoder
// and deriver are parametrized over it so there is exactly one contract per
// program version.
type Program struct {
	ID        solana.PublicKey
	TokenMint solana.PublicKey
	Decimals  uint8
}

// MainnetProgram returns the contract for the mainnet deployment.
func MainnetProgram() Program {
	return Program{
		ID:        solana.MustPublicKeyFromBase58(ProgramIDMainnet),
		TokenMint: solana.MustPublicKeyFromBase58(TokenMintMainnet),
		Decimals:  TokenDecimals,
	}
}

func (p Program) Validate() error {
	if p.ID.IsZero() {
		return fmt.Errorf("program ID is required")
	}
	if p.TokenMint.IsZero() {
		return fmt.Errorf("token mint is required")
	}
	if p.Decimals == 0 {
		return fmt.Errorf("token decimals are required")
	}
	return nil
}

// ParseAmount converts a human token amount in decimal notation into base
// units (human amount * 10^decimals). It works on the string form so that
// fractional amounts never pass through floating point.
func ParseAmount(amount string, decimals uint8) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrAmountOverflow)
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if len(frac) > int(decimals) {
		return 0, fmt.Errorf("%w: more than %d fractional digits", ErrAmountOverflow, decimals)
	}
	// Right-pad the fractional part to the full decimal width.
	frac += strings.Repeat("0", int(decimals)-len(frac))

	var out uint64
	for _, digits := range []string{whole, frac} {
		for _, c := range []byte(digits) {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("%w: non-digit in amount %q", ErrAmountOverflow, amount)
			}
			d := uint64(c - '0')
			if out > (math.MaxUint64-d)/10 {
				return 0, ErrAmountOverflow
			}
			out = out*10 + d
		}
	}
	return out, nil
}
