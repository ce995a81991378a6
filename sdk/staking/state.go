package staking

import (
	"math"
	"math/bits"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Account discriminators, Anchor-style: sha256("account:<Name>")[..8].
var (
	AccountDiscriminatorUserInfo    = Discriminator{83, 134, 200, 56, 144, 56, 10, 62}
	AccountDiscriminatorGlobalState = Discriminator{163, 46, 74, 168, 216, 123, 133, 98}
	AccountDiscriminatorVault       = Discriminator{68, 141, 118, 28, 87, 84, 213, 233}
)

const (
	// UserInfoAccountSize is the allocated size of a user_info account:
	// 8 discriminator + 32 owner + 8 staked + 8 rewards + 8 last_stake +
	// 8 last_claim + 33 Option<referrer> + 8 referral_count + 8 referral_rewards.
	UserInfoAccountSize = 8 + 32 + 8 + 8 + 8 + 8 + 33 + 8 + 8
	// GlobalStateAccountSize is the allocated size of the global_state account.
	GlobalStateAccountSize = 8 + 32 + 32 + 32 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 1
	// VaultAccountSize is the allocated size of the vault account.
	VaultAccountSize = 8 + 32 + 32 + 32 + 1 + 1
)

// UserInfo mirrors the per-wallet stake account owned by the program.
// Amounts are in base units; timestamps are unix seconds.
type UserInfo struct {
	Owner                solana.PublicKey
	StakedAmount         uint64
	Rewards              uint64
	LastStakeTime        int64
	LastClaimTime        int64
	Referrer             *solana.PublicKey
	ReferralCount        uint64
	TotalReferralRewards uint64
}

// GlobalState mirrors the program's global parameter and counter account.
// Rates are in basis points.
type GlobalState struct {
	Authority          solana.PublicKey
	TokenMint          solana.PublicKey
	Vault              solana.PublicKey
	RewardRate         uint64
	UnlockDuration     int64
	EarlyUnstakePen    uint64
	MinStakeAmount     uint64
	ReferralRewardRate uint64
	TotalStaked        uint64
	StakersCount       uint64
	RewardPool         uint64
	LastUpdateTime     int64
	Bump               uint8
}

// Vault mirrors the vault config account: the token mint, the vault token
// account address, and the derivation bumps.
type Vault struct {
	Authority  solana.PublicKey
	TokenMint  solana.PublicKey
	TokenVault solana.PublicKey
	Bump       uint8
	VaultBump  uint8
}

const secondsPerDay = 86_400

// PendingRewards returns the wallet's accrued rewards at the given time,
// applying the program's documented accrual formula on top of the stored
// value. This is a local estimate, not authoritative state.
func (u *UserInfo) PendingRewards(gs *GlobalState, now time.Time) uint64 {
	pending := u.Rewards
	elapsed := now.Unix() - u.LastStakeTime
	if u.StakedAmount == 0 || elapsed <= 0 {
		return pending
	}
	daily := mulDiv(u.StakedAmount, gs.RewardRate, 10_000)
	accrued := mulDiv(daily, uint64(elapsed), secondsPerDay)
	if pending+accrued < pending {
		return pending
	}
	return pending + accrued
}

// TimeUntilUnlock returns the remaining lock duration, or nil when nothing is
// staked or the unlock period has passed.
func (u *UserInfo) TimeUntilUnlock(gs *GlobalState, now time.Time) *time.Duration {
	if u.StakedAmount == 0 {
		return nil
	}
	unlockAt := u.LastStakeTime + gs.UnlockDuration
	remaining := unlockAt - now.Unix()
	if remaining <= 0 {
		return nil
	}
	d := time.Duration(remaining) * time.Second
	return &d
}

// APY returns the annualized percentage yield implied by the daily reward
// rate in basis points.
func (gs *GlobalState) APY() float64 {
	return float64(gs.RewardRate) / 100.0 * 365.0
}

// mulDiv computes a*b/den with a 128-bit intermediate, matching the program's
// u128 checked math. A quotient that still does not fit in 64 bits saturates.
func mulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}
