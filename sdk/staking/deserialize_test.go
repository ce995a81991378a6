package staking_test

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/stretchr/testify/require"
)

type fixtureBuilder struct {
	buf []byte
}

func (f *fixtureBuilder) disc(d staking.Discriminator) *fixtureBuilder {
	f.buf = append(f.buf, d[:]...)
	return f
}

func (f *fixtureBuilder) pubkey(pk solana.PublicKey) *fixtureBuilder {
	f.buf = append(f.buf, pk[:]...)
	return f
}

func (f *fixtureBuilder) u64(v uint64) *fixtureBuilder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	f.buf = append(f.buf, b[:]...)
	return f
}

func (f *fixtureBuilder) i64(v int64) *fixtureBuilder {
	return f.u64(uint64(v))
}

func (f *fixtureBuilder) u8(v uint8) *fixtureBuilder {
	f.buf = append(f.buf, v)
	return f
}

func (f *fixtureBuilder) optionPubkey(pk *solana.PublicKey) *fixtureBuilder {
	if pk == nil {
		return f.u8(0)
	}
	return f.u8(1).pubkey(*pk)
}

func TestSDK_Staking_DeserializeUserInfo(t *testing.T) {
	t.Parallel()

	owner := solana.NewWallet().PublicKey()
	referrer := solana.NewWallet().PublicKey()

	fb := (&fixtureBuilder{}).
		disc(staking.AccountDiscriminatorUserInfo).
		pubkey(owner).
		u64(5_000_000_000). // staked_amount
		u64(12_345).        // rewards
		i64(1_700_000_000). // last_stake_time
		i64(1_690_000_000). // last_claim_time
		optionPubkey(&referrer).
		u64(3).      // referral_count
		u64(99_000)  // total_referral_rewards

	require.Len(t, fb.buf, staking.UserInfoAccountSize)

	info, err := staking.DeserializeUserInfo(fb.buf)
	require.NoError(t, err)
	require.Equal(t, owner, info.Owner)
	require.Equal(t, uint64(5_000_000_000), info.StakedAmount)
	require.Equal(t, uint64(12_345), info.Rewards)
	require.Equal(t, int64(1_700_000_000), info.LastStakeTime)
	require.Equal(t, int64(1_690_000_000), info.LastClaimTime)
	require.NotNil(t, info.Referrer)
	require.Equal(t, referrer, *info.Referrer)
	require.Equal(t, uint64(3), info.ReferralCount)
	require.Equal(t, uint64(99_000), info.TotalReferralRewards)
}

func TestSDK_Staking_DeserializeUserInfo_NoReferrer(t *testing.T) {
	t.Parallel()

	fb := (&fixtureBuilder{}).
		disc(staking.AccountDiscriminatorUserInfo).
		pubkey(solana.NewWallet().PublicKey()).
		u64(0).u64(0).i64(0).i64(0).
		optionPubkey(nil).
		u64(0).u64(0)

	info, err := staking.DeserializeUserInfo(fb.buf)
	require.NoError(t, err)
	require.Nil(t, info.Referrer)
}

func TestSDK_Staking_DeserializeUserInfo_BadDiscriminator(t *testing.T) {
	t.Parallel()

	fb := (&fixtureBuilder{}).
		disc(staking.AccountDiscriminatorGlobalState).
		pubkey(solana.NewWallet().PublicKey()).
		u64(0).u64(0).i64(0).i64(0).
		optionPubkey(nil).
		u64(0).u64(0)

	_, err := staking.DeserializeUserInfo(fb.buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "discriminator mismatch")
}

func TestSDK_Staking_DeserializeUserInfo_Truncated(t *testing.T) {
	t.Parallel()

	fb := (&fixtureBuilder{}).
		disc(staking.AccountDiscriminatorUserInfo).
		pubkey(solana.NewWallet().PublicKey()).
		u64(1)

	_, err := staking.DeserializeUserInfo(fb.buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "truncated")
}

func TestSDK_Staking_DeserializeGlobalState(t *testing.T) {
	t.Parallel()

	authority := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	vault := solana.NewWallet().PublicKey()

	fb := (&fixtureBuilder{}).
		disc(staking.AccountDiscriminatorGlobalState).
		pubkey(authority).
		pubkey(mint).
		pubkey(vault).
		u64(10).            // reward_rate bps/day
		i64(604_800).       // unlock_duration: 7 days
		u64(2_500).         // early_unstake_penalty bps
		u64(1_000_000_000). // min_stake_amount
		u64(500).           // referral_reward_rate bps
		u64(123_000_000_000).
		u64(42).
		u64(7_000_000_000).
		i64(1_700_000_000).
		u8(254)

	require.Len(t, fb.buf, staking.GlobalStateAccountSize)

	gs, err := staking.DeserializeGlobalState(fb.buf)
	require.NoError(t, err)
	require.Equal(t, authority, gs.Authority)
	require.Equal(t, mint, gs.TokenMint)
	require.Equal(t, vault, gs.Vault)
	require.Equal(t, uint64(10), gs.RewardRate)
	require.Equal(t, int64(604_800), gs.UnlockDuration)
	require.Equal(t, uint64(2_500), gs.EarlyUnstakePen)
	require.Equal(t, uint64(1_000_000_000), gs.MinStakeAmount)
	require.Equal(t, uint64(500), gs.ReferralRewardRate)
	require.Equal(t, uint64(123_000_000_000), gs.TotalStaked)
	require.Equal(t, uint64(42), gs.StakersCount)
	require.Equal(t, uint64(7_000_000_000), gs.RewardPool)
	require.Equal(t, int64(1_700_000_000), gs.LastUpdateTime)
	require.Equal(t, uint8(254), gs.Bump)

	// 10 bps/day implies 36.5% APY.
	require.InDelta(t, 36.5, gs.APY(), 0.0001)
}

func TestSDK_Staking_DeserializeVault(t *testing.T) {
	t.Parallel()

	authority := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	tokenVault := solana.NewWallet().PublicKey()

	fb := (&fixtureBuilder{}).
		disc(staking.AccountDiscriminatorVault).
		pubkey(authority).
		pubkey(mint).
		pubkey(tokenVault).
		u8(255).
		u8(253)

	require.Len(t, fb.buf, staking.VaultAccountSize)

	v, err := staking.DeserializeVault(fb.buf)
	require.NoError(t, err)
	require.Equal(t, authority, v.Authority)
	require.Equal(t, mint, v.TokenMint)
	require.Equal(t, tokenVault, v.TokenVault)
	require.Equal(t, uint8(255), v.Bump)
	require.Equal(t, uint8(253), v.VaultBump)
}
