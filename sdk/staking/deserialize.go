package staking

import "fmt"

// DeserializeUserInfo decodes a user_info account's raw data.
func DeserializeUserInfo(data []byte) (*UserInfo, error) {
	br := newByteReader(data)
	br.ReadDiscriminator(AccountDiscriminatorUserInfo)

	u := &UserInfo{}
	u.Owner = br.ReadPubkey()
	u.StakedAmount = br.ReadU64()
	u.Rewards = br.ReadU64()
	u.LastStakeTime = br.ReadI64()
	u.LastClaimTime = br.ReadI64()
	u.Referrer = br.ReadOptionPubkey()
	u.ReferralCount = br.ReadU64()
	u.TotalReferralRewards = br.ReadU64()

	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("failed to deserialize user_info: %w", err)
	}
	return u, nil
}

// DeserializeGlobalState decodes the global_state account's raw data.
func DeserializeGlobalState(data []byte) (*GlobalState, error) {
	br := newByteReader(data)
	br.ReadDiscriminator(AccountDiscriminatorGlobalState)

	gs := &GlobalState{}
	gs.Authority = br.ReadPubkey()
	gs.TokenMint = br.ReadPubkey()
	gs.Vault = br.ReadPubkey()
	gs.RewardRate = br.ReadU64()
	gs.UnlockDuration = br.ReadI64()
	gs.EarlyUnstakePen = br.ReadU64()
	gs.MinStakeAmount = br.ReadU64()
	gs.ReferralRewardRate = br.ReadU64()
	gs.TotalStaked = br.ReadU64()
	gs.StakersCount = br.ReadU64()
	gs.RewardPool = br.ReadU64()
	gs.LastUpdateTime = br.ReadI64()
	gs.Bump = br.ReadU8()

	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("failed to deserialize global_state: %w", err)
	}
	return gs, nil
}

// DeserializeVault decodes the vault config account's raw data.
func DeserializeVault(data []byte) (*Vault, error) {
	br := newByteReader(data)
	br.ReadDiscriminator(AccountDiscriminatorVault)

	v := &Vault{}
	v.Authority = br.ReadPubkey()
	v.TokenMint = br.ReadPubkey()
	v.TokenVault = br.ReadPubkey()
	v.Bump = br.ReadU8()
	v.VaultBump = br.ReadU8()

	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("failed to deserialize vault: %w", err)
	}
	return v, nil
}
