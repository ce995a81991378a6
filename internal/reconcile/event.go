// Package reconcile maintains the gateway's local view of per-wallet staking
// state, merging delta events from the webhook and the log listener with
// absolute snapshots from the on-chain poller.
package reconcile

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Kind classifies a staking event.
type Kind string

const (
	KindStake   Kind = "stake"
	KindUnstake Kind = "unstake"
	KindClaim   Kind = "claim"
	KindUnknown Kind = "unknown"
)

// Source identifies which channel produced a record or an event. Webhook
// deliveries and on-chain log observations carry deltas; Polled carries
// absolute account reads.
type Source string

const (
	SourceOnChain Source = "onchain"
	SourceWebhook Source = "webhook"
	SourcePolled  Source = "polled"
	SourceDefault Source = "default"
)

// Event is a single observed staking action for one wallet. Amount is a delta
// in base units of the staking token.
type Event struct {
	Kind       Kind
	Wallet     solana.PublicKey
	Amount     uint64
	Signature  string
	Source     Source
	ObservedAt time.Time
}

// StakeRecord is the reconciled view of a single wallet.
type StakeRecord struct {
	Wallet          solana.PublicKey `json:"wallet"`
	AmountStaked    uint64           `json:"amountStaked"`
	PendingRewards  uint64           `json:"pendingRewards"`
	StakedAt        time.Time        `json:"stakedAt"`
	LastUpdateTime  time.Time        `json:"lastUpdateTime"`
	TimeUntilUnlock *time.Duration   `json:"timeUntilUnlock,omitempty"`
	EstimatedAPY    float64          `json:"estimatedApy,omitempty"`
	Source          Source           `json:"source"`
	// Stale is set on read when the record has not been refreshed by any
	// source within the staleness window.
	Stale bool `json:"stale"`
}
