package reconcile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/internal/metrics"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrConflict is returned when an event's transaction signature was
	// already applied within the dedup window. Multiple ingest channels see
	// the same transactions, so duplicates are expected and discarded.
	ErrConflict = errors.New("reconciliation conflict: duplicate event signature")
	// ErrInvalidEvent is returned for events with no wallet or an unknown kind.
	ErrInvalidEvent = errors.New("invalid event")
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultDedupTTL   = 10 * time.Minute
	defaultShardCount = 32
)

type CacheConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// StaleAfter is the window after which a record is flagged stale on read.
	StaleAfter time.Duration
	// DedupTTL bounds how long applied transaction signatures are remembered.
	DedupTTL time.Duration
	// ShardCount controls how many locks wallet updates are spread over.
	ShardCount int
}

func (c *CacheConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = defaultDedupTTL
	}
	if c.ShardCount <= 0 {
		c.ShardCount = defaultShardCount
	}
	return nil
}

type shard struct {
	mu      sync.Mutex
	records map[solana.PublicKey]*StakeRecord
}

// Cache holds the reconciled per-wallet staking records. Updates for one
// wallet are serialized by its shard lock; different wallets proceed
// concurrently.
type Cache struct {
	log *slog.Logger
	cfg *CacheConfig

	shards []*shard
	dedup  *ttlcache.Cache[string, struct{}]
}

func NewCache(cfg *CacheConfig) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	shards := make([]*shard, cfg.ShardCount)
	for i := range shards {
		shards[i] = &shard{records: make(map[solana.PublicKey]*StakeRecord)}
	}

	dedup := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](cfg.DedupTTL),
	)
	go dedup.Start()

	return &Cache{
		log:    cfg.Logger,
		cfg:    cfg,
		shards: shards,
		dedup:  dedup,
	}, nil
}

func (c *Cache) Close() {
	c.dedup.Stop()
}

func (c *Cache) shardFor(wallet solana.PublicKey) *shard {
	idx := binary.LittleEndian.Uint32(wallet[:4]) % uint32(len(c.shards))
	return c.shards[idx]
}

// Apply merges a delta event into the wallet's record. Stakes add, unstakes
// subtract clamped at zero, claims reset pending rewards. A signature seen
// within the dedup window is discarded with ErrConflict.
func (c *Cache) Apply(ev Event) error {
	if ev.Wallet.IsZero() {
		return fmt.Errorf("%w: event has no wallet", ErrInvalidEvent)
	}
	switch ev.Kind {
	case KindStake, KindUnstake, KindClaim:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, ev.Kind)
	}

	if ev.Signature != "" {
		// GetOrSet is atomic, so of two feeds racing on the same signature
		// exactly one claims it and the other is discarded.
		if _, seen := c.dedup.GetOrSet(ev.Signature, struct{}{}); seen {
			c.log.Debug("discarding duplicate event",
				"wallet", ev.Wallet, "kind", ev.Kind, "sig", ev.Signature, "source", ev.Source)
			metrics.EventsDiscardedTotal.WithLabelValues("duplicate").Inc()
			return fmt.Errorf("%w: %s", ErrConflict, ev.Signature)
		}
	}

	s := c.shardFor(ev.Wallet)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[ev.Wallet]
	if rec == nil {
		rec = &StakeRecord{Wallet: ev.Wallet, Source: SourceDefault}
		s.records[ev.Wallet] = rec
		metrics.TrackedWalletsCurrent.Inc()
	}

	now := c.cfg.Clock.Now()
	switch ev.Kind {
	case KindStake:
		if rec.AmountStaked == 0 && ev.Amount > 0 {
			rec.StakedAt = now
		}
		rec.AmountStaked += ev.Amount
	case KindUnstake:
		if ev.Amount >= rec.AmountStaked {
			if ev.Amount > rec.AmountStaked {
				c.log.Warn("unstake exceeds tracked balance, clamping to zero",
					"wallet", ev.Wallet, "tracked", rec.AmountStaked, "amount", ev.Amount)
			}
			rec.AmountStaked = 0
		} else {
			rec.AmountStaked -= ev.Amount
		}
	case KindClaim:
		rec.PendingRewards = 0
	}
	rec.LastUpdateTime = now
	rec.Source = ev.Source

	metrics.EventsAppliedTotal.WithLabelValues(string(ev.Kind), string(ev.Source)).Inc()
	return nil
}

// ApplyAbsolute replaces the wallet's record with an authoritative on-chain
// snapshot. Poller and direct account reads go through here: their amounts
// are the chain's current values, not deltas, so they overwrite instead of
// merging.
func (c *Cache) ApplyAbsolute(wallet solana.PublicKey, snap StakeRecord) error {
	if wallet.IsZero() {
		return fmt.Errorf("%w: snapshot has no wallet", ErrInvalidEvent)
	}

	s := c.shardFor(wallet)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[wallet]
	if rec == nil {
		rec = &StakeRecord{Wallet: wallet}
		s.records[wallet] = rec
		metrics.TrackedWalletsCurrent.Inc()
	}

	rec.AmountStaked = snap.AmountStaked
	rec.PendingRewards = snap.PendingRewards
	if !snap.StakedAt.IsZero() {
		rec.StakedAt = snap.StakedAt
	}
	rec.TimeUntilUnlock = snap.TimeUntilUnlock
	if snap.EstimatedAPY != 0 {
		rec.EstimatedAPY = snap.EstimatedAPY
	}
	rec.LastUpdateTime = c.cfg.Clock.Now()
	if snap.Source != "" {
		rec.Source = snap.Source
	} else {
		rec.Source = SourceOnChain
	}

	metrics.EventsAppliedTotal.WithLabelValues("snapshot", string(rec.Source)).Inc()
	return nil
}

// Get returns the wallet's record. It never fails: an untracked wallet yields
// a zero record tagged SourceDefault. Records past the staleness window are
// returned with Stale set.
func (c *Cache) Get(wallet solana.PublicKey) StakeRecord {
	s := c.shardFor(wallet)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[wallet]
	if rec == nil {
		return StakeRecord{Wallet: wallet, Source: SourceDefault}
	}

	out := *rec
	if age := c.cfg.Clock.Now().Sub(rec.LastUpdateTime); age > c.cfg.StaleAfter {
		out.Stale = true
		c.log.Debug("returning stale record", "wallet", wallet, "age", age, "source", rec.Source)
		metrics.StaleReadsTotal.Inc()
	}
	return out
}

// Wallets returns every wallet the cache has a record for.
func (c *Cache) Wallets() []solana.PublicKey {
	var out []solana.PublicKey
	for _, s := range c.shards {
		s.mu.Lock()
		for wallet := range s.records {
			out = append(out, wallet)
		}
		s.mu.Unlock()
	}
	return out
}

// Snapshot returns a copy of every record.
func (c *Cache) Snapshot() []StakeRecord {
	var out []StakeRecord
	for _, s := range c.shards {
		s.mu.Lock()
		for _, rec := range s.records {
			out = append(out, *rec)
		}
		s.mu.Unlock()
	}
	return out
}

// Stats summarizes the cache for the vault endpoint and logs.
type Stats struct {
	Wallets             int    `json:"wallets"`
	TotalStaked         uint64 `json:"totalStaked"`
	TotalPendingRewards uint64 `json:"totalPendingRewards"`
}

func (c *Cache) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		s.mu.Lock()
		st.Wallets += len(s.records)
		for _, rec := range s.records {
			st.TotalStaked += rec.AmountStaked
			st.TotalPendingRewards += rec.PendingRewards
		}
		s.mu.Unlock()
	}
	return st
}
