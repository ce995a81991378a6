// Package poller periodically re-reads on-chain stake accounts for every
// tracked wallet and feeds the authoritative values back into the reconciler.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/internal/metrics"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/jonboulle/clockwork"
)

// StateReader reads program accounts. *staking.Client satisfies it.
type StateReader interface {
	GetUserInfo(ctx context.Context, wallet solana.PublicKey) (*staking.UserInfo, error)
	GetGlobalState(ctx context.Context) (*staking.GlobalState, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Reader StateReader
	Cache  *reconcile.Cache

	Interval time.Duration // defaults to 60s
	PoolSize int           // defaults to 8
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Reader == nil {
		return errors.New("state reader is required")
	}
	if c.Cache == nil {
		return errors.New("cache is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	return nil
}

// Poller reconciles tracked wallets against chain state on a fixed interval.
type Poller struct {
	log *slog.Logger
	cfg *Config

	pool pond.ResultPool[solana.PublicKey]

	mu      sync.Mutex
	tracked map[solana.PublicKey]struct{}
}

func New(cfg *Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poller config: %w", err)
	}
	return &Poller{
		log:     cfg.Logger.With("component", "poller"),
		cfg:     cfg,
		pool:    pond.NewResultPool[solana.PublicKey](cfg.PoolSize),
		tracked: make(map[solana.PublicKey]struct{}),
	}, nil
}

// Track adds a wallet to the poll set even before the reconciler has seen any
// event for it.
func (p *Poller) Track(wallet solana.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[wallet] = struct{}{}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller starting", "interval", p.cfg.Interval)
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	wallets := p.pollSet()
	if len(wallets) == 0 {
		metrics.PollTickTotal.WithLabelValues("empty").Inc()
		return
	}

	gs, err := p.cfg.Reader.GetGlobalState(ctx)
	if err != nil {
		p.log.Warn("failed to read global state, skipping tick", "error", err)
		metrics.PollTickTotal.WithLabelValues("error").Inc()
		return
	}

	group := p.pool.NewGroupContext(ctx)
	for _, wallet := range wallets {
		group.SubmitErr(func() (solana.PublicKey, error) {
			return wallet, p.refresh(ctx, wallet, gs)
		})
	}
	if _, err := group.Wait(); err != nil {
		p.log.Warn("poll tick finished with errors", "error", err, "wallets", len(wallets))
		metrics.PollTickTotal.WithLabelValues("partial").Inc()
	} else {
		metrics.PollTickTotal.WithLabelValues("ok").Inc()
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	p.log.Debug("poll tick complete", "wallets", len(wallets), "duration", time.Since(start))
}

// ForceRefresh re-reads the wallet's chain state immediately and returns the
// merged record, bypassing the staleness window.
func (p *Poller) ForceRefresh(ctx context.Context, wallet solana.PublicKey) (reconcile.StakeRecord, error) {
	p.Track(wallet)

	gs, err := p.cfg.Reader.GetGlobalState(ctx)
	if err != nil {
		return reconcile.StakeRecord{}, fmt.Errorf("failed to read global state: %w", err)
	}
	if err := p.refresh(ctx, wallet, gs); err != nil {
		return reconcile.StakeRecord{}, err
	}
	return p.cfg.Cache.Get(wallet), nil
}

func (p *Poller) pollSet() []solana.PublicKey {
	set := make(map[solana.PublicKey]struct{})
	for _, wallet := range p.cfg.Cache.Wallets() {
		set[wallet] = struct{}{}
	}
	p.mu.Lock()
	for wallet := range p.tracked {
		set[wallet] = struct{}{}
	}
	p.mu.Unlock()

	out := make([]solana.PublicKey, 0, len(set))
	for wallet := range set {
		out = append(out, wallet)
	}
	return out
}

// refresh overwrites the wallet's record with the chain's absolute values. An
// account that does not exist reconciles to zero: the wallet has nothing
// staked, whatever the delta channels accumulated.
func (p *Poller) refresh(ctx context.Context, wallet solana.PublicKey, gs *staking.GlobalState) error {
	info, err := p.cfg.Reader.GetUserInfo(ctx, wallet)
	if errors.Is(err, staking.ErrAccountNotFound) {
		return p.cfg.Cache.ApplyAbsolute(wallet, reconcile.StakeRecord{
			Source: reconcile.SourcePolled,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to read user info for %s: %w", wallet, err)
	}

	now := p.cfg.Clock.Now()
	snap := reconcile.StakeRecord{
		AmountStaked:    info.StakedAmount,
		PendingRewards:  info.PendingRewards(gs, now),
		TimeUntilUnlock: info.TimeUntilUnlock(gs, now),
		EstimatedAPY:    gs.APY(),
		Source:          reconcile.SourcePolled,
	}
	if info.LastStakeTime > 0 {
		snap.StakedAt = time.Unix(info.LastStakeTime, 0)
	}
	return p.cfg.Cache.ApplyAbsolute(wallet, snap)
}
