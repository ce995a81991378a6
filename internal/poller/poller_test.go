package poller_test

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/internal/poller"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"
)

var log *slog.Logger

func TestMain(m *testing.M) {
	flag.Parse()
	logLevel := slog.LevelInfo
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		logLevel = slog.LevelDebug
	}
	log = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))

	os.Exit(m.Run())
}

type fakeReader struct {
	mu    sync.Mutex
	infos map[solana.PublicKey]*staking.UserInfo
	gs    *staking.GlobalState
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		infos: make(map[solana.PublicKey]*staking.UserInfo),
		gs:    &staking.GlobalState{RewardRate: 100, UnlockDuration: 7 * 86_400},
	}
}

func (r *fakeReader) setInfo(wallet solana.PublicKey, info *staking.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[wallet] = info
}

func (r *fakeReader) GetUserInfo(_ context.Context, wallet solana.PublicKey) (*staking.UserInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[wallet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", staking.ErrAccountNotFound, wallet)
	}
	return info, nil
}

func (r *fakeReader) GetGlobalState(context.Context) (*staking.GlobalState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gs, nil
}

func newTestCache(t *testing.T, clock clockwork.Clock) *reconcile.Cache {
	t.Helper()
	cache, err := reconcile.NewCache(&reconcile.CacheConfig{Logger: log, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestPoller_ForceRefreshOverwritesDeltas(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, clock)
	reader := newFakeReader()

	p, err := poller.New(&poller.Config{
		Logger: log,
		Clock:  clock,
		Reader: reader,
		Cache:  cache,
	})
	require.NoError(t, err)

	wallet := solana.NewWallet().PublicKey()

	// A webhook delta landed first; the chain says something else.
	require.NoError(t, cache.Apply(reconcile.Event{
		Kind: reconcile.KindStake, Wallet: wallet, Amount: 999, Signature: "sig-d",
		Source: reconcile.SourceWebhook,
	}))
	reader.setInfo(wallet, &staking.UserInfo{
		Owner:         wallet,
		StakedAmount:  500,
		LastStakeTime: clock.Now().Unix(),
	})

	rec, err := p.ForceRefresh(t.Context(), wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(500), rec.AmountStaked)
	require.Equal(t, reconcile.SourcePolled, rec.Source)
	require.NotNil(t, rec.TimeUntilUnlock)
	require.InDelta(t, 365.0, rec.EstimatedAPY, 0.01)
}

func TestPoller_ForceRefreshUnregisteredWalletZeroes(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, clock)

	p, err := poller.New(&poller.Config{
		Logger: log,
		Clock:  clock,
		Reader: newFakeReader(),
		Cache:  cache,
	})
	require.NoError(t, err)

	wallet := solana.NewWallet().PublicKey()
	require.NoError(t, cache.Apply(reconcile.Event{
		Kind: reconcile.KindStake, Wallet: wallet, Amount: 100, Signature: "sig-z",
		Source: reconcile.SourceOnChain,
	}))

	rec, err := p.ForceRefresh(t.Context(), wallet)
	require.NoError(t, err)
	require.Zero(t, rec.AmountStaked)
	require.Equal(t, reconcile.SourcePolled, rec.Source)
}

func TestPoller_TickRefreshesTrackedWallets(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, clock)
	reader := newFakeReader()

	p, err := poller.New(&poller.Config{
		Logger:   log,
		Clock:    clock,
		Reader:   reader,
		Cache:    cache,
		Interval: time.Minute,
	})
	require.NoError(t, err)

	w1 := solana.NewWallet().PublicKey()
	w2 := solana.NewWallet().PublicKey()
	reader.setInfo(w1, &staking.UserInfo{Owner: w1, StakedAmount: 1000})
	reader.setInfo(w2, &staking.UserInfo{Owner: w2, StakedAmount: 2000})
	p.Track(w1)
	p.Track(w2)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	clock.BlockUntilContext(ctx, 1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return cache.Get(w1).AmountStaked == 1000 && cache.Get(w2).AmountStaked == 2000
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
