package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRecordStore struct {
	records map[solana.PublicKey]reconcile.StakeRecord
	stats   reconcile.Stats
}

func (m *mockRecordStore) Get(wallet solana.PublicKey) reconcile.StakeRecord {
	rec, ok := m.records[wallet]
	if !ok {
		return reconcile.StakeRecord{Wallet: wallet, Source: reconcile.SourceDefault}
	}
	return rec
}

func (m *mockRecordStore) Stats() reconcile.Stats {
	return m.stats
}

type mockRefresher struct {
	rec reconcile.StakeRecord
	err error
}

func (m *mockRefresher) ForceRefresh(_ context.Context, wallet solana.PublicKey) (reconcile.StakeRecord, error) {
	if m.err != nil {
		return reconcile.StakeRecord{}, m.err
	}
	rec := m.rec
	rec.Wallet = wallet
	return rec, nil
}

type mockGlobalStateReader struct {
	gs    *staking.GlobalState
	err   error
	calls int
}

func (m *mockGlobalStateReader) GetGlobalState(context.Context) (*staking.GlobalState, error) {
	m.calls++
	return m.gs, m.err
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	base := []Option{
		WithRecordStore(&mockRecordStore{}),
		WithRefresher(&mockRefresher{}),
		WithGlobalStateReader(&mockGlobalStateReader{gs: &staking.GlobalState{}}),
	}
	s, err := NewServer(append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func TestApiServer_GetStaking(t *testing.T) {
	t.Parallel()

	wallet := solana.NewWallet().PublicKey()
	store := &mockRecordStore{
		records: map[solana.PublicKey]reconcile.StakeRecord{
			wallet: {
				Wallet:       wallet,
				AmountStaked: 12345,
				Source:       reconcile.SourceWebhook,
			},
		},
	}
	s := newTestServer(t, WithRecordStore(store))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staking/"+wallet.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got reconcile.StakeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(12345), got.AmountStaked)
	assert.Equal(t, reconcile.SourceWebhook, got.Source)
}

func TestApiServer_GetStakingUnknownWalletDefaults(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staking/"+solana.NewWallet().PublicKey().String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got reconcile.StakeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, reconcile.SourceDefault, got.Source)
	assert.Zero(t, got.AmountStaked)
}

func TestApiServer_GetStakingInvalidWallet(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staking/not-a-wallet", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApiServer_Refresh(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, WithRefresher(&mockRefresher{
		rec: reconcile.StakeRecord{AmountStaked: 777, Source: reconcile.SourcePolled},
	}))

	wallet := solana.NewWallet().PublicKey()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/staking/"+wallet.String()+"/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got reconcile.StakeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(777), got.AmountStaked)
	assert.Equal(t, wallet, got.Wallet)
}

func TestApiServer_RefreshFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, WithRefresher(&mockRefresher{err: errors.New("rpc down")}))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/staking/"+solana.NewWallet().PublicKey().String()+"/refresh", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestApiServer_GetVaultCaches(t *testing.T) {
	t.Parallel()

	reader := &mockGlobalStateReader{gs: &staking.GlobalState{
		RewardRate:   100,
		TotalStaked:  5_000_000_000,
		StakersCount: 42,
		RewardPool:   1_000_000,
	}}
	s := newTestServer(t, WithGlobalStateReader(reader), WithVaultCacheTTL(time.Minute))
	handler := s.Handler()

	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vault", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got vaultStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, uint64(5_000_000_000), got.TotalStaked)
		assert.Equal(t, uint64(42), got.StakersCount)
		assert.InDelta(t, 365.0, got.CurrentAPY, 0.01)
	}
	assert.Equal(t, 1, reader.calls, "vault stats should be served from cache")
}

func TestApiServer_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, WithRecordStore(&mockRecordStore{stats: reconcile.Stats{Wallets: 7}}))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"wallets":7`)
}

func TestApiServer_WebhookMount(t *testing.T) {
	t.Parallel()

	called := false
	s := newTestServer(t, WithWebhookHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)

	// Without a handler the route does not exist.
	s2 := newTestServer(t)
	rec2 := httptest.NewRecorder()
	s2.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestApiServer_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewServer()
	require.Error(t, err)

	_, err = NewServer(WithRecordStore(&mockRecordStore{}))
	require.Error(t, err)
}

func TestApiServer_RunAndShutdown(t *testing.T) {
	s := newTestServer(t, WithListenAddr("127.0.0.1:18934"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run()
	}()
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", "127.0.0.1:18934"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown())
	require.NoError(t, <-errCh)
}
