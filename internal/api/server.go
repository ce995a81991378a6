// Package api exposes the gateway's HTTP surface: per-wallet stake records,
// vault statistics, forced refreshes, and the webhook ingest endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const vaultStatsCacheKey = "vault-stats"

// RecordStore serves reconciled per-wallet records. *reconcile.Cache
// satisfies it.
type RecordStore interface {
	Get(wallet solana.PublicKey) reconcile.StakeRecord
	Stats() reconcile.Stats
}

// Refresher re-reads a wallet's chain state on demand. *poller.Poller
// satisfies it.
type Refresher interface {
	ForceRefresh(ctx context.Context, wallet solana.PublicKey) (reconcile.StakeRecord, error)
}

// GlobalStateReader reads the program's global parameter account.
type GlobalStateReader interface {
	GetGlobalState(ctx context.Context) (*staking.GlobalState, error)
}

type Server struct {
	logger     *slog.Logger
	listenAddr string

	records     RecordStore
	refresher   Refresher
	globalState GlobalStateReader
	webhook     http.Handler

	vaultCache    *ttlcache.Cache[string, vaultStats]
	vaultCacheTTL time.Duration

	httpServer *http.Server
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithRecordStore sets the reconciled record source.
func WithRecordStore(records RecordStore) Option {
	return func(s *Server) {
		s.records = records
	}
}

// WithRefresher sets the on-demand chain refresher.
func WithRefresher(refresher Refresher) Option {
	return func(s *Server) {
		s.refresher = refresher
	}
}

// WithGlobalStateReader sets the source for vault statistics.
func WithGlobalStateReader(reader GlobalStateReader) Option {
	return func(s *Server) {
		s.globalState = reader
	}
}

// WithWebhookHandler mounts the webhook ingest endpoint.
func WithWebhookHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.webhook = handler
	}
}

// WithVaultCacheTTL overrides how long vault statistics are served from cache.
func WithVaultCacheTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.vaultCacheTTL = ttl
	}
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:        slog.Default(),
		listenAddr:    ":8080",
		vaultCacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if s.refresher == nil {
		return nil, fmt.Errorf("refresher is required")
	}
	if s.globalState == nil {
		return nil, fmt.Errorf("global state reader is required")
	}

	s.vaultCache = ttlcache.New(
		ttlcache.WithTTL[string, vaultStats](s.vaultCacheTTL),
	)
	return s, nil
}

// Handler builds the route table. Split out from Run so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /staking/{wallet}", s.handleGetStaking)
	mux.HandleFunc("POST /staking/{wallet}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /vault", s.handleGetVault)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.webhook != nil {
		mux.Handle("POST /webhook", s.webhook)
	}
	return mux
}

func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("api server starting", "address", s.listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", s.listenAddr, err)
	}
	return nil
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down api server")
	s.vaultCache.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) walletParam(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	wallet, err := solana.PublicKeyFromBase58(r.PathValue("wallet"))
	if err != nil {
		http.Error(w, "invalid wallet address", http.StatusBadRequest)
		return solana.PublicKey{}, false
	}
	return wallet, true
}

func (s *Server) handleGetStaking(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, s.records.Get(wallet))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.walletParam(w, r)
	if !ok {
		return
	}

	rec, err := s.refresher.ForceRefresh(r.Context(), wallet)
	if err != nil {
		s.logger.Error("forced refresh failed", "wallet", wallet, "error", err)
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, rec)
}

type vaultStats struct {
	TotalStaked  uint64  `json:"totalStaked"`
	StakersCount uint64  `json:"stakersCount"`
	CurrentAPY   float64 `json:"currentApy"`
	RewardPool   uint64  `json:"rewardPool"`
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	if cached := s.vaultCache.Get(vaultStatsCacheKey); cached != nil {
		s.writeJSON(w, cached.Value())
		return
	}

	gs, err := s.globalState.GetGlobalState(r.Context())
	if err != nil {
		s.logger.Error("failed to read global state", "error", err)
		http.Error(w, "vault state unavailable", http.StatusBadGateway)
		return
	}

	stats := vaultStats{
		TotalStaked:  gs.TotalStaked,
		StakersCount: gs.StakersCount,
		CurrentAPY:   gs.APY(),
		RewardPool:   gs.RewardPool,
	}
	s.vaultCache.Set(vaultStatsCacheKey, stats, ttlcache.DefaultTTL)
	s.writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":  "ok",
		"wallets": s.records.Stats().Wallets,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
