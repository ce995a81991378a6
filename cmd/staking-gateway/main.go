package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/hatmlabs/staking-gateway/internal/api"
	"github.com/hatmlabs/staking-gateway/internal/config"
	"github.com/hatmlabs/staking-gateway/internal/listener"
	"github.com/hatmlabs/staking-gateway/internal/metrics"
	"github.com/hatmlabs/staking-gateway/internal/poller"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
	"github.com/hatmlabs/staking-gateway/internal/webhook"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/lmittmann/tint"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	program := staking.Program{
		ID:        cfg.ProgramID,
		TokenMint: cfg.TokenMint,
		Decimals:  staking.TokenDecimals,
	}
	if err := program.Validate(); err != nil {
		return fmt.Errorf("invalid program config: %w", err)
	}

	var feePayer *solana.PrivateKey
	if cfg.FeePayerKeypairPath != "" {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.FeePayerKeypairPath)
		if err != nil {
			return fmt.Errorf("failed to load fee payer keypair: %w", err)
		}
		feePayer = &key
		log.Info("loaded service fee payer", "pubkey", key.PublicKey())
	}

	rpcClient := solanarpc.New(cfg.RPCURL)
	client, err := staking.NewClient(&staking.ClientConfig{
		Logger:   log,
		RPC:      rpcClient,
		Program:  program,
		FeePayer: feePayer,
	})
	if err != nil {
		return fmt.Errorf("failed to create staking client: %w", err)
	}

	cache, err := reconcile.NewCache(&reconcile.CacheConfig{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create reconciler cache: %w", err)
	}
	defer cache.Close()

	ingestor, err := webhook.NewIngestor(&webhook.IngestorConfig{
		Logger:        log,
		ProgramID:     cfg.ProgramID,
		TokenMint:     cfg.TokenMint,
		SigningSecret: cfg.WebhookSigningSecret,
		APIKey:        cfg.WebhookAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook ingestor: %w", err)
	}

	logListener, err := listener.New(&listener.Config{
		Logger:    log,
		Dialer:    listener.WSDialer(cfg.WSURL),
		RPC:       rpcClient,
		Sink:      cache,
		ProgramID: cfg.ProgramID,
		TokenMint: cfg.TokenMint,
	})
	if err != nil {
		return fmt.Errorf("failed to create log listener: %w", err)
	}

	chainPoller, err := poller.New(&poller.Config{
		Logger:   log,
		Reader:   client,
		Cache:    cache,
		Interval: cfg.PollInterval,
		PoolSize: cfg.PollPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}

	server, err := api.NewServer(
		api.WithLogger(log),
		api.WithListenAddr(cfg.ListenAddr),
		api.WithRecordStore(cache),
		api.WithRefresher(chainPoller),
		api.WithGlobalStateReader(client),
		api.WithWebhookHandler(ingestor.Handler(cache)),
	)
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		if err := logListener.Run(ctx); err != nil {
			errCh <- fmt.Errorf("listener failed: %w", err)
		}
	}()
	go func() {
		if err := chainPoller.Run(ctx); err != nil {
			errCh <- fmt.Errorf("poller failed: %w", err)
		}
	}()
	go func() {
		if err := server.Run(); err != nil {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Error("api server shutdown failed", "error", err)
		}
		return nil
	case err := <-errCh:
		cancel()
		_ = server.Shutdown()
		return err
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
	}))
}
