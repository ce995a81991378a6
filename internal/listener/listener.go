// Package listener subscribes to program log notifications over websocket and
// turns them into staking events for the reconciler.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/hatmlabs/staking-gateway/internal/metrics"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
)

// EventSink receives reconstructed staking events. *reconcile.Cache satisfies
// it; duplicate-signature conflicts are expected and not treated as failures.
type EventSink interface {
	Apply(ev reconcile.Event) error
}

// RPCClient is the subset of the RPC surface the listener needs to resolve
// wallets and amounts that the logs alone don't carry.
type RPCClient interface {
	GetTransaction(ctx context.Context, signature solana.Signature, opts *solanarpc.GetTransactionOpts) (*solanarpc.GetTransactionResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// LogsSubscription is a single active logs subscription.
type LogsSubscription interface {
	Recv(ctx context.Context) (*ws.LogResult, error)
	Unsubscribe()
}

// Connection is an established websocket connection.
type Connection interface {
	LogsSubscribeMentions(mentions solana.PublicKey, commitment solanarpc.CommitmentType) (LogsSubscription, error)
	Close()
}

// Dialer establishes a websocket connection. Injectable for tests.
type Dialer func(ctx context.Context) (Connection, error)

type wsConnection struct {
	client *ws.Client
}

func (c *wsConnection) LogsSubscribeMentions(mentions solana.PublicKey, commitment solanarpc.CommitmentType) (LogsSubscription, error) {
	return c.client.LogsSubscribeMentions(mentions, commitment)
}

func (c *wsConnection) Close() {
	c.client.Close()
}

// WSDialer dials the given websocket endpoint.
func WSDialer(endpoint string) Dialer {
	return func(ctx context.Context) (Connection, error) {
		client, err := ws.Connect(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
		}
		return &wsConnection{client: client}, nil
	}
}

type Config struct {
	Logger    *slog.Logger
	Dialer    Dialer
	RPC       RPCClient
	Sink      EventSink
	ProgramID solana.PublicKey
	TokenMint solana.PublicKey

	InitialBackoff      time.Duration // defaults to 1s
	MaxBackoff          time.Duration // defaults to 1m
	HealthCheckInterval time.Duration // defaults to 30s
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Dialer == nil {
		return errors.New("dialer is required")
	}
	if c.RPC == nil {
		return errors.New("rpc client is required")
	}
	if c.Sink == nil {
		return errors.New("event sink is required")
	}
	if c.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if c.TokenMint.IsZero() {
		return errors.New("token mint is required")
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	return nil
}

// Listener converts program log notifications into staking events.
type Listener struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid listener config: %w", err)
	}
	return &Listener{
		log: cfg.Logger.With("component", "listener"),
		cfg: cfg,
	}, nil
}

// Run subscribes and processes notifications until ctx is cancelled,
// reconnecting with exponential backoff on failure.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info("listener starting", "program", l.cfg.ProgramID)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.InitialInterval = l.cfg.InitialBackoff
	bo.MaxInterval = l.cfg.MaxBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := l.subscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.ListenerReconnectsTotal.Inc()
			wait := bo.NextBackOff()
			l.log.Error("subscription failed", "error", err, "reconnecting_in", wait)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		} else {
			bo.Reset()
		}
	}
}

func (l *Listener) subscribe(ctx context.Context) error {
	conn, err := l.cfg.Dialer(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, err := conn.LogsSubscribeMentions(l.cfg.ProgramID, solanarpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("failed to subscribe to program logs: %w", err)
	}
	defer sub.Unsubscribe()

	l.log.Debug("subscribed to program logs")

	healthTicker := time.NewTicker(l.cfg.HealthCheckInterval)
	defer healthTicker.Stop()

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type recvResult struct {
		res *ws.LogResult
		err error
	}
	results := make(chan recvResult)
	go func() {
		for {
			res, err := sub.Recv(recvCtx)
			select {
			case results <- recvResult{res, err}:
			case <-recvCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-healthTicker.C:
			healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := l.cfg.RPC.GetHealth(healthCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("rpc health check failed: %w", err)
			}
		case r := <-results:
			if r.err != nil {
				return fmt.Errorf("subscription receive failed: %w", r.err)
			}
			l.handleNotification(ctx, r.res)
		}
	}
}

func (l *Listener) handleNotification(ctx context.Context, res *ws.LogResult) {
	if res == nil {
		return
	}
	if res.Value.Err != nil {
		// Failed transaction, nothing to reconcile.
		metrics.ListenerEventsTotal.WithLabelValues("failed_tx").Inc()
		return
	}

	sig := res.Value.Signature
	kind, amount := classifyLogs(res.Value.Logs)
	if kind == reconcile.KindUnknown {
		l.log.Debug("unclassifiable log notification", "sig", sig)
		metrics.ListenerEventsTotal.WithLabelValues("unclassified").Inc()
		return
	}

	wallet := walletFromLogs(res.Value.Logs, l.cfg.ProgramID, l.cfg.TokenMint)
	if wallet.IsZero() || amount == 0 {
		fbWallet, fbAmount, err := l.resolveFromTransaction(ctx, sig, kind)
		if err != nil {
			l.log.Warn("failed to resolve event from transaction, discarding",
				"sig", sig, "kind", kind, "error", err)
			metrics.ListenerEventsTotal.WithLabelValues("resolve_failed").Inc()
			return
		}
		if wallet.IsZero() {
			wallet = fbWallet
		}
		if amount == 0 {
			amount = fbAmount
		}
	}

	if wallet.IsZero() {
		// Without a wallet the event cannot be attributed to anyone.
		l.log.Warn("could not determine wallet for event, discarding", "sig", sig, "kind", kind)
		metrics.ListenerEventsTotal.WithLabelValues("no_wallet").Inc()
		return
	}
	if amount == 0 && kind != reconcile.KindClaim {
		// No amount anywhere: record the smallest possible movement so the
		// wallet at least shows up for the next poll to correct.
		amount = 1
	}

	ev := reconcile.Event{
		Kind:       kind,
		Wallet:     wallet,
		Amount:     amount,
		Signature:  sig.String(),
		Source:     reconcile.SourceOnChain,
		ObservedAt: time.Now(),
	}
	if err := l.cfg.Sink.Apply(ev); err != nil {
		if errors.Is(err, reconcile.ErrConflict) {
			metrics.ListenerEventsTotal.WithLabelValues("duplicate").Inc()
			return
		}
		l.log.Error("failed to apply event", "sig", sig, "error", err)
		metrics.ListenerEventsTotal.WithLabelValues("apply_failed").Inc()
		return
	}
	l.log.Debug("applied event", "sig", sig, "kind", kind, "wallet", wallet, "amount", amount)
	metrics.ListenerEventsTotal.WithLabelValues("applied").Inc()
}

// Runtime and sysvar ids that show up in CPI frame lines and account lists
// but can never be the staker.
var runtimeKeys = map[solana.PublicKey]struct{}{
	solana.TokenProgramID:                     {},
	solana.Token2022ProgramID:                 {},
	solana.SystemProgramID:                    {},
	solana.SPLAssociatedTokenAccountProgramID: {},
	solana.SysVarRentPubkey:                   {},
	solana.SysVarClockPubkey:                  {},
}

// walletFromLogs scans program-emitted payload lines for a base58 public key
// that isn't the program, the mint or a runtime id. Only "Program log:" lines
// are considered: invoke/success frame lines mention CPI program ids such as
// the SPL token program, which would otherwise be misread as the staker.
// Program logs that print the staker make the GetTransaction fallback
// unnecessary.
func walletFromLogs(logs []string, programID, mint solana.PublicKey) solana.PublicKey {
	for _, line := range logs {
		payload, ok := strings.CutPrefix(line, "Program log: ")
		if !ok {
			continue
		}
		for _, field := range strings.Fields(payload) {
			field = strings.Trim(field, ",.:;()[]")
			if len(field) < 32 || len(field) > 44 {
				continue
			}
			pk, err := solana.PublicKeyFromBase58(field)
			if err != nil {
				continue
			}
			if pk.Equals(programID) || pk.Equals(mint) || pk.IsZero() {
				continue
			}
			if _, runtime := runtimeKeys[pk]; runtime {
				continue
			}
			return pk
		}
	}
	return solana.PublicKey{}
}

// resolveFromTransaction fetches the transaction and derives the wallet and
// amount from its token balance changes on the staking mint. A stake shows up
// as a decrease in the owner's token balance, an unstake as an increase.
func (l *Listener) resolveFromTransaction(ctx context.Context, sig solana.Signature, kind reconcile.Kind) (solana.PublicKey, uint64, error) {
	maxVersion := uint64(0)
	res, err := l.cfg.RPC.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
		Commitment:                     solanarpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if res == nil || res.Meta == nil {
		return solana.PublicKey{}, 0, fmt.Errorf("transaction %s has no metadata", sig)
	}

	pre := make(map[solana.PublicKey]uint64)
	for _, b := range res.Meta.PreTokenBalances {
		if b.Mint.Equals(l.cfg.TokenMint) && b.Owner != nil {
			pre[*b.Owner] += parseTokenAmount(b.UiTokenAmount)
		}
	}
	for _, b := range res.Meta.PostTokenBalances {
		if !b.Mint.Equals(l.cfg.TokenMint) || b.Owner == nil {
			continue
		}
		owner := *b.Owner
		post := parseTokenAmount(b.UiTokenAmount)
		before := pre[owner]
		if owner.Equals(l.cfg.ProgramID) {
			continue
		}
		switch kind {
		case reconcile.KindStake:
			if post < before {
				return owner, before - post, nil
			}
		case reconcile.KindUnstake, reconcile.KindClaim:
			if post > before {
				return owner, post - before, nil
			}
		}
	}
	return solana.PublicKey{}, 0, fmt.Errorf("no matching token balance change for %s", sig)
}

func parseTokenAmount(ui *solanarpc.UiTokenAmount) uint64 {
	if ui == nil {
		return 0
	}
	amount, err := strconv.ParseUint(ui.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}
