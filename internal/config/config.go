// Package config loads the gateway configuration from flags and environment
// variables, with flags taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

const (
	defaultListenAddr   = ":8080"
	defaultRPCURL       = "https://api.mainnet-beta.solana.com"
	defaultWSURL        = "wss://api.mainnet-beta.solana.com"
	defaultPollInterval = 60 * time.Second
)

type Config struct {
	ShowVersion bool
	Verbose     bool

	ListenAddr string
	RPCURL     string
	WSURL      string

	ProgramID solana.PublicKey
	TokenMint solana.PublicKey

	// FeePayerKeypairPath, when set, loads a service key that covers fees and
	// partially signs built transactions.
	FeePayerKeypairPath string

	WebhookSigningSecret string
	WebhookAPIKey        string

	PollInterval time.Duration
	PollPoolSize int
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Load parses flags and the environment. A .env file in the working directory
// is loaded first when present.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	var programID, tokenMint, pollInterval, pollPoolSize string

	fs := flag.NewFlagSet("staking-gateway", flag.ContinueOnError)
	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	fs.BoolVar(&cfg.Verbose, "verbose", getenvBool("VERBOSE", false), "verbose mode - show debug logs (env: VERBOSE)")

	fs.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", defaultListenAddr), "address the http api listens on (env: LISTEN_ADDR)")
	fs.StringVar(&cfg.RPCURL, "rpc-url", getenv("RPC_URL", defaultRPCURL), "solana rpc endpoint (env: RPC_URL)")
	fs.StringVar(&cfg.WSURL, "ws-url", getenv("WS_URL", defaultWSURL), "solana websocket endpoint (env: WS_URL)")
	fs.StringVar(&programID, "program-id", getenv("PROGRAM_ID", staking.ProgramIDMainnet), "staking program id (env: PROGRAM_ID)")
	fs.StringVar(&tokenMint, "token-mint", getenv("TOKEN_MINT", staking.TokenMintMainnet), "staking token mint (env: TOKEN_MINT)")
	fs.StringVar(&cfg.FeePayerKeypairPath, "fee-payer-keypair", getenv("FEE_PAYER_KEYPAIR", ""), "path to the service fee payer keypair (env: FEE_PAYER_KEYPAIR)")
	fs.StringVar(&cfg.WebhookSigningSecret, "webhook-signing-secret", getenv("WEBHOOK_SIGNING_SECRET", ""), "hmac secret for webhook deliveries (env: WEBHOOK_SIGNING_SECRET)")
	fs.StringVar(&cfg.WebhookAPIKey, "webhook-api-key", getenv("WEBHOOK_API_KEY", ""), "static api key for webhook deliveries (env: WEBHOOK_API_KEY)")
	fs.StringVar(&pollInterval, "poll-interval", getenv("POLL_INTERVAL", ""), "on-chain poll interval (env: POLL_INTERVAL)")
	fs.StringVar(&pollPoolSize, "poll-pool-size", getenv("POLL_POOL_SIZE", ""), "poller worker pool size (env: POLL_POOL_SIZE)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	var err error
	cfg.ProgramID, err = solana.PublicKeyFromBase58(programID)
	if err != nil {
		return Config{}, fmt.Errorf("invalid program id %q: %w", programID, err)
	}
	cfg.TokenMint, err = solana.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return Config{}, fmt.Errorf("invalid token mint %q: %w", tokenMint, err)
	}

	cfg.PollInterval = defaultPollInterval
	if pollInterval != "" {
		cfg.PollInterval, err = time.ParseDuration(pollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("invalid poll interval %q: %w", pollInterval, err)
		}
	}
	if pollPoolSize != "" {
		cfg.PollPoolSize, err = strconv.Atoi(pollPoolSize)
		if err != nil {
			return Config{}, fmt.Errorf("invalid poll pool size %q: %w", pollPoolSize, err)
		}
	}

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc url is empty (set RPC_URL or --rpc-url)")
	}
	if cfg.WSURL == "" {
		return Config{}, fmt.Errorf("ws url is empty (set WS_URL or --ws-url)")
	}
	return cfg, nil
}
