package config

import (
	"testing"
	"time"

	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, defaultRPCURL, cfg.RPCURL)
	require.Equal(t, staking.ProgramIDMainnet, cfg.ProgramID.String())
	require.Equal(t, staking.TokenMintMainnet, cfg.TokenMint.String())
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
}

func TestConfig_Flags(t *testing.T) {
	cfg, err := Load([]string{
		"--listen-addr", ":9090",
		"--poll-interval", "15s",
		"--poll-pool-size", "4",
		"--webhook-signing-secret", "s3cret",
	})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, 15*time.Second, cfg.PollInterval)
	require.Equal(t, 4, cfg.PollPoolSize)
	require.Equal(t, "s3cret", cfg.WebhookSigningSecret)
}

func TestConfig_EnvFallback(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.com")
	t.Setenv("PROGRAM_ID", staking.ProgramIDMainnet)

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.com", cfg.RPCURL)
}

func TestConfig_InvalidValues(t *testing.T) {
	_, err := Load([]string{"--program-id", "not-base58!"})
	require.Error(t, err)

	_, err = Load([]string{"--poll-interval", "soon"})
	require.Error(t, err)

	_, err = Load([]string{"--poll-pool-size", "many"})
	require.Error(t, err)
}
