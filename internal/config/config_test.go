package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Mode)
	assert.True(t, cfg.Venues.PaperTrading, "defaults must not trade real capital")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.RPC.Endpoint = ""
	cfg.Risk.ReserveFraction = 0.5 // fractions now sum to 1.3
	cfg.Exits.TrailingPercent = 1.5
	cfg.Router.MaxRetries = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "yolo"`)
	assert.Contains(t, msg, "rpc: endpoint")
	assert.Contains(t, msg, "pool fractions must sum to 1.0")
	assert.Contains(t, msg, "trailing_percent")
	assert.Contains(t, msg, "max_retries")
}

func TestValidateLiveModeRequiresKeySource(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")

	cfg.Wallet.EncryptedKeyPath = "/etc/soltrader/key.enc"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password is required")

	cfg.Wallet.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestValidateJitoOnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Jito.TipLamports = 0
	require.NoError(t, cfg.Validate(), "disabled jito is not validated")

	cfg.Jito.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tip_lamports")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soltrader.toml")
	body := `
mode = "monitor"

[risk]
initial_capital_sol = 25.0
max_positions = 8

[exits]
max_hold_time = "2h"
stop_loss_percent = 0.10

[redis]
addr = "redis.internal:6380"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 25.0, cfg.Risk.InitialCapitalSol)
	assert.Equal(t, 8, cfg.Risk.MaxPositions)
	assert.Equal(t, 2*time.Hour, cfg.Exits.MaxHoldTime.Duration)
	assert.Equal(t, 0.10, cfg.Exits.StopLossPercent)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://quote-api.jup.ag/v6", cfg.Venues.JupiterHost)
	assert.Equal(t, 0.20, cfg.Exits.ScaledExitFraction)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soltrader.toml")
	body := `
[rpc]
endpoint = "https://file.example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("SOLTRADER_RPC_ENDPOINT", "https://env.example.com")
	t.Setenv("SOLTRADER_MODE", "monitor")
	t.Setenv("SOLTRADER_RISK_MAX_POSITIONS", "2")
	t.Setenv("SOLTRADER_VENUES_PAPER_TRADING", "false")
	t.Setenv("SOLTRADER_MONITOR_TICK_INTERVAL", "7s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.RPC.Endpoint)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 2, cfg.Risk.MaxPositions)
	assert.False(t, cfg.Venues.PaperTrading)
	assert.Equal(t, 7*time.Second, cfg.Monitor.TickInterval.Duration)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soltrader.toml")
	body := `
[exits]
max_hold_time = "four hours"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
