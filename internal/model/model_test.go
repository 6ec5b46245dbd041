package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"solana": {
			"network": "devnet",
			"rpc_url": "https://api.devnet.solana.com",
			"token_mint": "So11111111111111111111111111111111111111112"
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1000), cfg.Withdrawal.MinAmount)
	assert.Equal(t, 5, cfg.Withdrawal.MaxPerBatch)
	assert.Equal(t, 3, cfg.Withdrawal.RetryAttempts)
	assert.Equal(t, 6, cfg.Solana.TokenDecimals)
	assert.Equal(t, uint64(5000), cfg.Solana.FeeFloorLamports)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.BurstSize)

	assert.Equal(t, 30*time.Second, cfg.Withdrawal.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.Withdrawal.InitialDelay())
	assert.Equal(t, 10*time.Second, cfg.Withdrawal.MinRunGap())
	assert.Equal(t, 2*time.Minute, cfg.Withdrawal.LockTimeout())
	assert.Equal(t, 2*time.Second, cfg.Withdrawal.RetryBackoff())
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"withdrawal": {
			"min_amount": 500,
			"poll_interval_seconds": 60,
			"retry_attempts": 1
		},
		"admin_api_key": "secret",
		"telegram": {"bot_token": "tok", "chat_id": 42}
	}`))
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.Withdrawal.MinAmount)
	assert.Equal(t, time.Minute, cfg.Withdrawal.PollInterval())
	assert.Equal(t, 1, cfg.Withdrawal.RetryAttempts)
	assert.Equal(t, "secret", cfg.AdminAPIKey)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "{not json"))
	assert.Error(t, err)
}
