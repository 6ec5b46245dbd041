package model

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// User represents a player account with its off-chain token balance
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	WalletAddress  string    `json:"wallet_address,omitempty"`
	Balance        int64     `json:"balance"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateUserRequest represents the request body for creating a user
type CreateUserRequest struct {
	Username      string `json:"username" binding:"required"`
	WalletAddress string `json:"wallet_address"`
}

// TapRequest represents a batch of click earnings reported by the game client
type TapRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type SolanaConfig struct {
	Network          string `json:"network"` // "mainnet-beta" or "devnet"
	RPCURL           string `json:"rpc_url"`
	TokenMint        string `json:"token_mint"`
	TokenDecimals    int    `json:"token_decimals"`
	FeeFloorLamports uint64 `json:"fee_floor_lamports"` // minimum SOL reserve for network fees
}

type WithdrawalConfig struct {
	MinAmount           int64 `json:"min_amount"`
	MaxPerBatch         int   `json:"max_per_batch"`
	PollIntervalSeconds int   `json:"poll_interval_seconds"`
	InitialDelaySeconds int   `json:"initial_delay_seconds"`
	MinRunGapSeconds    int   `json:"min_run_gap_seconds"`
	LockTimeoutSeconds  int   `json:"lock_timeout_seconds"`
	RetryAttempts       int   `json:"retry_attempts"`
	RetryBackoffSeconds int   `json:"retry_backoff_seconds"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second"`
	BurstSize         int `json:"burst_size"`
}

// Config holds the business configuration loaded from config.json
type Config struct {
	Solana      SolanaConfig     `json:"solana"`
	Withdrawal  WithdrawalConfig `json:"withdrawal"`
	AdminAPIKey string           `json:"admin_api_key"`
	Telegram    TelegramConfig   `json:"telegram"`
	RateLimit   RateLimitConfig  `json:"rate_limit"`
}

// LoadConfig reads and parses the business config file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %v", err)
	}

	cfg.Withdrawal.applyDefaults()
	if cfg.Solana.TokenDecimals == 0 {
		cfg.Solana.TokenDecimals = 6
	}
	if cfg.Solana.FeeFloorLamports == 0 {
		cfg.Solana.FeeFloorLamports = 5000
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}

	return cfg, nil
}

func (c *WithdrawalConfig) applyDefaults() {
	if c.MinAmount == 0 {
		c.MinAmount = 1000
	}
	if c.MaxPerBatch == 0 {
		c.MaxPerBatch = 5
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 30
	}
	if c.InitialDelaySeconds == 0 {
		c.InitialDelaySeconds = 5
	}
	if c.MinRunGapSeconds == 0 {
		c.MinRunGapSeconds = 10
	}
	if c.LockTimeoutSeconds == 0 {
		c.LockTimeoutSeconds = 120
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoffSeconds == 0 {
		c.RetryBackoffSeconds = 2
	}
}

func (c WithdrawalConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c WithdrawalConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

func (c WithdrawalConfig) MinRunGap() time.Duration {
	return time.Duration(c.MinRunGapSeconds) * time.Second
}

func (c WithdrawalConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

func (c WithdrawalConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}
