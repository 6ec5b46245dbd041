package model

import "time"

// Withdrawal statuses. A record is created as pending, claimed into processing
// by exactly one settlement attempt, and terminates in completed or failed.
// "sent" is accepted as a claim marker equivalent to "processing" so that
// records written by older deployments still settle.
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusSent       = "sent"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
)

// Withdrawal represents a single payout request. The user's balance is
// decremented only after the on-chain transfer is confirmed, never at
// creation time.
type Withdrawal struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	Amount        int64      `json:"amount"` // whole game-currency units
	WalletAddress string     `json:"wallet_address"`
	Status        string     `json:"status"`
	TxHash        string     `json:"tx_hash,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// WithdrawRequest represents the request body for withdrawing tokens
type WithdrawRequest struct {
	Username      string `json:"username" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// WithdrawResponse represents the response for a withdrawal request
type WithdrawResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"transaction_hash,omitempty"`
	Message string `json:"message,omitempty"`
}

// WithdrawalStats aggregates withdrawal records by status
type WithdrawalStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Processing      int   `json:"processing"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	TotalAmount     int64 `json:"total_amount"`
	CompletedAmount int64 `json:"completed_amount"`
}
