package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taptoken/internal/database"
	"taptoken/internal/model"
	"taptoken/internal/withdrawal"
)

// WalletInfo is the read-only slice of the chain client the API needs
type WalletInfo interface {
	ValidateAddress(addr string) bool
	TreasuryAddress() string
	TokenMint() string
	Network() string
}

// Handler manages HTTP request handling and business logic
type Handler struct {
	db      *database.Database
	config  model.Config
	engine  *withdrawal.Engine
	monitor *withdrawal.Monitor
	wallet  WalletInfo
	log     *zap.SugaredLogger
}

func NewHandler(db *database.Database, cfg model.Config, engine *withdrawal.Engine, monitor *withdrawal.Monitor, wallet WalletInfo, log *zap.SugaredLogger) *Handler {
	return &Handler{
		db:      db,
		config:  cfg,
		engine:  engine,
		monitor: monitor,
		wallet:  wallet,
		log:     log,
	}
}

// AdminAuth middleware checks if the request has a valid admin API key
func (h *Handler) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if h.config.AdminAPIKey == "" || apiKey != h.config.AdminAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.Response{
				Success: false,
				Error:   "invalid API key",
			})
			return
		}
		c.Next()
	}
}

// Health reports service and treasury status
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"treasury": h.wallet.TreasuryAddress() != "",
		"network":  h.wallet.Network(),
		"time":     time.Now().Format(time.RFC3339),
	})
}

// TreasuryInfo returns the treasury public key and token mint (no secrets)
func (h *Handler) TreasuryInfo(c *gin.Context) {
	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Data: gin.H{
			"public_key": h.wallet.TreasuryAddress(),
			"token_mint": h.wallet.TokenMint(),
			"network":    h.wallet.Network(),
		},
	})
}

// ValidateAddress checks a wallet address without touching the chain
func (h *Handler) ValidateAddress(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": "no address provided"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.wallet.ValidateAddress(req.Address)})
}

// CreateUser handles user creation requests
func (h *Handler) CreateUser(c *gin.Context) {
	var req model.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	user, err := h.db.CreateUser(c.Request.Context(), req.Username, req.WalletAddress)
	if err != nil {
		if errors.Is(err, database.ErrUserExists) {
			c.JSON(http.StatusConflict, model.Response{
				Success: false,
				Error:   "user already exists",
			})
			return
		}
		h.log.Errorw("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to create user",
		})
		return
	}

	c.JSON(http.StatusCreated, model.Response{Success: true, Data: user})
}

// GetUser returns a user with its current ledger balance
func (h *Handler) GetUser(c *gin.Context) {
	user, ok := h.lookupUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: user})
}

// RegisterTaps credits a batch of click earnings to the user's balance
func (h *Handler) RegisterTaps(c *gin.Context) {
	user, ok := h.lookupUser(c)
	if !ok {
		return
	}

	var req model.TapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	if err := h.db.AddBalance(c.Request.Context(), user.ID, req.Amount); err != nil {
		h.log.Errorw("failed to credit taps", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to update balance",
		})
		return
	}

	balance, err := h.db.GetBalance(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Errorw("failed to read balance", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{"balance": balance}})
}

// Withdraw creates a withdrawal request and settles it inline. The record is
// created in pending with the balance untouched; the settlement engine debits
// the ledger only after the transfer is confirmed on-chain.
func (h *Handler) Withdraw(c *gin.Context) {
	var req model.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	user, err := h.db.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, model.Response{
			Success: false,
			Error:   "user not found",
		})
		return
	}

	// Cheap rejections before a record is even created. The engine re-checks
	// all of these; failing here just avoids burning record IDs on requests
	// that can never settle.
	if req.Amount < h.config.Withdrawal.MinAmount {
		c.JSON(http.StatusBadRequest, model.WithdrawResponse{
			Success: false,
			Message: "minimum withdrawal amount is " + strconv.FormatInt(h.config.Withdrawal.MinAmount, 10) + " tokens",
		})
		return
	}
	if !h.wallet.ValidateAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, model.WithdrawResponse{
			Success: false,
			Message: "invalid wallet address",
		})
		return
	}
	if user.Balance < req.Amount {
		c.JSON(http.StatusBadRequest, model.WithdrawResponse{
			Success: false,
			Message: "insufficient balance",
		})
		return
	}

	rec, err := h.db.CreateWithdrawal(c.Request.Context(), user.ID, req.Amount, req.WalletAddress)
	if err != nil {
		h.log.Errorw("failed to create withdrawal", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to create withdrawal request",
		})
		return
	}

	res := h.engine.Settle(c.Request.Context(), rec)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, model.WithdrawResponse{
		Success: res.Success,
		TxHash:  res.TxHash,
		Message: res.Message,
	})
}

// WithdrawalHistory returns a user's withdrawals, newest first
func (h *Handler) WithdrawalHistory(c *gin.Context) {
	user, ok := h.lookupUser(c)
	if !ok {
		return
	}

	withdrawals, err := h.db.WithdrawalsByUser(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Errorw("failed to fetch withdrawal history", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to fetch withdrawal history",
		})
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: withdrawals})
}

// WithdrawalStats returns aggregate counts and amounts by status (admin only)
func (h *Handler) WithdrawalStats(c *gin.Context) {
	stats, err := h.monitor.Stats(c.Request.Context())
	if err != nil {
		h.log.Errorw("failed to fetch withdrawal stats", "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to fetch withdrawal stats",
		})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: stats})
}

// RetryWithdrawal resets a failed withdrawal to pending (admin only).
// The poll loop picks it up on the next cycle.
func (h *Handler) RetryWithdrawal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid withdrawal id",
		})
		return
	}

	changed, err := h.monitor.RetryFailed(c.Request.Context(), id)
	if err != nil {
		h.log.Errorw("failed to retry withdrawal", "withdrawal_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to retry withdrawal",
		})
		return
	}
	if !changed {
		c.JSON(http.StatusConflict, model.Response{
			Success: false,
			Error:   "withdrawal is not in failed status",
		})
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true})
}

func (h *Handler) lookupUser(c *gin.Context) (model.User, bool) {
	user, err := h.db.GetUserByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Response{
			Success: false,
			Error:   "user not found",
		})
		return model.User{}, false
	}
	return user, true
}
