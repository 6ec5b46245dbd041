package handler

import (
	"github.com/gin-gonic/gin"

	"taptoken/internal/middleware"
)

// NewRouter wires all API routes
func NewRouter(h *Handler, limiter *middleware.IPRateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(h.log))
	router.Use(middleware.Cors())
	if limiter != nil {
		router.Use(limiter.RateLimit())
	}

	router.GET("/api/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/treasury/info", h.TreasuryInfo)
		v1.POST("/validate-address", h.ValidateAddress)

		users := v1.Group("/users")
		{
			users.POST("", h.CreateUser)
			users.GET("/:username", h.GetUser)
			users.POST("/:username/taps", h.RegisterTaps)
			users.GET("/:username/withdrawals", h.WithdrawalHistory)
		}

		withdrawals := v1.Group("/withdrawals")
		{
			withdrawals.POST("", h.Withdraw)
			withdrawals.GET("/stats", h.AdminAuth(), h.WithdrawalStats)
			withdrawals.POST("/:id/retry", h.AdminAuth(), h.RetryWithdrawal)
		}
	}

	return router
}
