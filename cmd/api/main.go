package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"taptoken/internal/config"
	"taptoken/internal/database"
	"taptoken/internal/handler"
	"taptoken/internal/middleware"
	"taptoken/internal/model"
	"taptoken/internal/notify"
	"taptoken/internal/solana"
	"taptoken/internal/withdrawal"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	appCfg, err := model.LoadConfig(cfg.AppConfigPath)
	if err != nil {
		sugar.Fatalw("failed to load business config", "path", cfg.AppConfigPath, "error", err)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		sugar.Fatalw("failed to initialize database", "error", err)
	}
	defer db.Close()

	wallet, err := solana.NewClient(appCfg.Solana, cfg.TreasuryPrivateKey, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize treasury client", "error", err)
	}

	alerter, err := notify.NewTelegram(appCfg.Telegram, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize telegram alerting", "error", err)
	}

	engine := withdrawal.NewEngine(db, db, wallet, alerter, withdrawal.EngineConfig{
		MinWithdrawal: appCfg.Withdrawal.MinAmount,
		RetryAttempts: appCfg.Withdrawal.RetryAttempts,
		RetryBackoff:  appCfg.Withdrawal.RetryBackoff(),
	}, sugar)

	processor := withdrawal.NewProcessor(db, db, engine, withdrawal.ProcessorConfig{
		PollInterval: appCfg.Withdrawal.PollInterval(),
		InitialDelay: appCfg.Withdrawal.InitialDelay(),
		MinRunGap:    appCfg.Withdrawal.MinRunGap(),
		LockTimeout:  appCfg.Withdrawal.LockTimeout(),
		BatchSize:    appCfg.Withdrawal.MaxPerBatch,
	}, sugar)

	if err := processor.Start(context.Background()); err != nil {
		sugar.Errorw("failed to start withdrawal processor", "error", err)
	}

	monitor := withdrawal.NewMonitor(db)
	h := handler.NewHandler(db, appCfg, engine, monitor, wallet, sugar)
	rateLimiter := middleware.NewIPRateLimiter(appCfg.RateLimit)
	router := handler.NewRouter(h, rateLimiter)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sugar.Infow("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Infow("shutting down")
	processor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		sugar.Errorw("server shutdown failed", "error", err)
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
