package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"taptoken/internal/config"
	"taptoken/internal/database"
	"taptoken/internal/model"
	"taptoken/internal/notify"
	"taptoken/internal/solana"
	"taptoken/internal/withdrawal"
)

// Standalone withdrawal worker. Runs the same processor the API server
// embeds; the shared lock decides which instance actually polls.
func main() {
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
		sugar.Fatalw("failed to start withdrawal processor", "error", err)
	}
	if !processor.Running() {
		sugar.Infow("another processor instance holds the lock, exiting")
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Infow("shutting down withdrawal processor")
	processor.Stop()
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
