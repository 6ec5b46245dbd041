package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	// Path to the JSON business config (chain, limits, admin key)
	AppConfigPath string
	// TreasuryPrivateKey stays in the environment: it must never appear in
	// config files that get copied around or served to clients.
	TreasuryPrivateKey string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 10)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./taptoken.db"),
		},
		AppConfigPath:      getEnv("CONFIG_PATH", "config.json"),
		TreasuryPrivateKey: getEnv("TREASURY_PRIVATE_KEY", ""),
	}
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}
