package config

import (
	"os"
	"strconv"
	"time"
)

type DepositConfig struct {
	// ReservationTimeout bounds how long a PENDING deposit record can
	// block its tx hash before a later request may reclaim it.
	ReservationTimeout time.Duration
	// WalletAddress is the platform's on-chain deposit address, shown
	// to users together with a QR code.
	WalletAddress string
	// RateCacheTTL is how long the latest exchange rate config is
	// served from Redis before re-reading the database.
	RateCacheTTL time.Duration
	// ReplayCacheTTL is how long a confirmed deposit response is kept
	// in Redis for the idempotent-replay fast path.
	ReplayCacheTTL time.Duration
	MaxHistoryPage int
}

func LoadDepositConfig() *DepositConfig {
	return &DepositConfig{
		ReservationTimeout: getEnvAsDuration("DEPOSIT_RESERVATION_TIMEOUT", 2*time.Minute),
		WalletAddress:      getEnv("DEPOSIT_WALLET_ADDRESS", ""),
		RateCacheTTL:       getEnvAsDuration("EXCHANGE_RATE_CACHE_TTL", 30*time.Second),
		ReplayCacheTTL:     getEnvAsDuration("DEPOSIT_REPLAY_CACHE_TTL", 24*time.Hour),
		MaxHistoryPage:     getEnvAsInt("DEPOSIT_MAX_HISTORY_PAGE", 100),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
