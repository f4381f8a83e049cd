package config

import (
	"os"
	"strconv"
	"time"
)

type AuctionConfig struct {
	DepositAmount        int64
	Currency             string
	DefaultBidIncrement  int64
	DefaultAutoExtendMin int
	GatewayTimeout       time.Duration
	PaymentLinkTTL       time.Duration
}

func LoadAuctionConfig() *AuctionConfig {
	return &AuctionConfig{
		DepositAmount:        getEnvAsInt64("AUCTION_DEPOSIT_AMOUNT", 200),
		Currency:             getEnv("AUCTION_CURRENCY", "SAR"),
		DefaultBidIncrement:  getEnvAsInt64("AUCTION_DEFAULT_BID_INCREMENT", 500),
		DefaultAutoExtendMin: getEnvAsInt("AUCTION_DEFAULT_AUTO_EXTEND_MIN", 5),
		GatewayTimeout:       getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		PaymentLinkTTL:       getEnvAsDuration("PAYMENT_LINK_TTL", 15*time.Minute),
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

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
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
