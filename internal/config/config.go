package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	ServerPort string
	MySQLDSN   string

	RedisAddr string
	RedisDB   int
	RedisPass string

	JWTSecret string

	// VaultMasterKey is the hex-encoded 32-byte master key for the secret
	// vault. It is supplied externally; the service never generates one.
	VaultMasterKey []byte

	ChainGatewayURL      string
	ChainSubmitTimeout   time.Duration
	FinalityPollInterval time.Duration
	FinalityPollAttempts int
	NetworkFee           string

	DecisionCacheTTL time.Duration

	ReconcileStaleAfter time.Duration
	ReconcileSchedule   string

	AMQPURL      string
	AMQPExchange string

	LogLevel string
}

// Load builds Config from environment with sensible defaults. It fails only
// on values that cannot be defaulted, like a malformed vault master key.
func Load() (*Config, error) {
	masterKeyHex := getEnv("VAULT_MASTER_KEY", "")
	var masterKey []byte
	if masterKeyHex != "" {
		var err error
		masterKey, err = hex.DecodeString(masterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode VAULT_MASTER_KEY: %w", err)
		}
	}

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		MySQLDSN:   getEnv("MYSQL_DSN", "user:password@tcp(localhost:3306)/tapcore?charset=utf8mb4&parseTime=True&loc=Local"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),
		RedisPass: os.Getenv("REDIS_PASSWORD"),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),

		VaultMasterKey: masterKey,

		ChainGatewayURL:      getEnv("CHAIN_GATEWAY_URL", "http://localhost:9090"),
		ChainSubmitTimeout:   getEnvDuration("CHAIN_SUBMIT_TIMEOUT", 10*time.Second),
		FinalityPollInterval: getEnvDuration("FINALITY_POLL_INTERVAL", time.Second),
		FinalityPollAttempts: getEnvInt("FINALITY_POLL_ATTEMPTS", 5),
		NetworkFee:           getEnv("NETWORK_FEE", "0.10"),

		DecisionCacheTTL: getEnvDuration("DECISION_CACHE_TTL", 5*time.Second),

		ReconcileStaleAfter: getEnvDuration("RECONCILE_STALE_AFTER", 2*time.Minute),
		ReconcileSchedule:   getEnv("RECONCILE_SCHEDULE", "@every 1m"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "tapcore.events"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
