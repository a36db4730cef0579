package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the relay service.
type Config struct {
	Env      string
	HTTPPort string

	// Chain access. An empty RelayerKey puts the queue in degraded mode:
	// enqueue still works, nothing is dispatched.
	RPCURL         string
	ChainID        int64
	RelayerKey     string
	GameLogAddr    string
	GameNFTAddr    string
	GasLimit       uint64
	ConfirmTimeout time.Duration

	// Queue retry policy.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// How long terminal operations stay queryable in memory.
	RetentionWindow time.Duration

	// Optional Postgres archive of terminal operations. Empty disables it.
	PostgresDSN string

	// Optional Redis-backed enqueue rate limiting. Empty addr disables it.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	// Optional S3 publishing of NFT metadata and snapshots.
	S3Bucket      string
	S3BaseURL     string
	SnapshotEdge  int
	SnapshotLimit int64
}

// Load reads configuration from environment variables with defaults suited
// to a local testnet setup.
func Load() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		RPCURL:            getEnv("RPC_URL", "http://localhost:8545"),
		ChainID:           getEnvInt64("CHAIN_ID", 31337),
		RelayerKey:        getEnv("RELAYER_PRIVATE_KEY", ""),
		GameLogAddr:       getEnv("GAME_LOG_ADDRESS", ""),
		GameNFTAddr:       getEnv("GAME_NFT_ADDRESS", ""),
		GasLimit:          uint64(getEnvInt64("GAS_LIMIT", 500000)),
		ConfirmTimeout:    getEnvDuration("CONFIRM_TIMEOUT", 90*time.Second),
		MaxAttempts:       getEnvInt("MAX_ATTEMPTS", 3),
		BackoffBase:       getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffCap:        getEnvDuration("BACKOFF_CAP", 30*time.Second),
		RetentionWindow:   getEnvDuration("RETENTION_WINDOW", time.Hour),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3BaseURL:         getEnv("S3_BASE_URL", ""),
		SnapshotEdge:      getEnvInt("SNAPSHOT_EDGE_PX", 512),
		SnapshotLimit:     getEnvInt64("SNAPSHOT_MAX_BYTES", 2*1024*1024),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
