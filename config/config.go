package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Stream
	StreamURL      string
	PairConfigPath string
	FetchUniverse  bool

	// Infrastructure
	RedisAddr     string // empty disables the Redis mirror
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Indicators
	ROCPeriod int

	// Broadcast
	BusBuffer int
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	return &Config{
		StreamURL:      getEnv("STREAM_URL", "wss://stream.binance.com:9443/ws"),
		PairConfigPath: getEnv("PAIR_CONFIG", "config/pairs.json"),
		FetchUniverse:  getEnvBool("FETCH_UNIVERSE", true),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/stream.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		ROCPeriod: getEnvInt("ROC_PERIOD", 14),

		BusBuffer: getEnvInt("BUS_BUFFER", 256),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return b
}
