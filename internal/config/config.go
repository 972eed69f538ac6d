package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the sync engine's environment-driven settings.
type Config struct {
	DatabaseURL string
	UserID      int64

	FeedMode     string // "ws" or "amqp"
	FeedURL      string
	FeedToken    string
	AMQPURL      string
	FeedExchange string

	StorageEndpoint string
	StorageBucket   string
	StorageToken    string
	SignedURLTTL    time.Duration
	ChunkSize       int64

	CachePath string
	CacheTTL  time.Duration

	WriteTimeout time.Duration

	GatewayAddr   string
	GatewayToken  string
	EventExchange string
	Environment   string
}

// Load reads .env when present, then the environment.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded config from .env")
	}

	return Config{
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/chat?sslmode=disable"),
		UserID:      getEnvInt64("USER_ID", 0),

		FeedMode:     getEnv("FEED_MODE", "ws"),
		FeedURL:      getEnv("FEED_URL", "ws://localhost:8083/realtime"),
		FeedToken:    getEnv("FEED_TOKEN", ""),
		AMQPURL:      getEnv("AMQP_URL", ""),
		FeedExchange: getEnv("FEED_EXCHANGE", "chat.events"),

		StorageEndpoint: getEnv("STORAGE_ENDPOINT", "http://localhost:9000"),
		StorageBucket:   getEnv("STORAGE_BUCKET", "chat-media"),
		StorageToken:    getEnv("STORAGE_TOKEN", ""),
		SignedURLTTL:    getEnvDuration("SIGNED_URL_TTL", time.Hour),
		ChunkSize:       getEnvInt64("UPLOAD_CHUNK_SIZE", 6<<20),

		CachePath: getEnv("CACHE_PATH", "./data/cache"),
		CacheTTL:  getEnvDuration("CACHE_TTL", 24*time.Hour),

		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 15*time.Second),

		GatewayAddr:   getEnv("GATEWAY_ADDR", "127.0.0.1:8090"),
		GatewayToken:  getEnv("GATEWAY_TOKEN", ""),
		EventExchange: getEnv("EVENT_EXCHANGE", "client.diagnostics"),
		Environment:   getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, val, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, val, fallback)
		return fallback
	}
	return d
}
