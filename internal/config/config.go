package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port string
	Env  string

	DBDSN         string
	JWTSecret     string
	JWTTTL        time.Duration
	JWTRefreshTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ; empty URL records room activity inline
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	BacklogSize      int
	MaxMessageLength int
	SeedDemoContent  bool

	OTelStdout bool
	CORSOrigin string
}

// Load reads configuration from environment variables, picking up a .env
// file when one is present. It panics when production is started with the
// development JWT secret.
func Load() Config {
	_ = godotenv.Load()

	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/echoroom?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "file:echoroom.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = defaultJWTSecret
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ttl = d
		}
	}

	refreshTTL := 7 * 24 * time.Hour
	if v := os.Getenv("JWT_REFRESH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			refreshTTL = d
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "chat_events"
	}

	cfg := Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		DBDSN:     dsn,
		JWTSecret: secret,
		JWTTTL:    ttl,

		JWTRefreshTTL: refreshTTL,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       rabbitQueue,
		WorkerConcurrency: clamp(getInt("WORKER_CONCURRENCY", 2), 1, 50),

		BacklogSize:      clamp(getInt("BACKLOG_SIZE", 50), 1, 500),
		MaxMessageLength: clamp(getInt("MAX_MESSAGE_LENGTH", 4096), 1, 65536),
		SeedDemoContent:  getBool("SEED_DEMO_CONTENT", true),

		OTelStdout: getBool("OTEL_STDOUT", false),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:5173"),
	}

	if cfg.IsProduction() && cfg.JWTSecret == defaultJWTSecret {
		panic("JWT_SECRET is required in production")
	}
	return cfg
}

func (c Config) IsDevelopment() bool { return c.Env == "development" }

func (c Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
