package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	MigrateOnStart bool

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Connection and game limits
	MaxConnections    int
	MaxPlayersPerGame int
	MaxAnswerBuffer   int

	// Write batching
	WriteBatchSize      int
	WriteBatchTimeoutMs int

	// Latency probes
	LatencyPingSeconds int

	// Lifecycle
	DisconnectTTLMinutes int
	IdleGameMinutes      int
	GameRetentionHours   int

	// Presentation
	PanelLeaderboardSize int
	DefaultCategory      string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/kvizko?sslmode=disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Connection and game limits
		MaxConnections:    getEnvInt("MAX_CONNECTIONS", 1000),
		MaxPlayersPerGame: getEnvInt("MAX_PLAYERS_PER_GAME", 300),
		MaxAnswerBuffer:   getEnvInt("MAX_ANSWER_BUFFER", 500),

		// Write batching
		WriteBatchSize:      getEnvInt("WRITE_BATCH_SIZE", 50),
		WriteBatchTimeoutMs: getEnvInt("WRITE_BATCH_TIMEOUT_MS", 100),

		// Latency probes
		LatencyPingSeconds: getEnvInt("LATENCY_PING_SECONDS", 5),

		// Lifecycle
		DisconnectTTLMinutes: getEnvInt("DISCONNECT_TTL_MINUTES", 10),
		IdleGameMinutes:      getEnvInt("IDLE_GAME_MINUTES", 30),
		GameRetentionHours:   getEnvInt("GAME_RETENTION_HOURS", 24),

		// Presentation
		PanelLeaderboardSize: getEnvInt("PANEL_LEADERBOARD_SIZE", 10),
		DefaultCategory:      getEnv("DEFAULT_CATEGORY", "vseobecne"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
