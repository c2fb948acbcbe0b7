package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider modes, selected from the environment. Missing transport
// credentials are not an error: the module recognizes that as degraded
// (local-only) operation.
const (
	ModePostgres = "postgres"
	ModeRedis    = "redis"
	ModeDegraded = "degraded"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Chat        ChatConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ChatConfig struct {
	// StateDir holds the participant identity file and, in degraded
	// mode, the JSON shadow of the in-memory store. Empty disables
	// client-local persistence.
	StateDir string
	// HistoryTTL bounds how long room history survives in the redis
	// provider. Rooms are live bounded-duration sessions.
	HistoryTTL time.Duration
	// RateLimit / RateLimitWindow apply to write endpoints when redis
	// is configured.
	RateLimit       int
	RateLimitWindow time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Chat: ChatConfig{
			StateDir:        getEnv("CHAT_STATE_DIR", defaultStateDir()),
			HistoryTTL:      getEnvAsDuration("CHAT_HISTORY_TTL", 6*time.Hour),
			RateLimit:       getEnvAsInt("CHAT_RATE_LIMIT", 100),
			RateLimitWindow: getEnvAsDuration("CHAT_RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Mode reports which transport provider the configuration selects.
func (c *Config) Mode() string {
	if c.Database.DSN != "" {
		return ModePostgres
	}
	if c.Redis.Addr != "" {
		return ModeRedis
	}
	return ModeDegraded
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Chat.HistoryTTL <= 0 {
		return fmt.Errorf("chat history TTL must be positive")
	}
	return nil
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir + string(os.PathSeparator) + "ephemeral_chat"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
