package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

// ClientConfig configures the offline POS client binary: where the backend
// lives, where the local durable queue is stored, and how often the
// background syncer retries.
type ClientConfig struct {
	ServerURL           string
	QueueDBPath         string
	SyncIntervalSeconds int
	Username            string
	Password            string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func LoadClient() ClientConfig {
	interval, err := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "30"))
	if err != nil || interval < 1 {
		interval = 30
	}

	return ClientConfig{
		ServerURL:           getEnv("SERVER_URL", "http://127.0.0.1:8080"),
		QueueDBPath:         getEnv("QUEUE_DB_PATH", "pos-queue.db"),
		SyncIntervalSeconds: interval,
		Username:            os.Getenv("POS_USERNAME"),
		Password:            os.Getenv("POS_PASSWORD"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
