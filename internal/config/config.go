package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Auth   AuthConfig
	Redis  RedisConfig
	Scan   ScanConfig
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	RateBurst       int
	RatePerSecond   int
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type AuthConfig struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ScanConfig controls the QR scan session behavior.
type ScanConfig struct {
	TokenTTL         time.Duration
	ReconnectBackoff time.Duration
	MaxReconnects    int
}

// Load reads configuration from WYECARE_* environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Addr:            getEnv("WYECARE_HTTP_ADDR", ":8080"),
			ReadTimeout:     getDuration("WYECARE_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration("WYECARE_HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDuration("WYECARE_HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDuration("WYECARE_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    getInt64("WYECARE_HTTP_MAX_BODY_BYTES", 1<<20),
			RateBurst:       getInt("WYECARE_HTTP_RATE_BURST", 40),
			RatePerSecond:   getInt("WYECARE_HTTP_RATE_PER_SECOND", 20),
		},
		DB: DBConfig{
			DSN:          os.Getenv("WYECARE_PG_DSN"),
			MaxOpenConns: getInt("WYECARE_PG_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getInt("WYECARE_PG_MAX_IDLE_CONNS", 10),
		},
		Auth: AuthConfig{
			Secret:    os.Getenv("WYECARE_AUTH_SECRET"),
			Issuer:    getEnv("WYECARE_AUTH_ISSUER", "wyecare"),
			AccessTTL: getDuration("WYECARE_AUTH_ACCESS_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("WYECARE_REDIS_ADDR"),
			Password: os.Getenv("WYECARE_REDIS_PASSWORD"),
			DB:       getInt("WYECARE_REDIS_DB", 0),
		},
		Scan: ScanConfig{
			TokenTTL:         getDuration("WYECARE_SCAN_TOKEN_TTL", 10*time.Minute),
			ReconnectBackoff: getDuration("WYECARE_SCAN_RECONNECT_BACKOFF", 3*time.Second),
			MaxReconnects:    getInt("WYECARE_SCAN_MAX_RECONNECTS", 5),
		},
	}
	if cfg.Server.RatePerSecond <= 0 {
		return Config{}, fmt.Errorf("config: WYECARE_HTTP_RATE_PER_SECOND must be positive")
	}
	if cfg.Scan.MaxReconnects < 0 {
		return Config{}, fmt.Errorf("config: WYECARE_SCAN_MAX_RECONNECTS must not be negative")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
