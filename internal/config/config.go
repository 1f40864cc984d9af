package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig configures the relay server process.
type ServerConfig struct {
	Addr        string
	RedisURL    string
	DatabaseURL string

	// WaitTimeout bounds how long a participant may occupy the waiting slot.
	WaitTimeout time.Duration

	NoticeDir      string
	AllowedOrigins []string
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL    string
	WaitTimeout  time.Duration
	PollInterval time.Duration
	NoticeDir    string
}

func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Addr:        ":8484",
		WaitTimeout: 45 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("QUEENFALL_ADDR")); v != "" {
		cfg.Addr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.NoticeDir = strings.TrimSpace(os.Getenv("QUEENFALL_NOTICE_DIR"))

	if v := strings.TrimSpace(os.Getenv("QUEENFALL_WAIT_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WaitTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUEENFALL_ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:    "http://127.0.0.1:8484",
		WaitTimeout:  45 * time.Second,
		PollInterval: 1500 * time.Millisecond,
	}

	if v := strings.TrimSpace(os.Getenv("QUEENFALL_SERVER_URL")); v != "" {
		cfg.ServerURL = strings.TrimRight(v, "/")
	}
	cfg.NoticeDir = strings.TrimSpace(os.Getenv("QUEENFALL_NOTICE_DIR"))
	if v := strings.TrimSpace(os.Getenv("QUEENFALL_WAIT_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WaitTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUEENFALL_POLL_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	return cfg, nil
}
