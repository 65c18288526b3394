// Package config loads the relay's runtime configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the relay reads at startup. All values are
// environment variables prefixed with CHATTERBOX (e.g. CHATTERBOX_PORT).
type Config struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	DBPath          string        `envconfig:"DB_PATH" default:"data/chatterbox.db"`
	Room            string        `envconfig:"ROOM" default:"chat_group"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"25"`
	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"64"`
	RateLimit       float64       `envconfig:"RATE_LIMIT" default:"5"`
	RateBurst       int           `envconfig:"RATE_BURST" default:"10"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"4096"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ShutdownGrace   time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
}

// Load reads .env (if present) and the process environment into a Config.
// Non-positive numeric values are replaced with their defaults rather than
// rejected, so a half-filled .env cannot wedge the process.
func Load() (Config, error) {
	// Ignore the error: a missing .env just means plain env vars.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("chatterbox", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	return sanitize(cfg), nil
}

func sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Room == "" {
		cfg.Room = "chat_group"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 25
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return cfg
}
