package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds daemon configuration sourced from the environment.
// A .env file in the working directory is loaded first when present.
type Config struct {
	// DatabaseURL is the Postgres DSN for the gateway-owned store.
	DatabaseURL string

	// GatewayURL and GatewayKey configure the messaging-gateway HTTP API.
	// Both are required before the first gateway call.
	GatewayURL string
	GatewayKey string

	// RealtimeURL is the websocket endpoint of the store's change feed.
	// Empty means "derive from DatabaseURL host" is NOT attempted; the
	// feed stays disabled and the inbox serves initial loads only.
	RealtimeURL string

	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	// PollInterval is the connection-state poll period for the open
	// conversation's instance.
	PollInterval time.Duration

	// SendRatePerSec caps outbound gateway calls.
	SendRatePerSec int
}

// Load reads configuration from a .env file (if any) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		GatewayURL:     os.Getenv("EVOLUTION_API_URL"),
		GatewayKey:     os.Getenv("EVOLUTION_API_KEY"),
		RealtimeURL:    os.Getenv("REALTIME_URL"),
		ListenAddr:     envOr("LISTEN_ADDR", ":8642"),
		PollInterval:   30 * time.Second,
		SendRatePerSec: 10,
	}

	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %q", v)
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("SEND_RATE_PER_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SEND_RATE_PER_SEC %q", v)
		}
		cfg.SendRatePerSec = n
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
