// Package config loads process configuration from the environment. All
// handles (stores, log, gateway) are constructed explicitly in main from
// this struct and passed down; nothing reads the environment after startup.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full orchestrator configuration.
type Config struct {
	HTTPAddr    string
	ServiceName string

	// Storage.
	SagaDBPath  string
	EventDBPath string

	// Redis read model; empty means in-memory.
	RedisAddr string

	// Downstream services (through the platform API gateway).
	InventoryURL string
	CatalogueURL string
	OrdersURL    string
	APIKey       string

	// Gateway call contract.
	GatewayTimeout time.Duration
	RetryCount     uint64
	RetryDelay     time.Duration

	// Event stream and projector.
	Stream            string
	ProjectorInterval time.Duration
}

// FromEnv builds a Config from environment variables, with defaults
// suitable for local development.
func FromEnv() Config {
	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		ServiceName: getEnv("SERVICE_NAME", "saga-orchestrator"),

		SagaDBPath:  getEnv("SAGA_DB_PATH", "./data/sagas.db"),
		EventDBPath: getEnv("EVENT_DB_PATH", "./data/events.db"),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		InventoryURL: getEnv("INVENTORY_SERVICE_URL", "http://kong:8080/api/inventaire"),
		CatalogueURL: getEnv("CATALOGUE_SERVICE_URL", "http://kong:8080/api/catalogue"),
		OrdersURL:    getEnv("ORDERS_SERVICE_URL", "http://kong:8080/api/commandes"),
		APIKey:       getEnv("GATEWAY_API_KEY", ""),

		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 30*time.Second),
		RetryCount:     uint64(getInt("GATEWAY_RETRY_COUNT", 3)),
		RetryDelay:     getDuration("GATEWAY_RETRY_DELAY", time.Second),

		Stream:            getEnv("CHECKOUT_STREAM", "ecommerce.checkout.events"),
		ProjectorInterval: getDuration("PROJECTOR_INTERVAL", time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
