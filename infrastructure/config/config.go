package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host        string
	Port        int
	Environment string

	// Optional base URL override handed to clients (defaults to
	// http://<host>:<port> when empty).
	ServerURL string

	// Room identifier reserved for multi-room deployments. The default
	// single-room store and registry accept and ignore it.
	RoomID string

	// Logging
	LogLevel string

	// Feature flags
	EnableMetrics bool
	EnableCORS    bool
}

// LoadConfig loads configuration from a .env file (when present) and
// environment variables.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		Host:        getEnv("HOST", "localhost"),
		Port:        getEnvInt("PORT", 3000),
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerURL:   getEnv("SERVER_URL", ""),
		RoomID:      getEnv("ROOM_ID", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// ListenAddress returns the host:port pair the HTTP server binds.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the externally visible server URL.
func (c *Config) BaseURL() string {
	if c.ServerURL != "" {
		return c.ServerURL
	}
	return fmt.Sprintf("http://%s", c.ListenAddress())
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
