// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir            string // Base directory for the databases
	Port               int
	LogLevel           string
	DevMode            bool
	RoleServiceURL     string        // Optional remote identity/role provider
	RoleCacheTTL       time.Duration // Staleness bound for cached role lookups
	RevalidateSchedule string        // Cron schedule for the price-refresh sweep
	PriceFeedEnabled   bool          // Disable to run without the external quote source
	BackupDir          string        // Destination for tiered database backups
	BackupEnabled      bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:            getEnv("DATA_DIR", "./data"),
		Port:               getEnvAsInt("PORT", 8040),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		RoleServiceURL:     getEnv("ROLE_SERVICE_URL", ""),
		RoleCacheTTL:       time.Duration(getEnvAsInt("ROLE_CACHE_TTL_SECONDS", 60)) * time.Second,
		RevalidateSchedule: getEnv("REVALIDATE_SCHEDULE", "0 */5 * * * *"),
		PriceFeedEnabled:   getEnvAsBool("PRICE_FEED_ENABLED", true),
		BackupDir:          getEnv("BACKUP_DIR", "./backups"),
		BackupEnabled:      getEnvAsBool("BACKUP_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be a valid TCP port, got %d", c.Port)
	}
	if c.RoleCacheTTL < 0 {
		return fmt.Errorf("ROLE_CACHE_TTL_SECONDS must not be negative")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
