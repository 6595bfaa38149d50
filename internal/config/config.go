package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// Storage drivers
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	// Match lifecycle defaults
	DefaultGracePeriod    = 30 * time.Second
	DefaultConsentTimeout = 60 * time.Second

	// Presence
	PresenceTTL = 2 * time.Minute

	// Redis channel for lifecycle events consumed by the notification layer
	EventsChannel = "pairchat:events"
)

// MatchConfig holds the coordinator knobs.
type MatchConfig struct {
	// GracePeriod is how long a Match survives a member's disconnect.
	GracePeriod time.Duration
	// ConsentTimeout is the decision deadline for a proposed pair.
	ConsentTimeout time.Duration
	// RequeueOnAbandon puts the remaining member of an abandoned pair back in the queue.
	RequeueOnAbandon bool
	// RequeueOnEnd puts the still-connected member of an ended Match back in the queue.
	RequeueOnEnd bool
	// SendBuffer is the per-client outbound buffer size.
	SendBuffer int
}

type Config struct {
	Port             string
	GinMode          string
	DatabaseURL      string
	RedisURL         string
	JWTSecret        string
	StorageDriver    string
	HistoryPageLimit int
	Match            MatchConfig
}

// Load reads the configuration from the environment, falling back to defaults.
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		GinMode:          getEnv("GIN_MODE", "debug"),
		DatabaseURL:      getEnv("DATABASE_URL", "host=localhost user=user password=password dbname=pairchatdb port=5432 sslmode=disable"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6380/0"),
		JWTSecret:        getEnv("JWT_SECRET", "change-me"),
		StorageDriver:    getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		HistoryPageLimit: getIntEnv("HISTORY_PAGE_LIMIT", 50),
		Match:            loadMatchConfig(),
	}
}

func loadMatchConfig() MatchConfig {
	return MatchConfig{
		GracePeriod:      getDurationEnv("MATCH_GRACE_PERIOD", DefaultGracePeriod),
		ConsentTimeout:   getDurationEnv("MATCH_CONSENT_TIMEOUT", DefaultConsentTimeout),
		RequeueOnAbandon: getBoolEnv("MATCH_REQUEUE_ON_ABANDON", true),
		RequeueOnEnd:     getBoolEnv("MATCH_REQUEUE_ON_END", false),
		SendBuffer:       getIntEnv("CLIENT_SEND_BUFFER", 256),
	}
}

// DefaultMatchConfig returns the defaults without consulting the environment.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		GracePeriod:      DefaultGracePeriod,
		ConsentTimeout:   DefaultConsentTimeout,
		RequeueOnAbandon: true,
		SendBuffer:       256,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
