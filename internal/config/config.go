package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	SkipAuth    bool
	Environment string
	AppId       string

	// Sync engine knobs
	SchedulerEnabled     bool
	MaxConcurrentSyncs   int     // across distinct connections
	SyncPageSize         int     // provider fetch page size (top)
	FailureThreshold     float64 // batch still "successful" below this failure ratio
	TokenRefreshWindow   int     // minutes before expiry a token is refreshed
	ProviderTimeoutSecs  int     // hard timeout per provider call
	RetryMaxAttempts     int     // transient retry budget per provider call
	LogRetentionDays     int     // sync logs older than this are purge candidates
	LogArchiveDBType     string  // "postgres", "mysql" or "" to disable
	LogArchiveDSN        string

	// Vendor app registrations for OAuth flows
	DynamicsClientID     string
	DynamicsClientSecret string
	DynamicsTenantID     string
	HubSpotClientID      string
	HubSpotClientSecret  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "crm-sync"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "crm-sync"),

		SchedulerEnabled:    getEnv("SCHEDULER_ENABLED", "true") == "true",
		MaxConcurrentSyncs:  getEnvInt("MAX_CONCURRENT_SYNCS", 4),
		SyncPageSize:        getEnvInt("SYNC_PAGE_SIZE", 200),
		FailureThreshold:    getEnvFloat("SYNC_FAILURE_THRESHOLD", 0.25),
		TokenRefreshWindow:  getEnvInt("TOKEN_REFRESH_WINDOW_MINUTES", 5),
		ProviderTimeoutSecs: getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30),
		RetryMaxAttempts:    getEnvInt("SYNC_RETRY_MAX_ATTEMPTS", 3),
		LogRetentionDays:    getEnvInt("SYNC_LOG_RETENTION_DAYS", 90),
		LogArchiveDBType:    getEnv("SYNC_LOG_ARCHIVE_DB_TYPE", ""),
		LogArchiveDSN:       getEnv("SYNC_LOG_ARCHIVE_DSN", ""),

		DynamicsClientID:     getEnv("DYNAMICS_CLIENT_ID", ""),
		DynamicsClientSecret: getEnv("DYNAMICS_CLIENT_SECRET", ""),
		DynamicsTenantID:     getEnv("DYNAMICS_TENANT_ID", "common"),
		HubSpotClientID:      getEnv("HUBSPOT_CLIENT_ID", ""),
		HubSpotClientSecret:  getEnv("HUBSPOT_CLIENT_SECRET", ""),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
