package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"

	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

type Config struct {
	ServerPort     string
	Environment    string
	AllowedOrigins []string

	StoreDriver string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	FirebaseProject         string
	FirebaseCredentialsFile string

	AuthProvider string
	JWTSecret    string
	JWTExpiry    time.Duration

	NotifyDebounce     time.Duration
	NotifySettleDelay  time.Duration
	NotifyPollInterval time.Duration
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	config := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),

		StoreDriver: getEnv("STORE_DRIVER", StoreMemory),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getEnvAsInt("DB_MIN_CONNS", 2)),

		FirebaseProject:         getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),

		AuthProvider: getEnv("AUTH_PROVIDER", AuthJWT),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiry:    time.Duration(getEnvAsInt("JWT_EXPIRY_SEC", 24*60*60)) * time.Second,

		NotifyDebounce:     time.Duration(getEnvAsInt("NOTIFY_DEBOUNCE_MS", 500)) * time.Millisecond,
		NotifySettleDelay:  time.Duration(getEnvAsInt("NOTIFY_SETTLE_DELAY_MS", 200)) * time.Millisecond,
		NotifyPollInterval: time.Duration(getEnvAsInt("NOTIFY_POLL_INTERVAL_SEC", 30)) * time.Second,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	case StoreFirestore:
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when STORE_DRIVER=%s", StoreFirestore)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.AuthProvider {
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_PROVIDER=%s", AuthJWT)
		}
	case AuthFirebase:
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when AUTH_PROVIDER=%s", AuthFirebase)
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}

	if c.NotifyDebounce < 0 || c.NotifySettleDelay < 0 || c.NotifyPollInterval < 0 {
		return fmt.Errorf("notification timings must not be negative")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
