package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the point-of-sale engine.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:"127.0.0.1:8765"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"300"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DataDir       string        `envconfig:"POS_DATA_DIR"`
	DBName        string        `envconfig:"POS_DB_NAME" default:"pos.db"`
	DBBusyTimeout time.Duration `envconfig:"POS_DB_BUSY_TIMEOUT" default:"30s"`

	APIBaseURL   string        `envconfig:"API_BASE_URL" default:"http://127.0.0.1:8000/api"`
	APITimeout   time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	APILoginPath string        `envconfig:"API_LOGIN_PATH" default:"/login"`

	SyncRetryAttempts     int           `envconfig:"SYNC_RETRY_ATTEMPTS" default:"3"`
	SyncRetryDelay        time.Duration `envconfig:"SYNC_RETRY_DELAY" default:"1s"`
	CatalogPageDelay      time.Duration `envconfig:"CATALOG_PAGE_DELAY" default:"20s"`
	SalesSyncSchedule     string        `envconfig:"SALES_SYNC_SCHEDULE" default:"@every 2m"`
	ReferenceSyncSchedule string        `envconfig:"REFERENCE_SYNC_SCHEDULE" default:"@every 1h"`
	SyncOnLogin           bool          `envconfig:"SYNC_ON_LOGIN" default:"true"`

	IdempotencyRetention       time.Duration `envconfig:"IDEMPOTENCY_RETENTION" default:"720h"`
	IdempotencyCleanupSchedule string        `envconfig:"IDEMPOTENCY_CLEANUP_SCHEDULE" default:"@daily"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(base, "odyssey-pos")
	}
	if cfg.DBName == "" {
		return nil, errors.New("database name must be provided")
	}
	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if cfg.SyncRetryAttempts < 1 {
		return nil, errors.New("SYNC_RETRY_ATTEMPTS must be at least 1")
	}
	return &cfg, nil
}

// DatabasePath returns the location of the local store file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "data", c.DBName)
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
