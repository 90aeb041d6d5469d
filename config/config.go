// Package config loads settings, connects to Postgres, runs migrations and
// seeds reference data.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the server settings.
type Config struct {
	Port      int    `koanf:"port"`
	DBDSN     string `koanf:"db_dsn"`
	JWTSecret string `koanf:"jwt_secret"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Exports are archived to ExportBucket when set, else to ExportDir when
	// set, else not at all.
	ExportBucket          string `koanf:"export_bucket"`
	ExportCredentialsFile string `koanf:"export_credentials_file"`
	ExportDir             string `koanf:"export_dir"`

	ReportMaxLimit int `koanf:"report_max_limit"`
}

var (
	ErrMissingDBDSN     = errors.New("DB_DSN is required")
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
	ErrInvalidLogLevel  = errors.New("LOG_LEVEL must be one of debug, info, warn, error")
	ErrInvalidLogFormat = errors.New("LOG_FORMAT must be json or text")
	ErrInvalidMaxLimit  = errors.New("REPORT_MAX_LIMIT must not be negative")
)

const (
	DefaultPort           = 8080
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultReportMaxLimit = 500
)

// Load reads .env, then the optional YAML file at path, then the
// environment. Environment variables win over file values. The returned
// errors list every problem found; the config is still returned.
func Load(path string) (*Config, []error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}

	var errs []error
	port, err := envInt("PORT", k, "port", DefaultPort)
	if err != nil {
		errs = append(errs, err)
	}
	maxLimit, err := envInt("REPORT_MAX_LIMIT", k, "report_max_limit", DefaultReportMaxLimit)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Port:                  port,
		DBDSN:                 envString("DB_DSN", k, "db_dsn", ""),
		JWTSecret:             envString("JWT_SECRET", k, "jwt_secret", ""),
		LogLevel:              strings.ToLower(envString("LOG_LEVEL", k, "log_level", DefaultLogLevel)),
		LogFormat:             strings.ToLower(envString("LOG_FORMAT", k, "log_format", DefaultLogFormat)),
		ExportBucket:          envString("EXPORT_BUCKET", k, "export_bucket", ""),
		ExportCredentialsFile: envString("EXPORT_CREDENTIALS_FILE", k, "export_credentials_file", ""),
		ExportDir:             envString("EXPORT_DIR", k, "export_dir", ""),
		ReportMaxLimit:        maxLimit,
	}
	return cfg, append(errs, cfg.Validate()...)
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error
	if c.DBDSN == "" {
		errs = append(errs, ErrMissingDBDSN)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, ErrInvalidLogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, ErrInvalidLogFormat)
	}
	if c.ReportMaxLimit < 0 {
		errs = append(errs, ErrInvalidMaxLimit)
	}
	return errs
}

func envString(env string, k *koanf.Koanf, key, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if v := k.String(key); v != "" {
		return v
	}
	return def
}

func envInt(env string, k *koanf.Koanf, key string, def int) (int, error) {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, fmt.Errorf("%s must be an integer: %w", env, err)
		}
		return n, nil
	}
	if k.Exists(key) {
		return k.Int(key), nil
	}
	return def, nil
}

// Connect opens the Postgres database.
func Connect(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}
