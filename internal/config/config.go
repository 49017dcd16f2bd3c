// Package config loads process configuration from an optional .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/observability"
	"github.com/signalsfoundry/flexgrid-rsa/topology"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the resolved process configuration.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	Store       string
	DatabaseDSN string
	SQLitePath  string
	Topology    string
	HopCutoff   int

	Logging logging.Config
	Tracing observability.TracingConfig
}

// Load reads the given .env files (".env" when none are given) and then the
// environment. Missing .env files are ignored; existing environment
// variables take precedence over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		HTTPAddr:    getenv("RSA_HTTP_ADDR", ":8080"),
		MetricsAddr: getenv("RSA_METRICS_ADDR", ":9090"),
		Store:       strings.ToLower(getenv("RSA_STORE", StoreMemory)),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		SQLitePath:  getenv("RSA_SQLITE_PATH", "rsa.db"),
		Topology:    os.Getenv("RSA_TOPOLOGY"),
		HopCutoff:   topology.DefaultHopCutoff,
		Logging: logging.Config{
			Level:     getenv("LOG_LEVEL", "info"),
			Format:    getenv("LOG_FORMAT", "text"),
			AddSource: strings.EqualFold(os.Getenv("LOG_SOURCE"), "true"),
		},
		Tracing: observability.TracingConfigFromEnv(),
	}
	if raw := os.Getenv("RSA_HOP_CUTOFF"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("RSA_HOP_CUTOFF must be a positive integer, got %q", raw)
		}
		cfg.HopCutoff = n
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("RSA_SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown RSA_STORE %q (want memory, sqlite or postgres)", c.Store)
	}
	if c.HopCutoff <= 0 {
		return fmt.Errorf("hop cutoff must be positive, got %d", c.HopCutoff)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
