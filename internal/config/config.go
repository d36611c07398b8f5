// Package config loads connection and tooling settings for tablekit.
//
// Sources are applied in order, later ones winning:
//
//  1. Defaults (sqlite3, tablekit.db)
//  2. A YAML file (Load with a non-empty path)
//  3. A .env file in the working directory, if present
//  4. TABLEKIT_* environment variables
//  5. Command-line flags registered with BindFlags
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TABLEKIT_"

// Config holds backend connection and migration settings.
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrationsDir   string        `yaml:"migrations_dir"`
	MigrationsTable string        `yaml:"migrations_table"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "tablekit.db",
		MaxOpenConns:    10,
		MaxIdleConns:    1,
		ConnMaxLifetime: 300 * time.Second,
		MigrationsDir:   "migrations",
		MigrationsTable: "tablekit_migrations",
		LogLevel:        "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal; any other failure is reported.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from TABLEKIT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("DRIVER", &c.Driver)
	str("DSN", &c.DSN)
	str("MIGRATIONS_DIR", &c.MigrationsDir)
	str("MIGRATIONS_TABLE", &c.MigrationsTable)
	str("LOG_LEVEL", &c.LogLevel)
	if err := num("MAX_OPEN_CONNS", &c.MaxOpenConns); err != nil {
		return err
	}
	if err := num("MAX_IDLE_CONNS", &c.MaxIdleConns); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "CONN_MAX_LIFETIME"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sCONN_MAX_LIFETIME: %w", EnvPrefix, err)
		}
		c.ConnMaxLifetime = d
	}
	return nil
}

// BindFlags registers flags that override c when parsed.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Driver, "driver", c.Driver, "database driver (sqlite3, mysql, memory)")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "data source name")
	fs.StringVar(&c.MigrationsDir, "migrations-dir", c.MigrationsDir, "directory of SQL migration files")
	fs.StringVar(&c.MigrationsTable, "migrations-table", c.MigrationsTable, "table recording applied migrations")
	fs.IntVar(&c.MaxOpenConns, "max-open-conns", c.MaxOpenConns, "maximum open connections")
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Driver != DriverMemory && c.DSN == "" {
		return fmt.Errorf("driver %s requires a dsn", c.Driver)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.New("connection pool sizes must not be negative")
	}
	return nil
}
