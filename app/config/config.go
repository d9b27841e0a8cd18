// Package config manages the persistent application configuration.
package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	ltypes "go.hackfix.me/strata/lock/types"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Database   Database
	Migrations Migrations
	Lock       Lock

	fs   vfs.FileSystem
	path string
}

// Database defines the target database connection options.
type Database struct {
	// Driver is the database/sql driver name ("sqlite" or "pgx").
	Driver sql.Null[string] `json:"driver"`
	// DSN is the connection string, passed to the driver verbatim.
	DSN sql.Null[string] `json:"dsn"`
}

// Migrations defines where migration files are discovered.
type Migrations struct {
	// Dir is the root of the migrations directory tree, laid out as
	// {module}/{version}_{name}.sql.
	Dir sql.Null[string] `json:"dir"`
}

// Lock defines migration lock options.
type Lock struct {
	// Timeout bounds lock acquisition. It serializes from/to duration
	// string values.
	Timeout sql.Null[time.Duration] `json:"timeout"`
	// Strategy overrides the lock backend selection (auto, advisory, table).
	Strategy sql.Null[ltypes.Strategy] `json:"strategy"`
}

// NewConfig creates a new Config instance with the specified filesystem and
// configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem. If the
// file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}

	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

type cfgWrapper struct {
	Database   dbCfgWrapper   `json:"database"`
	Migrations migCfgWrapper  `json:"migrations"`
	Lock       lockCfgWrapper `json:"lock"`
}
type dbCfgWrapper struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}
type migCfgWrapper struct {
	Dir string `json:"dir,omitempty"`
}
type lockCfgWrapper struct {
	Timeout  string `json:"timeout,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values to
// their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Database.Driver.Valid {
		w.Database.Driver = c.Database.Driver.V
	}
	if c.Database.DSN.Valid {
		w.Database.DSN = c.Database.DSN.V
	}
	if c.Migrations.Dir.Valid {
		w.Migrations.Dir = c.Migrations.Dir.V
	}
	if c.Lock.Timeout.Valid {
		w.Lock.Timeout = c.Lock.Timeout.V.String()
	}
	if c.Lock.Strategy.Valid {
		w.Lock.Strategy = string(c.Lock.Strategy.V)
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Database.Driver != "" {
		c.Database.Driver = sql.Null[string]{V: w.Database.Driver, Valid: true}
	}
	if w.Database.DSN != "" {
		c.Database.DSN = sql.Null[string]{V: w.Database.DSN, Valid: true}
	}
	if w.Migrations.Dir != "" {
		c.Migrations.Dir = sql.Null[string]{V: w.Migrations.Dir, Valid: true}
	}
	if w.Lock.Timeout != "" {
		dur, err := time.ParseDuration(w.Lock.Timeout)
		if err != nil {
			return fmt.Errorf("failed parsing lock timeout: %w", err)
		}
		c.Lock.Timeout = sql.Null[time.Duration]{V: dur, Valid: true}
	}
	if w.Lock.Strategy != "" {
		strategy, err := ltypes.StrategyFromString(w.Lock.Strategy)
		if err != nil {
			return err
		}
		c.Lock.Strategy = sql.Null[ltypes.Strategy]{V: strategy, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
func (c *Config) SetDefaults(dataDir string) {
	if !c.Database.Driver.Valid {
		c.Database.Driver = sql.Null[string]{V: "sqlite", Valid: true}
	}
	if !c.Database.DSN.Valid {
		c.Database.DSN = sql.Null[string]{V: filepath.Join(dataDir, "strata.db"), Valid: true}
	}
	if !c.Migrations.Dir.Valid {
		c.Migrations.Dir = sql.Null[string]{V: "migrations", Valid: true}
	}
	if !c.Lock.Timeout.Valid {
		c.Lock.Timeout = sql.Null[time.Duration]{V: 30 * time.Second, Valid: true}
	}
	if !c.Lock.Strategy.Valid {
		c.Lock.Strategy = sql.Null[ltypes.Strategy]{V: ltypes.StrategyAuto, Valid: true}
	}
}
