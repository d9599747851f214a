// Package config loads leapgrid configuration.
//
// Values are layered with koanf: built-in defaults, then leapgrid.yaml,
// then LEAPGRID_ environment variables, then explicitly set flags.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// TargetConfig is an alias for the shared target configuration.
type TargetConfig = core.TargetConfig

// Config holds all configuration options.
type Config struct {
	Target       *TargetConfig `koanf:"target"`
	StatePath    string        `koanf:"state_path"`
	Session      SessionConfig `koanf:"session"`
	Persist      PersistConfig `koanf:"persist"`
	Verbose      bool          `koanf:"verbose"`
	OutputFormat string        `koanf:"output"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was read, empty when none was found.
	File string `koanf:"-"`
}

// SessionConfig tunes result sessions.
type SessionConfig struct {
	SegmentSize         int           `koanf:"segment_size"`
	ReadAllLimit        int           `koanf:"read_all_limit"`
	PollInterval        time.Duration `koanf:"poll_interval"`
	HistorySize         int           `koanf:"history_size"`
	ServerSideOrdering  bool          `koanf:"server_side_ordering"`
	ServerSideFiltering bool          `koanf:"server_side_filtering"`
	RestoreFilter       bool          `koanf:"restore_filter"`
	Locale              string        `koanf:"locale"`
}

// PersistConfig controls how edits are written back.
type PersistConfig struct {
	UseSavepoints   bool          `koanf:"use_savepoints"`
	AllOrNothing    bool          `koanf:"all_or_nothing"`
	RefreshInserted bool          `koanf:"refresh_inserted"`
	Timeout         time.Duration `koanf:"timeout"`
}

// Default configuration values.
const (
	DefaultStateFile    = ".leapgrid/state.db"
	DefaultOutput       = "table"
	DefaultSegmentSize  = 200
	DefaultReadAllLimit = 100000
	DefaultPollInterval = 50 * time.Millisecond
	DefaultHistorySize  = 100
)

// OutputFormats lists the accepted values of output.
var OutputFormats = []string{"table", "json", "csv", "md"}

func defaults() map[string]any {
	return map[string]any{
		"state_path":                    DefaultStateFile,
		"verbose":                       false,
		"output":                        DefaultOutput,
		"session.segment_size":          DefaultSegmentSize,
		"session.read_all_limit":        DefaultReadAllLimit,
		"session.poll_interval":         DefaultPollInterval.String(),
		"session.history_size":          DefaultHistorySize,
		"session.server_side_ordering":  true,
		"session.server_side_filtering": true,
		"session.restore_filter":        false,
		"persist.use_savepoints":        true,
		"persist.all_or_nothing":        false,
		"persist.refresh_inserted":      true,
	}
}

// DefaultSchemaForType returns the schema assumed when none is configured.
func DefaultSchemaForType(dbType string) string {
	switch strings.ToLower(dbType) {
	case "postgres":
		return "public"
	case "duckdb", "sqlite":
		return "main"
	default:
		return ""
	}
}

// ApplyTargetDefaults resolves type aliases and fills type-specific defaults.
func ApplyTargetDefaults(t *TargetConfig) {
	if t == nil {
		return
	}
	if name, _, err := adapter.Lookup(t.Type); err == nil {
		t.Type = name
	} else {
		t.Type = strings.ToLower(t.Type)
	}
	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}
	if t.Type == "postgres" {
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.Host == "" {
			t.Host = "localhost"
		}
	}
}

// ValidateTarget checks that the target names a registered adapter and
// rewrites an alias to the adapter's canonical name.
func ValidateTarget(t *TargetConfig) error {
	if t == nil || t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	name, _, err := adapter.Lookup(t.Type)
	if err != nil {
		return err
	}
	t.Type = name
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := ValidateTarget(c.Target); err != nil {
		return fmt.Errorf("invalid target configuration: %w", err)
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (want one of %s)", c.OutputFormat, strings.Join(OutputFormats, ", "))
	}
	if c.Session.SegmentSize <= 0 {
		return fmt.Errorf("session.segment_size must be positive, got %d", c.Session.SegmentSize)
	}
	if c.Session.ReadAllLimit < c.Session.SegmentSize {
		return fmt.Errorf("session.read_all_limit (%d) must not be below session.segment_size (%d)", c.Session.ReadAllLimit, c.Session.SegmentSize)
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be positive")
	}
	return nil
}
