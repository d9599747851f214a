package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register adapters for target validation.
	_ "github.com/leapstack-labs/leapgrid/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapgrid/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leapgrid/pkg/adapters/sqlite"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "leapgrid.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("state", "", "")
	fs.String("type", "", "")
	fs.String("database", "", "")
	fs.Int("segment-size", 0, "")
	fs.Bool("restore-filter", false, "")
	fs.StringP("output", "o", "", "")
	fs.BoolP("verbose", "v", false, "")
	return fs
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name      string
		target    *TargetConfig
		errSubstr string
	}{
		{name: "nil target", target: nil, errSubstr: "target type is required"},
		{name: "empty type", target: &TargetConfig{}, errSubstr: "target type is required"},
		{name: "duckdb", target: &TargetConfig{Type: "duckdb"}},
		{name: "uppercase", target: &TargetConfig{Type: "SQLite"}},
		{name: "postgres", target: &TargetConfig{Type: "postgres"}},
		{name: "alias", target: &TargetConfig{Type: "pg"}},
		{name: "unknown", target: &TargetConfig{Type: "oracle"}, errSubstr: "unknown adapter type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.target)
			if tt.errSubstr == "" {
				require.NoError(t, err)
				assert.Contains(t, []string{"duckdb", "postgres", "sqlite"}, tt.target.Type, "type is canonical")
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestValidateTarget_ListsAvailable(t *testing.T) {
	err := ValidateTarget(&TargetConfig{Type: "invalid_db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duckdb")
	assert.Contains(t, err.Error(), "leapgrid.yaml")
}

func TestDefaultSchemaForType(t *testing.T) {
	tests := []struct {
		dbType   string
		expected string
	}{
		{"duckdb", "main"},
		{"DuckDB", "main"},
		{"sqlite", "main"},
		{"postgres", "public"},
		{"unknown", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultSchemaForType(tt.dbType))
		})
	}
}

func TestApplyTargetDefaults(t *testing.T) {
	pg := &TargetConfig{Type: "Postgres"}
	ApplyTargetDefaults(pg)
	assert.Equal(t, "postgres", pg.Type)
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "localhost", pg.Host)
	assert.Equal(t, "public", pg.Schema)

	custom := &TargetConfig{Type: "duckdb", Schema: "raw"}
	ApplyTargetDefaults(custom)
	assert.Equal(t, "raw", custom.Schema)

	alias := &TargetConfig{Type: "postgresql"}
	ApplyTargetDefaults(alias)
	assert.Equal(t, "postgres", alias.Type)
	assert.Equal(t, 5432, alias.Port)

	ApplyTargetDefaults(nil)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single variable", "${TEST_VAR_ONE}", "value_one"},
		{"multiple variables", "${TEST_VAR_ONE}/${TEST_VAR_TWO}", "value_one/value_two"},
		{"unset variable stays as-is", "${UNSET_VARIABLE}", "${UNSET_VARIABLE}"},
		{"no variables", "plain string", "plain string"},
		{"mixed set and unset", "${TEST_VAR_ONE}:${UNSET_VAR}", "value_one:${UNSET_VAR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, "duckdb", cfg.Target.Type)
	assert.Equal(t, "main", cfg.Target.Schema)
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, SessionConfig{
		SegmentSize:         DefaultSegmentSize,
		ReadAllLimit:        DefaultReadAllLimit,
		PollInterval:        DefaultPollInterval,
		HistorySize:         DefaultHistorySize,
		ServerSideOrdering:  true,
		ServerSideFiltering: true,
	}, cfg.Session)
	assert.True(t, cfg.Persist.UseSavepoints)
	assert.True(t, cfg.Persist.RefreshInserted)
	assert.False(t, cfg.Persist.AllOrNothing)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	writeConfig(t, dir, `
target:
  type: postgres
  host: db.internal
  database: shop
  user: app
  password: ${TEST_PG_PASSWORD}
session:
  segment_size: 500
  poll_interval: 10ms
  server_side_ordering: false
  locale: de
persist:
  all_or_nothing: true
  timeout: 30s
output: json
`)
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "leapgrid.yaml"), cfg.File)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, 5432, cfg.Target.Port)
	assert.Equal(t, "s3cret", cfg.Target.Password)
	assert.Equal(t, "shop", cfg.Target.Database, "server database names are not paths")
	assert.Equal(t, 500, cfg.Session.SegmentSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Session.PollInterval)
	assert.False(t, cfg.Session.ServerSideOrdering)
	assert.True(t, cfg.Session.ServerSideFiltering)
	assert.Equal(t, "de", cfg.Session.Locale)
	assert.True(t, cfg.Persist.AllOrNothing)
	assert.Equal(t, 30*time.Second, cfg.Persist.Timeout)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
target:
  type: sqlite
  database: data/app.db
session:
  segment_size: 100
  read_all_limit: 1000
output: csv
`)
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		segment int
		output  string
		restore bool
	}{
		{name: "file", segment: 100, output: "csv"},
		{
			name:    "env over file",
			env:     map[string]string{"LEAPGRID_SESSION__SEGMENT_SIZE": "300", "LEAPGRID_OUTPUT": "md"},
			segment: 300,
			output:  "md",
		},
		{
			name:    "flags over env",
			env:     map[string]string{"LEAPGRID_SESSION__SEGMENT_SIZE": "300"},
			args:    []string{"--segment-size", "50", "-o", "table", "--restore-filter"},
			segment: 50,
			output:  "table",
			restore: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, v := range tt.env {
				t.Setenv(key, v)
			}
			fs := testFlags()
			require.NoError(t, fs.Parse(tt.args))

			cfg, err := Load(p, fs)
			require.NoError(t, err)
			assert.Equal(t, tt.segment, cfg.Session.SegmentSize)
			assert.Equal(t, tt.output, cfg.OutputFormat)
			assert.Equal(t, tt.restore, cfg.Session.RestoreFilter)
			assert.Equal(t, filepath.Join(dir, "data", "app.db"), cfg.Target.Database)
		})
	}
}

func TestLoad_FlagPathsRelativeToWorkingDir(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "target:\n  type: duckdb\n")
	wd := t.TempDir()
	t.Chdir(wd)

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--state", "s.db", "--database", "warehouse.duckdb"}))
	cfg, err := Load(p, fs)
	require.NoError(t, err)

	// t.TempDir may sit behind a symlink, so compare against the resolved working dir.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "s.db"), cfg.StatePath)
	assert.Equal(t, filepath.Join(cwd, "warehouse.duckdb"), cfg.Target.Database)
}

func TestLoad_MemoryDatabase(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--type", "sqlite", "--database", ":memory:"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Target.Type)
	assert.Equal(t, ":memory:", cfg.Target.Database)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		errSubstr string
	}{
		{name: "unknown adapter", body: "target:\n  type: oracle\n", errSubstr: "unknown adapter type"},
		{name: "unknown output", body: "output: xml\n", errSubstr: "unknown output format"},
		{name: "zero segment", body: "session:\n  segment_size: 0\n", errSubstr: "segment_size must be positive"},
		{name: "read all below segment", body: "session:\n  read_all_limit: 10\n", errSubstr: "read_all_limit"},
		{name: "bad yaml", body: "session: [", errSubstr: "error reading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := writeConfig(t, dir, tt.body)
			_, err := Load(p, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
