package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgrid/internal/cli/testutil"
	"github.com/leapstack-labs/leapgrid/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapgrid/pkg/adapters/sqlite"
)

// project creates a test project and makes it the working directory.
func project(t *testing.T) string {
	t.Helper()
	dir := testutil.SetupTestProject(t)
	t.Chdir(dir)
	prev := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = prev })

	// Paths in the config resolve against the working directory as the OS reports it.
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}

func openTestStore(t *testing.T, dir string) *state.SQLiteStore {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(dir, ".leapgrid", "state.db")))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewLogger(t *testing.T) {
	buf := new(bytes.Buffer)
	NewLogger(buf, false).Debug("hidden")
	NewLogger(buf, false).Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	NewLogger(buf, true).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestCommandContext_OpenTargetAndStore(t *testing.T) {
	dir := project(t)
	cmd := NewRunsCommand()
	cc := NewCommandContext(cmd)

	cfg, err := cc.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Target.Type)
	assert.Equal(t, filepath.Join(dir, "data.db"), cfg.Target.Database)
	assert.Equal(t, 10, cfg.Session.SegmentSize)

	target, err := cc.OpenTarget(t.Context(), cfg)
	require.NoError(t, err)
	defer func() { _ = target.Close() }()
	assert.Equal(t, "sqlite://"+filepath.Join(dir, "data.db"), target.Adapter.ConnectionID())

	store, err := cc.OpenStore(cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	assert.FileExists(t, filepath.Join(dir, ".leapgrid", "state.db"))

	opts := SessionOptions(cfg, target, store, cc.Logger)
	assert.Equal(t, target.Adapter.ConnectionID(), opts.Connection)
	assert.Equal(t, 10, opts.SegmentSize)
	assert.True(t, opts.ServerFiltering)
	assert.True(t, opts.Persist.UseSavepoints)
	assert.NotNil(t, opts.Previewer)
	assert.NotNil(t, opts.Store)
}

func TestOpenTarget_UnknownType(t *testing.T) {
	project(t)
	cmd := NewRunsCommand()
	cc := NewCommandContext(cmd)
	cfg, err := cc.loadConfig(cmd)
	require.NoError(t, err)

	cfg.Target.Type = "oracle"
	_, err = cc.OpenTarget(t.Context(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter type")
}
