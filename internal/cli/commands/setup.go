// Package commands implements the leapgrid subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/leapstack-labs/leapgrid/internal/config"
	"github.com/leapstack-labs/leapgrid/internal/persist"
	"github.com/leapstack-labs/leapgrid/internal/session"
	"github.com/leapstack-labs/leapgrid/internal/state"
	"github.com/leapstack-labs/leapgrid/pkg/adapter"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/spf13/cobra"
)

type configKey struct{}

type loggerKey struct{}

// WithConfig stores the loaded configuration in ctx.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithLogger stores the logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// NewLogger returns a text logger on w. Verbose enables debug output.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// CommandContext holds what every command needs.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// NewCommandContext reads the config and logger stored by the root command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	cc := &CommandContext{Logger: slog.New(slog.DiscardHandler)}
	if ctx == nil {
		return cc
	}
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		cc.Cfg = cfg
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		cc.Logger = l
	}
	return cc
}

// loadConfig returns the loaded configuration, loading it when a command runs
// without the root command.
func (cc *CommandContext) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cc.Cfg != nil {
		return cc.Cfg, nil
	}
	cfg, err := config.Load("", cmd.Flags())
	if err != nil {
		return nil, err
	}
	cc.Cfg = cfg
	return cfg, nil
}

// Target is a connected adapter and the execution source over it.
type Target struct {
	Adapter adapter.Adapter
	Source  *adapter.SQLSource
}

// Close disconnects the adapter.
func (t *Target) Close() error {
	return t.Adapter.Close()
}

// OpenTarget connects to the configured database.
func (cc *CommandContext) OpenTarget(ctx context.Context, cfg *config.Config) (*Target, error) {
	acfg := cfg.Target.ToAdapterConfig()
	a, err := adapter.NewAdapter(acfg, cc.Logger)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, acfg); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Target.Type, err)
	}
	logger := cc.Logger
	src := adapter.NewSQLSource(a, logger, adapter.WithEventHandler(func(e core.ExecutionEvent) {
		logger.Debug(e.Format(), slog.String("event", e.Kind.String()))
	}))
	return &Target{Adapter: a, Source: src}, nil
}

// OpenStore opens the state database, creating it if needed.
func (cc *CommandContext) OpenStore(cfg *config.Config) (*state.SQLiteStore, error) {
	store := state.NewSQLiteStore(cc.Logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	return store, nil
}

// SessionOptions maps the configuration onto session options.
func SessionOptions(cfg *config.Config, t *Target, store core.Store, logger *slog.Logger) session.Options {
	return session.Options{
		Connection:      t.Adapter.ConnectionID(),
		SegmentSize:     cfg.Session.SegmentSize,
		ReadAllLimit:    cfg.Session.ReadAllLimit,
		PollInterval:    cfg.Session.PollInterval,
		HistorySize:     cfg.Session.HistorySize,
		ServerOrdering:  cfg.Session.ServerSideOrdering,
		ServerFiltering: cfg.Session.ServerSideFiltering,
		Locale:          cfg.Session.Locale,
		RestoreFilter:   cfg.Session.RestoreFilter,
		Persist: persist.Settings{
			UseSavepoints:   cfg.Persist.UseSavepoints,
			AllOrNothing:    cfg.Persist.AllOrNothing,
			RefreshInserted: cfg.Persist.RefreshInserted,
			Timeout:         cfg.Persist.Timeout,
		},
		Store:     store,
		Previewer: t.Adapter.Dialect(),
		Logger:    logger,
	}
}
