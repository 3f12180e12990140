package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/bbolt"
	"github.com/jmcleod/tagvault/storage/memory"
	"github.com/jmcleod/tagvault/storage/metrics"
	"github.com/jmcleod/tagvault/storage/mysql"
	"github.com/jmcleod/tagvault/storage/plugin"
	"github.com/jmcleod/tagvault/storage/postgres"
	"github.com/jmcleod/tagvault/storage/sqlite"
)

// session is the state shared by one command invocation.
type session struct {
	logger   *slog.Logger
	registry *storage.Registry
	gatherer *prometheus.Registry
	settings settings
}

var current *session

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newRegistry registers every backend, instrumented with m. bbolt is served
// through the plugin boundary.
func newRegistry(logger *slog.Logger, m *metrics.Metrics) (*storage.Registry, error) {
	backends := map[string]storage.Lifecycle{
		"sqlite":   sqlite.NewLifecycle(sqlite.WithLogger(logger)),
		"postgres": postgres.NewLifecycle(postgres.WithLogger(logger)),
		"mysql":    mysql.NewLifecycle(mysql.WithLogger(logger)),
		"memory":   memory.NewLifecycle(),
		"bbolt": plugin.NewLifecycle(plugin.NewHost(
			bbolt.NewLifecycle(bbolt.WithLogger(logger)),
			plugin.WithHostLogger(logger),
		)),
	}
	r := storage.NewRegistry()
	for name, lc := range backends {
		if err := r.Register(name, m.WrapLifecycle(name, lc)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func setup(cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), verbose)
	p, err := loadProfile(profilePath)
	if err != nil {
		return err
	}
	s, err := resolve(p, storeType, configJSON, credentialsJSON)
	if err != nil {
		return err
	}
	gatherer := prometheus.NewRegistry()
	m, err := metrics.New(gatherer)
	if err != nil {
		return err
	}
	registry, err := newRegistry(logger, m)
	if err != nil {
		return err
	}
	current = &session{logger: logger, registry: registry, gatherer: gatherer, settings: s}
	logger.Debug("session ready", slog.String("type", s.Type))
	return nil
}

// finish writes the metrics snapshot when the profile asks for one.
func finish() error {
	if current == nil || current.settings.MetricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(current.settings.MetricsFile, current.gatherer); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

func (s *session) lifecycle() (storage.Lifecycle, error) {
	return s.registry.Lookup(s.settings.Type)
}

// withStorage opens id with the session backend for the duration of fn.
func withStorage(cmd *cobra.Command, id string, fn func(ctx context.Context, st storage.Storage) error) error {
	ctx := cmd.Context()
	lc, err := current.lifecycle()
	if err != nil {
		return err
	}
	st, err := lc.OpenStorage(ctx, id, current.settings.Config, current.settings.Credentials)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			current.logger.Warn("closing storage", slog.String("id", id), slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, st)
}
