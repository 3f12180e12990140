package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/tagvault/storage"
)

//go:embed schema.sql
var schemaSQL string

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger used by the lifecycle and the stores it opens.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// Lifecycle creates, opens and deletes embedded storage instances, one SQLite
// file per instance.
type Lifecycle struct {
	logger *slog.Logger
}

var _ storage.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle returns the embedded backend.
func NewLifecycle(opts ...Option) *Lifecycle {
	l := &Lifecycle{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "storage/sqlite")
	return l
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

func (l *Lifecycle) CreateStorage(ctx context.Context, id string, config, _, metadata []byte) error {
	cfg, err := ParseConfig(config)
	if err != nil {
		return err
	}
	dir, err := cfg.dir(id)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fileName)
	ok, err := exists(path)
	if err != nil {
		return storage.WrapIO("create storage", err)
	}
	if ok {
		return fmt.Errorf("%s: %w", id, storage.ErrAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return storage.WrapIO("create storage", err)
	}

	if err := initialize(ctx, path, metadata); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			l.logger.Warn("failed to clean up partially created storage",
				slog.String("id", id), slog.String("error", rmErr.Error()))
		}
		return storage.WrapIO("create storage", err)
	}
	l.logger.Debug("storage created", slog.String("id", id), slog.String("path", path))
	return nil
}

func initialize(ctx context.Context, path string, metadata []byte) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	if err := EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	if metadata == nil {
		metadata = []byte{}
	}
	_, err = db.ExecContext(ctx, `INSERT INTO metadata (id, value) VALUES (1, ?)`, metadata)
	return err
}

func (l *Lifecycle) OpenStorage(ctx context.Context, id string, config, _ []byte) (storage.Storage, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	dir, err := cfg.dir(id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName)
	ok, err := exists(path)
	if err != nil {
		return nil, storage.WrapIO("open storage", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, storage.WrapIO("open storage", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.WrapIO("open storage", err)
	}
	l.logger.Debug("storage opened", slog.String("id", id))
	return newStore(db, l.logger.With("id", id)), nil
}

func (l *Lifecycle) DeleteStorage(_ context.Context, id string, config, _ []byte) error {
	cfg, err := ParseConfig(config)
	if err != nil {
		return err
	}
	dir, err := cfg.dir(id)
	if err != nil {
		return err
	}
	ok, err := exists(filepath.Join(dir, fileName))
	if err != nil {
		return storage.WrapIO("delete storage", err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return storage.WrapIO("delete storage", err)
	}
	l.logger.Debug("storage deleted", slog.String("id", id))
	return nil
}
