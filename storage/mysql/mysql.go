// Package mysql implements the multi-tenant storage backend on MySQL.
//
// The schema mirrors the PostgreSQL backend: wallets are rows, and items and
// tags carry the owning wallet's numeric id. Plaintext tag values use a binary
// collation so ordering and LIKE are byte-wise and case-sensitive.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/tenant"
	"github.com/jmcleod/tagvault/storage/wqlsql"
)

const errDupEntry = 1062

var pools = tenant.NewPools[*sql.DB]()

// DSN renders the driver data source name for host.
func DSN(host string, cfg tenant.Config, creds tenant.Credentials) string {
	c := mysql.NewConfig()
	c.User = creds.User
	c.Passwd = creds.Pass
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, cfg.Port.String())
	c.DBName = cfg.DBName
	// Report matched rather than changed rows so rewriting an identical value
	// still counts as an update.
	c.ClientFoundRows = true
	return c.FormatDSN()
}

func sharedPool(ctx context.Context, host string, cfg tenant.Config, creds tenant.Credentials) (*sql.DB, error) {
	dsn := DSN(host, cfg, creds)
	key := dsn + "#" + strconv.Itoa(int(cfg.MaxConnections))
	return pools.Get(ctx, key, func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting to mysql: %w", err)
		}
		if cfg.MaxConnections > 0 {
			db.SetMaxOpenConns(int(cfg.MaxConnections))
		}
		if err := EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
		return db, nil
	})
}

func isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger used by the lifecycle and the stores it opens.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// Lifecycle creates, opens and deletes wallets in a shared MySQL schema.
type Lifecycle struct {
	logger *slog.Logger
}

var _ storage.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle returns the MySQL backend.
func NewLifecycle(opts ...Option) *Lifecycle {
	l := &Lifecycle{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "storage/mysql")
	return l
}

func (l *Lifecycle) connect(ctx context.Context, op string, config, credentials []byte) (read, write *sql.DB, err error) {
	cfg, creds, err := tenant.Parse(config, credentials)
	if err != nil {
		return nil, nil, err
	}
	if write, err = sharedPool(ctx, cfg.WriteHost, cfg, creds); err != nil {
		return nil, nil, storage.WrapIO(op, err)
	}
	if read, err = sharedPool(ctx, cfg.ReadHost, cfg, creds); err != nil {
		return nil, nil, storage.WrapIO(op, err)
	}
	return read, write, nil
}

func (l *Lifecycle) CreateStorage(ctx context.Context, id string, config, credentials, metadata []byte) error {
	_, write, err := l.connect(ctx, "create storage", config, credentials)
	if err != nil {
		return err
	}
	_, err = write.ExecContext(ctx, "INSERT INTO wallets (name, metadata) VALUES (?, ?)", id, nonNil(metadata))
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", id, storage.ErrAlreadyExists)
	}
	if err != nil {
		return storage.WrapIO("create storage", err)
	}
	l.logger.Debug("storage created", slog.String("id", id))
	return nil
}

func (l *Lifecycle) OpenStorage(ctx context.Context, id string, config, credentials []byte) (storage.Storage, error) {
	read, write, err := l.connect(ctx, "open storage", config, credentials)
	if err != nil {
		return nil, err
	}
	// Resolved on the write host so a wallet created a moment ago is visible.
	var walletID int64
	err = write.QueryRowContext(ctx, "SELECT id FROM wallets WHERE name = ?", id).Scan(&walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.WrapIO("open storage", err)
	}
	l.logger.Debug("storage opened", slog.String("id", id), slog.Int64("wallet_id", walletID))
	return &Store{
		read:     read,
		write:    write,
		walletID: walletID,
		compiler: wqlsql.NewTenant(walletID, wqlsql.Question),
		logger:   l.logger.With("id", id),
	}, nil
}

func (l *Lifecycle) DeleteStorage(ctx context.Context, id string, config, credentials []byte) error {
	_, write, err := l.connect(ctx, "delete storage", config, credentials)
	if err != nil {
		return err
	}
	res, err := write.ExecContext(ctx, "DELETE FROM wallets WHERE name = ?", id)
	if err != nil {
		return storage.WrapIO("delete storage", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storage.WrapIO("delete storage", err)
	} else if n == 0 {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	l.logger.Debug("storage deleted", slog.String("id", id))
	return nil
}
