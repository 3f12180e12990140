// Package postgres implements the multi-tenant storage backend on PostgreSQL.
//
// Every wallet is a row in the wallets table; items and tags of all wallets
// share one set of tables and carry the owning wallet's numeric id, which every
// statement filters on. Pools are shared process-wide per connection string:
// reads go to read_host and writes to write_host.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/tenant"
	"github.com/jmcleod/tagvault/storage/wqlsql"
)

const uniqueViolation = "23505"

var pools = tenant.NewPools[*pgxpool.Pool]()

func sharedPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	return pools.Get(ctx, connString, func(ctx context.Context) (*pgxpool.Pool, error) {
		return openPool(ctx, connString)
	})
}

func openPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return pool, nil
}

// ConnString renders the pgx connection string for host.
func ConnString(host string, cfg tenant.Config, creds tenant.Credentials) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.User, creds.Pass),
		Host:   net.JoinHostPort(host, cfg.Port.String()),
		Path:   "/" + cfg.DBName,
	}
	if cfg.MaxConnections > 0 {
		q := url.Values{}
		q.Set("pool_max_conns", strconv.Itoa(int(cfg.MaxConnections)))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger used by the lifecycle and the stores it opens.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// Lifecycle creates, opens and deletes wallets in a shared PostgreSQL schema.
type Lifecycle struct {
	logger *slog.Logger
}

var _ storage.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle returns the PostgreSQL backend.
func NewLifecycle(opts ...Option) *Lifecycle {
	l := &Lifecycle{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "storage/postgres")
	return l
}

func (l *Lifecycle) connect(ctx context.Context, op string, config, credentials []byte) (read, write *pgxpool.Pool, err error) {
	cfg, creds, err := tenant.Parse(config, credentials)
	if err != nil {
		return nil, nil, err
	}
	if write, err = sharedPool(ctx, ConnString(cfg.WriteHost, cfg, creds)); err != nil {
		return nil, nil, storage.WrapIO(op, err)
	}
	if read, err = sharedPool(ctx, ConnString(cfg.ReadHost, cfg, creds)); err != nil {
		return nil, nil, storage.WrapIO(op, err)
	}
	return read, write, nil
}

func (l *Lifecycle) CreateStorage(ctx context.Context, id string, config, credentials, metadata []byte) error {
	_, write, err := l.connect(ctx, "create storage", config, credentials)
	if err != nil {
		return err
	}
	if metadata == nil {
		metadata = []byte{}
	}
	_, err = write.Exec(ctx, `INSERT INTO wallets (name, metadata) VALUES ($1, $2)`, id, metadata)
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
	err = write.QueryRow(ctx, `SELECT id FROM wallets WHERE name = $1`, id).Scan(&walletID)
	if errors.Is(err, pgx.ErrNoRows) {
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
		compiler: wqlsql.NewTenant(walletID, wqlsql.Dollar),
		logger:   l.logger.With("id", id),
	}, nil
}

func (l *Lifecycle) DeleteStorage(ctx context.Context, id string, config, credentials []byte) error {
	_, write, err := l.connect(ctx, "delete storage", config, credentials)
	if err != nil {
		return err
	}
	tag, err := write.Exec(ctx, `DELETE FROM wallets WHERE name = $1`, id)
	if err != nil {
		return storage.WrapIO("delete storage", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	l.logger.Debug("storage deleted", slog.String("id", id))
	return nil
}
