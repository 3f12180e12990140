// Package tenant holds what the multi-tenant SQL backends share: their JSON
// configuration and the process-wide connection pool cache.
package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/tagvault/storage"
)

// Config locates the database server.
type Config struct {
	ReadHost  string      `json:"read_host"`
	WriteHost string      `json:"write_host"`
	Port      json.Number `json:"port"`
	DBName    string      `json:"db_name"`
	// MaxConnections caps each pool; zero keeps the driver default.
	MaxConnections int32 `json:"max_connections,omitempty"`
}

// Credentials authenticate against the server.
type Credentials struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// PortNumber returns the validated port.
func (c Config) PortNumber() (int, error) {
	p, err := strconv.Atoi(c.Port.String())
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %q: %w", c.Port, storage.ErrInvalidStructure)
	}
	return p, nil
}

// Validate reports missing required keys.
func (c Config) Validate() error {
	switch {
	case c.ReadHost == "":
		return fmt.Errorf("read_host is required: %w", storage.ErrInvalidStructure)
	case c.WriteHost == "":
		return fmt.Errorf("write_host is required: %w", storage.ErrInvalidStructure)
	case c.DBName == "":
		return fmt.Errorf("db_name is required: %w", storage.ErrInvalidStructure)
	case c.MaxConnections < 0:
		return fmt.Errorf("max_connections must not be negative: %w", storage.ErrInvalidStructure)
	}
	_, err := c.PortNumber()
	return err
}

// Validate reports missing required keys.
func (c Credentials) Validate() error {
	if c.User == "" {
		return fmt.Errorf("user is required: %w", storage.ErrInvalidStructure)
	}
	return nil
}

// Parse decodes and validates config and credentials.
func Parse(config, credentials []byte) (Config, Credentials, error) {
	var (
		cfg   Config
		creds Credentials
	)
	if err := json.Unmarshal(config, &cfg); err != nil {
		return Config{}, Credentials{}, fmt.Errorf("config: %w: %v", storage.ErrInvalidStructure, err)
	}
	if err := json.Unmarshal(credentials, &creds); err != nil {
		return Config{}, Credentials{}, fmt.Errorf("credentials: %w: %v", storage.ErrInvalidStructure, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return Config{}, Credentials{}, err
	}
	return cfg, creds, nil
}

// Pools caches one pool per key, usually the resolved connection string, for
// the life of the process.
type Pools[P any] struct {
	mu    sync.RWMutex
	pools map[string]P
	group singleflight.Group
}

// NewPools returns an empty cache.
func NewPools[P any]() *Pools[P] {
	return &Pools[P]{pools: make(map[string]P)}
}

// Get returns the pool cached under key, calling open to create it on first
// use. Concurrent callers for the same key share one open and one pool; opens
// of different keys run in parallel. Failed opens are not cached.
func (p *Pools[P]) Get(ctx context.Context, key string, open func(context.Context) (P, error)) (P, error) {
	if pool, ok := p.lookup(key); ok {
		return pool, nil
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		if pool, ok := p.lookup(key); ok {
			return pool, nil
		}
		pool, err := open(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.pools[key] = pool
		p.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		var zero P
		return zero, err
	}
	return v.(P), nil
}

func (p *Pools[P]) lookup(key string) (P, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pool, ok := p.pools[key]
	return pool, ok
}

// Len reports the number of cached pools.
func (p *Pools[P]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pools)
}
