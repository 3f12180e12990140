package sqlite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmcleod/tagvault/storage"
)

const fileName = "sqlite.db"

// Config is the JSON configuration of the embedded backend.
type Config struct {
	// Path is the base directory holding one subdirectory per storage id.
	// Defaults to $HOME/.tagvault/wallets.
	Path string `json:"path,omitempty"`
}

// DefaultPath returns the base directory used when Config.Path is empty.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".tagvault", "wallets"), nil
}

// ParseConfig decodes config, filling in defaults. Empty input is allowed.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("sqlite config: %w: %v", storage.ErrInvalidStructure, err)
		}
	}
	if cfg.Path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, storage.WrapIO("sqlite config", err)
		}
		cfg.Path = p
	}
	return cfg, nil
}

// ValidateID rejects storage ids that cannot name a single directory.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`+"\x00") {
		return fmt.Errorf("storage id %q: %w", id, storage.ErrInvalidStructure)
	}
	return nil
}

// dir returns the directory of storage id.
func (c Config) dir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(c.Path, id), nil
}

func dsn(path string) string {
	return "file:" + filepath.ToSlash(path) +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=case_sensitive_like(1)" +
		"&_txlock=immediate"
}
