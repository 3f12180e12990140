package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultType = "sqlite"

// Profile is the YAML file selecting a backend. Config and credentials are
// written as YAML mappings and handed to the backend as JSON.
//
//	type: postgres
//	config:
//	  read_host: replica
//	  write_host: primary
//	  port: 5432
//	  db_name: wallets
//	credentials:
//	  user: agent
//	  pass: secret
//	metrics_file: /var/lib/node_exporter/tagvault.prom
type Profile struct {
	Type        string         `yaml:"type"`
	Config      map[string]any `yaml:"config"`
	Credentials map[string]any `yaml:"credentials"`
	MetricsFile string         `yaml:"metrics_file"`
}

// settings is a profile resolved against the command line.
type settings struct {
	Type        string
	Config      []byte
	Credentials []byte
	MetricsFile string
}

func loadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return p, nil
}

func mappingJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// jsonArg returns the JSON document named by an argument: inline JSON or
// @path.
func jsonArg(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		arg = string(data)
	}
	if arg == "" {
		return nil, nil
	}
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("not a JSON document: %q", arg)
	}
	return []byte(arg), nil
}

// resolve applies the non-empty overrides to p.
func resolve(p Profile, typ, config, credentials string) (settings, error) {
	s := settings{Type: p.Type, MetricsFile: p.MetricsFile}
	var err error
	if s.Config, err = mappingJSON(p.Config); err != nil {
		return s, fmt.Errorf("profile config: %w", err)
	}
	if s.Credentials, err = mappingJSON(p.Credentials); err != nil {
		return s, fmt.Errorf("profile credentials: %w", err)
	}
	if typ != "" {
		s.Type = typ
	}
	if s.Type == "" {
		s.Type = defaultType
	}
	if config != "" {
		if s.Config, err = jsonArg(config); err != nil {
			return s, fmt.Errorf("--config: %w", err)
		}
	}
	if credentials != "" {
		if s.Credentials, err = jsonArg(credentials); err != nil {
			return s, fmt.Errorf("--credentials: %w", err)
		}
	}
	return s, nil
}
