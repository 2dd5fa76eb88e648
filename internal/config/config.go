// Package config loads the logstore server configuration.
//
// Values come from Default, then an optional YAML file (JSON files are accepted as
// YAML), then LOGSTORE_* environment variables. Command-line flags are applied last
// by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Storage modes.
const (
	ModeFile  = "file"
	ModeIndex = "index"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// AllowedClientAddress is the only peer IP allowed to open a producer connection.
	AllowedClientAddress string `yaml:"allowed_client_address"`
	DataDir              string `yaml:"data_dir"`
	Mode                 string `yaml:"mode"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// FlushInterval retries writes left pending by a failure. 0 disables it.
	FlushInterval   time.Duration `yaml:"flush_interval"`
	Retention       time.Duration `yaml:"retention"`
	ArchiveAfter    time.Duration `yaml:"archive_after"`
	CleanerInterval time.Duration `yaml:"cleaner_interval"`

	// IngestTokenHash is a bcrypt hash. When set, POST /logs requires the matching bearer token.
	IngestTokenHash string `yaml:"ingest_token_hash"`

	Elasticsearch Elasticsearch `yaml:"elasticsearch"`
}

// Elasticsearch configures the index sink used in index mode.
type Elasticsearch struct {
	Addresses []string `yaml:"addresses"`
	Index     string   `yaml:"index"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:           ":8080",
		AllowedClientAddress: "127.0.0.1",
		DataDir:              "./logs",
		Mode:                 ModeFile,
		LogLevel:             "info",
		LogFormat:            "text",
		CleanerInterval:      10 * time.Minute,
		Elasticsearch: Elasticsearch{
			Addresses: []string{"http://localhost:9200"},
			Index:     "logs",
		},
	}
}

// Load reads path over the defaults and applies the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays LOGSTORE_* environment variables onto cfg.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"LOGSTORE_LISTEN_ADDR":            &c.ListenAddr,
		"LOGSTORE_ALLOWED_CLIENT_ADDRESS": &c.AllowedClientAddress,
		"LOGSTORE_DATA_DIR":               &c.DataDir,
		"LOGSTORE_MODE":                   &c.Mode,
		"LOGSTORE_LOG_LEVEL":              &c.LogLevel,
		"LOGSTORE_LOG_FORMAT":             &c.LogFormat,
		"LOGSTORE_INGEST_TOKEN_HASH":      &c.IngestTokenHash,
		"LOGSTORE_ELASTICSEARCH_INDEX":    &c.Elasticsearch.Index,
		"LOGSTORE_ELASTICSEARCH_USERNAME": &c.Elasticsearch.Username,
		"LOGSTORE_ELASTICSEARCH_PASSWORD": &c.Elasticsearch.Password,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"LOGSTORE_FLUSH_INTERVAL":   &c.FlushInterval,
		"LOGSTORE_RETENTION":        &c.Retention,
		"LOGSTORE_ARCHIVE_AFTER":    &c.ArchiveAfter,
		"LOGSTORE_CLEANER_INTERVAL": &c.CleanerInterval,
	}
	for name, dst := range durations {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}

	if v := os.Getenv("LOGSTORE_ELASTICSEARCH_ADDRESSES"); v != "" {
		c.Elasticsearch.Addresses = nil
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				c.Elasticsearch.Addresses = append(c.Elasticsearch.Addresses, addr)
			}
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if net.ParseIP(c.AllowedClientAddress) == nil {
		return fmt.Errorf("allowed_client_address %q is not an IP address", c.AllowedClientAddress)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	for name, d := range map[string]time.Duration{
		"flush_interval":   c.FlushInterval,
		"retention":        c.Retention,
		"archive_after":    c.ArchiveAfter,
		"cleaner_interval": c.CleanerInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Retention > 0 && c.ArchiveAfter > 0 && c.ArchiveAfter >= c.Retention {
		return errors.New("archive_after must be shorter than retention")
	}

	switch c.Mode {
	case ModeFile:
		if c.DataDir == "" {
			return errors.New("data_dir is required in file mode")
		}
	case ModeIndex:
		if len(c.Elasticsearch.Addresses) == 0 {
			return errors.New("elasticsearch.addresses is required in index mode")
		}
		if c.Elasticsearch.Index == "" {
			return errors.New("elasticsearch.index is required in index mode")
		}
	default:
		return fmt.Errorf("mode %q must be %s or %s", c.Mode, ModeFile, ModeIndex)
	}
	return nil
}
