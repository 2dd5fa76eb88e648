package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeFile, cfg.Mode)
	assert.Zero(t, cfg.FlushInterval)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
allowed_client_address: "10.0.0.5"
data_dir: /var/lib/logstore
flush_interval: 5s
retention: 168h
archive_after: 24h
elasticsearch:
  addresses: ["http://es-1:9200", "http://es-2:9200"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "10.0.0.5", cfg.AllowedClientAddress)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention)
	assert.Len(t, cfg.Elasticsearch.Addresses, 2)
	// Unset keys keep their defaults.
	assert.Equal(t, "logs", cfg.Elasticsearch.Index)
	assert.Equal(t, 10*time.Minute, cfg.CleanerInterval)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstore.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode": "index", "log_format": "json"}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeIndex, cfg.Mode)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOGSTORE_LISTEN_ADDR", ":7000")
	t.Setenv("LOGSTORE_FLUSH_INTERVAL", "250ms")
	t.Setenv("LOGSTORE_ELASTICSEARCH_ADDRESSES", "http://a:9200, http://b:9200,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, cfg.Elasticsearch.Addresses)

	t.Setenv("LOGSTORE_RETENTION", "forever")
	_, err = Load("")
	assert.ErrorContains(t, err, "LOGSTORE_RETENTION")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":       func(c *Config) { c.ListenAddr = "" },
		"hostname allowed":   func(c *Config) { c.AllowedClientAddress = "localhost" },
		"bad mode":           func(c *Config) { c.Mode = "s3" },
		"bad log format":     func(c *Config) { c.LogFormat = "xml" },
		"bad log level":      func(c *Config) { c.LogLevel = "loud" },
		"negative flush":     func(c *Config) { c.FlushInterval = -time.Second },
		"archive too late":   func(c *Config) { c.Retention = time.Hour; c.ArchiveAfter = 2 * time.Hour },
		"file without dir":   func(c *Config) { c.DataDir = "" },
		"index without host": func(c *Config) { c.Mode = ModeIndex; c.Elasticsearch.Addresses = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
