package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	data := []byte(`
mongodb_url: mongodb://localhost:27017
catchups_host: catchups.example.com
catchups_http_root: /var/www/catchups
epg_url: http://epg.example.com/epg.xml
ping_interval: 30s
operator_token: s3cret
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoURL)
	require.Equal(t, "iptv", cfg.MongoDatabase)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "catchups.example.com", cfg.CatchupsHost)
	require.Equal(t, "/var/www/catchups", cfg.CatchupsHTTPRoot)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
	require.Empty(t, cfg.RedisURL)
	require.Equal(t, "s3cret", cfg.OperatorToken)
}

func TestLoadFromFileRequiresMongo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: \"9000\"\n"), 0o600))

	_, err := LoadFromFile(path)
	require.ErrorIs(t, err, ErrMissingMongoURL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MONGODB_URL", "mongodb://db:27017")
	t.Setenv("MONGODB_DATABASE", "")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PING_INTERVAL", "")
	t.Setenv("OPERATOR_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.HTTPPort)
	require.Empty(t, cfg.OperatorToken)
	require.Equal(t, "iptv", cfg.MongoDatabase)
	require.Equal(t, 60*time.Second, cfg.PingInterval)
}

func TestLoadRejectsInvalidPingInterval(t *testing.T) {
	t.Setenv("MONGODB_URL", "mongodb://db:27017")
	for _, v := range []string{"bogus", "0s", "-5s"} {
		t.Setenv("PING_INTERVAL", v)
		_, err := Load()
		require.ErrorIs(t, err, ErrInvalidPingInterval, v)
	}

	t.Setenv("PING_INTERVAL", "15s")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.PingInterval)
}

func TestLoadFromFileRejectsInvalidPingInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	data := []byte("mongodb_url: mongodb://localhost:27017\nping_interval: soon\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err := LoadFromFile(path)
	require.ErrorIs(t, err, ErrInvalidPingInterval)
}
