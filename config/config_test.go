package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	doc := `
keys_dir = "/keys"
depths = [26, 32]
log_level = "debug"
airdrop_configuration = "airdrop.json"

[queue]
redis_url = "redis://localhost:6379"
workers = 4
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/keys", cfg.KeysDir)
	assert.Equal(t, []uint32{26, 32}, cfg.Depths)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, "redis://localhost:6379", cfg.Queue.RedisURL)
	// untouched sections keep their defaults
	assert.Equal(t, "0.0.0.0:3001", cfg.Server.ProverAddress)
	assert.Equal(t, 10, cfg.Download.MaxRetries)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	cfg := Default()
	require.Error(t, Parse([]byte(`unknown_key = 1`), &cfg))

	cfg = Default()
	require.Error(t, Parse([]byte("[queue]\nworkers = 0\n"), &cfg))

	cfg = Default()
	require.Error(t, Parse([]byte(`log_level = "loud"`), &cfg))
}
