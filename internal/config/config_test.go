package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Open-Harness/open-harness-sub011/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: json
store:
  driver: redis
  redis_addr: localhost:6379
  redact: [password]
runtime:
  max_concurrency: 8
lock:
  enabled: true
  ttl: 1m
`)
	t.Setenv("HARNESS_RUNTIME_MAX_CONCURRENCY", "2")
	t.Setenv("HARNESS_STORE_REDACT", "token, ssn")
	t.Setenv("HARNESS_HTTP_SHUTDOWN_TIMEOUT", "90s")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, config.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 2, cfg.Runtime.MaxConcurrency, "env wins over the file")
	assert.Equal(t, 64, cfg.Runtime.MailboxCapacity, "defaults survive")
	assert.Equal(t, []string{"token", "ssn"}, cfg.Store.Redact)
	assert.True(t, cfg.Lock.Enabled)
	assert.Equal(t, time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 90*time.Second, cfg.HTTP.ShutdownTimeout)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want []string
	}{
		{
			name: "bad yaml",
			file: "log: [",
			want: []string{"failed to parse config file"},
		},
		{
			name: "bad env value",
			env:  map[string]string{"HARNESS_RUNTIME_MAX_CONCURRENCY": "many"},
			want: []string{"HARNESS_RUNTIME_MAX_CONCURRENCY"},
		},
		{
			name: "unknown driver",
			env:  map[string]string{"HARNESS_STORE_DRIVER": "tape"},
			want: []string{`store.driver "tape"`},
		},
		{
			name: "missing driver settings",
			env:  map[string]string{"HARNESS_STORE_DRIVER": "blob", "HARNESS_LOG_FORMAT": "xml"},
			want: []string{"store.bucket_url is required", `log.format "xml"`},
		},
		{
			name: "lock without redis",
			env:  map[string]string{"HARNESS_LOCK_ENABLED": "true"},
			want: []string{"lock.enabled requires the redis store driver"},
		},
		{
			name: "short key",
			env:  map[string]string{"HARNESS_STORE_ENCRYPTION_KEY": "abcd"},
			want: []string{"store.encryption_key must be 32 bytes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(path)
			require.Error(t, err)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestStoreConfig_Key(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	key, err := config.StoreConfig{EncryptionKey: hexKey}.Key()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	key, err = config.StoreConfig{}.Key()
	require.NoError(t, err)
	assert.Nil(t, key)
}
