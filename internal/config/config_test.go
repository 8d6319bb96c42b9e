package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Pool.Capacity)
	assert.Equal(t, 5, cfg.Pool.RetryMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Pool.RetryBase())
	assert.Equal(t, 1.5, cfg.Pool.RetryFactor)
	assert.Equal(t, 30*time.Second, cfg.Pool.HealthInterval())
	assert.Equal(t, 60*time.Second, cfg.Pool.IdleSweepInterval())
	assert.Equal(t, 5*time.Minute, cfg.Pool.IdleTimeout())
	assert.Equal(t, time.Second, cfg.Sync.PausePoll())
	assert.Equal(t, 5*time.Second, cfg.Security.ProbeTimeout())
}

func TestLoadAppliesFileAndConnectionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log_level: debug
pool:
  capacity: 3
connections:
  - user: alice
    password: secret
    host: imap.old.example
  - name: new-server
    user: alice
    password: secret
    host: imap.new.example
    port: 143
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Pool.Capacity)
	// File values never disturb untouched defaults.
	assert.Equal(t, 5, cfg.Pool.RetryMaxAttempts)

	require.Len(t, cfg.Connections, 2)
	first := cfg.Connections[0]
	assert.Equal(t, 993, first.Port)
	assert.True(t, first.TLS)
	assert.Equal(t, "alice@imap.old.example", first.Name)

	second := cfg.Connections[1]
	assert.Equal(t, "new-server", second.Name)
	assert.Equal(t, 143, second.Port)
	assert.False(t, second.TLS)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INBOXLY_LOG_LEVEL", "warn")
	t.Setenv("INBOXLY_POOL_CAPACITY", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Pool.Capacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConnectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectionConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg:  ConnectionConfig{User: "u", Password: "p", Host: "h", Port: 993},
		},
		{
			name:    "missing user",
			cfg:     ConnectionConfig{Password: "p", Host: "h", Port: 993},
			wantErr: "user",
		},
		{
			name:    "missing password",
			cfg:     ConnectionConfig{User: "u", Host: "h", Port: 993},
			wantErr: "password",
		},
		{
			name:    "missing host",
			cfg:     ConnectionConfig{User: "u", Password: "p", Port: 993},
			wantErr: "host",
		},
		{
			name:    "port out of range",
			cfg:     ConnectionConfig{User: "u", Password: "p", Host: "h", Port: 70000},
			wantErr: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetConnectionByName(t *testing.T) {
	cfg := Default()
	cfg.Connections = []ConnectionConfig{
		{Name: "old", User: "u", Password: "p", Host: "h", Port: 993},
	}

	got, err := cfg.GetConnectionByName("old")
	require.NoError(t, err)
	assert.Equal(t, "h", got.Host)

	_, err = cfg.GetConnectionByName("missing")
	assert.Error(t, err)
}
