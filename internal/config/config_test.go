package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_PROTOCOL_ENDPOINT", "https://license.example.com/api/1.3/")
	t.Setenv("AUTH_PROTOCOL_APP_NAME", "demo")
	t.Setenv("AUTH_PROTOCOL_OWNER_ID", "owner-1")
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv(ConfigFileEnv, path)
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T)
		wantErr     bool
		validateCfg func(t *testing.T, cfg *Config)
	}{
		{
			name:  "defaults with required env",
			setup: setRequiredEnv,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "demo", cfg.Protocol.AppName)
				assert.Equal(t, 10*time.Second, cfg.Protocol.ConnectTimeout)
				assert.Equal(t, 12*time.Second, cfg.Protocol.CallTimeout)
				assert.Equal(t, "data/auth.json", cfg.Storage.PrimaryFile)
				assert.Equal(t, 72*time.Hour, cfg.Auth.ResetCooldown)
				assert.Equal(t, 12*time.Second, cfg.Auth.Watchdog)
				assert.Equal(t, "console", cfg.Logging.Output)
				assert.True(t, cfg.Server.RateLimit.Enabled)
			},
		},
		{
			name:    "missing endpoint fails validation",
			setup:   func(t *testing.T) { t.Setenv("AUTH_PROTOCOL_APP_NAME", "demo") },
			wantErr: true,
		},
		{
			name: "file values fill unset fields",
			setup: func(t *testing.T) {
				writeConfigFile(t, `
protocol:
  endpoint: https://file.example.com/api/
  app_name: from-file
  owner_id: owner-file
  pins:
    file.example.com: ["abcd"]
storage:
  backup_files: ["/tmp/a.json", "/tmp/b.json"]
  passphrase: secret
auth:
  reset_cooldown: 1h
`)
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://file.example.com/api/", cfg.Protocol.Endpoint)
				assert.Equal(t, "from-file", cfg.Protocol.AppName)
				assert.Equal(t, []string{"abcd"}, cfg.Protocol.Pins["file.example.com"])
				assert.Equal(t, []string{"/tmp/a.json", "/tmp/b.json"}, cfg.Storage.BackupFiles)
				assert.Equal(t, "secret", cfg.Storage.Passphrase)
				assert.Equal(t, time.Hour, cfg.Auth.ResetCooldown)
			},
		},
		{
			name: "env wins over file",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("AUTH_PROTOCOL_APP_NAME", "from-env")
				writeConfigFile(t, "protocol:\n  app_name: from-file\n")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Protocol.AppName)
			},
		},
		{
			name: "unreadable yaml",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				writeConfigFile(t, "protocol: [unterminated")
			},
			wantErr: true,
		},
		{
			name: "bad log output",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("AUTH_LOGGING_OUTPUT", "syslog")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup(t)

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Protocol.Endpoint = "https://license.example.com/"
		cfg.Protocol.AppName = "demo"
		cfg.Protocol.OwnerID = "owner"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default plus credential", mutate: func(*Config) {}},
		{name: "relative endpoint", mutate: func(c *Config) { c.Protocol.Endpoint = "not a url" }, wantErr: true},
		{name: "zero watchdog", mutate: func(c *Config) { c.Auth.Watchdog = 0 }, wantErr: true},
		{name: "call shorter than read", mutate: func(c *Config) { c.Protocol.CallTimeout = time.Second }, wantErr: true},
		{name: "empty pin list", mutate: func(c *Config) { c.Protocol.Pins = map[string][]string{"h": nil} }, wantErr: true},
		{name: "file output without path", mutate: func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, wantErr: true},
		{name: "rate limit disabled ignores rps", mutate: func(c *Config) {
			c.Server.RateLimit.Enabled = false
			c.Server.RateLimit.RPS = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
