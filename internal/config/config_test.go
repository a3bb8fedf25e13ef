package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "virtgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		env         map[string]string
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults only",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8000, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 8, cfg.API.ListConcurrency)
				assert.True(t, cfg.Schema.Enabled)
				assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
			},
		},
		{
			name: "file overrides defaults",
			file: `
server:
  port: 9000
  read_timeout: 5s
api:
  list_concurrency: 2
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 2, cfg.API.ListConcurrency)
				// untouched sections keep their defaults
				assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, "info", cfg.Logging.Level)
			},
		},
		{
			name: "env overrides file",
			file: "server:\n  port: 9000\n",
			env: map[string]string{
				"VIRTGATE_SERVER_PORT":    "9100",
				"VIRTGATE_LOGGING_LEVEL":  "debug",
				"VIRTGATE_AUTH_ENABLED":   "true",
				"VIRTGATE_AUTH_USERS":     "admin:scrypt$00$11",
				"VIRTGATE_SCHEMA_ENABLED": "false",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9100, cfg.Server.Port)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.True(t, cfg.Auth.Enabled)
				assert.Equal(t, "scrypt$00$11", cfg.Auth.Users["admin"])
				assert.False(t, cfg.Schema.Enabled)
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"VIRTGATE_SERVER_PORT": "70000"},
			wantErr: "Port",
		},
		{
			name:    "unknown trace exporter",
			file:    "telemetry:\n  trace_exporter: jaeger\n",
			wantErr: "TraceExporter",
		},
		{
			name:    "auth without users",
			env:     map[string]string{"VIRTGATE_AUTH_ENABLED": "true"},
			wantErr: "auth.users",
		},
		{
			name:    "unknown yaml key",
			file:    "server:\n  prot: 1\n",
			wantErr: "failed to load config from file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			} else {
				// keep a stray virtgate.yaml in the package dir from leaking in
				t.Setenv("VIRTGATE_CONFIG", writeConfigFile(t, "{}"))
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_CORSRequiresOrigins(t *testing.T) {
	cfg := Default()
	cfg.Security.AllowedOrigins = nil
	assert.Error(t, cfg.Validate())

	cfg.Security.EnableCORS = false
	assert.NoError(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")

	require.NoError(t, cfg.EnsureDirectories())
	for _, sub := range []string{"debugreports", "screenshots"} {
		info, err := os.Stat(cfg.DataPath(sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestServerAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8001}
	assert.Equal(t, "127.0.0.1:8001", s.Address())
}
