package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
hosts:
  - name: router1
    platform: OpenWRT
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, 8, cfg.Service.Workers)
				assert.Equal(t, 2*time.Minute, cfg.Transport.CommandTimeout)
				assert.Equal(t, "python -V", cfg.Runtime.ProbeCommand)
				assert.Equal(t, "json4lua", cfg.Dependency.Package)
				assert.Equal(t, "opkg", cfg.Dependency.Manager)
				require.Len(t, cfg.Hosts, 1)
				assert.Equal(t, ConnectionSSH, cfg.Hosts[0].Connection)
				assert.Equal(t, "router1", cfg.Hosts[0].Address)
				assert.True(t, filepath.IsAbs(cfg.State.Path))
				assert.True(t, filepath.IsAbs(cfg.VariantsDir))
			},
		},
		{
			name: "explicit values are kept",
			yaml: `
service:
  log_level: DEBUG
  workers: 2
transport:
  force_scp: true
  command_timeout: 30s
  user: admin
hosts:
  - name: box
    connection: local
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.Equal(t, 2, cfg.Service.Workers)
				assert.True(t, cfg.Transport.ForceSCP)
				assert.Equal(t, 30*time.Second, cfg.Transport.CommandTimeout)
				assert.Equal(t, "admin", cfg.Transport.User)
				assert.Equal(t, "", cfg.Hosts[0].Address)
			},
		},
		{
			name: "environment interpolation",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9090
  api_key: ${HD_TEST_KEY}
`,
			env: map[string]string{"HD_TEST_KEY": "sekret"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sekret", cfg.API.APIKey)
				assert.Equal(t, "127.0.0.1:9090", cfg.API.Listen)
			},
		},
		{
			name: "unset api key variable",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9090
  api_key: ${HD_TEST_UNSET_KEY}
`,
			wantErr: "HD_TEST_UNSET_KEY",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "negative workers",
			yaml:    "service:\n  workers: -1\n",
			wantErr: "workers",
		},
		{
			name: "duplicate host",
			yaml: `
hosts:
  - name: a
  - name: a
`,
			wantErr: "duplicate host",
		},
		{
			name:    "unknown connection",
			yaml:    "hosts:\n  - name: a\n    connection: telnet\n",
			wantErr: "connection must be ssh or local",
		},
		{
			name:    "package with shell metacharacters",
			yaml:    "dependency:\n  package: \"json4lua; rm -rf /\"\n",
			wantErr: "not a valid package name",
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	path := writeConfig(t, "hosts:\n  - name: a\n")

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	_, ok := cfg.Host("a")
	assert.True(t, ok)
	_, ok = cfg.Host("b")
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestInterpolateEnvLeavesUnknown(t *testing.T) {
	t.Setenv("HD_KNOWN", "x")
	assert.Equal(t, "x ${HD_UNKNOWN_VAR}", interpolateEnv("${HD_KNOWN} ${HD_UNKNOWN_VAR}"))
}
