package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
[api]
ip = "0.0.0.0"
port = 8000
username = "admin"
password = "secret"

[docker]
challenge_path = "/srv/challenges"

[ssh]
keyfile = "/etc/instancer/id_ed25519"

[database]
path = "/var/lib/instancer/instancer.db"

[servers.default]
port = 22
user = "root"
path = "/opt/challenges"

[servers.alpha]
ip = "10.0.0.1"

[servers.bravo]
ip = "10.0.0.2"
port = 2222
user = "deploy"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.API.IP)
	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, "admin", cfg.API.Username)
	assert.Equal(t, "secret", cfg.API.Password)

	assert.Equal(t, "/srv/challenges", cfg.Docker.ChallengePath)
	assert.Empty(t, cfg.Docker.ComposePath)
	assert.Equal(t, "/etc/instancer/id_ed25519", cfg.SSH.Keyfile)
	assert.Equal(t, "/var/lib/instancer/instancer.db", cfg.Database.Path)

	require.Len(t, cfg.Servers, 3)
	assert.Equal(t, 22, cfg.Servers["default"].Port)
	assert.Equal(t, "10.0.0.1", cfg.Servers["alpha"].IP)
	assert.Equal(t, 2222, cfg.Servers["bravo"].Port)
	assert.Equal(t, "deploy", cfg.Servers["bravo"].User)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*Config)
	}{
		{
			name:   "missing credentials",
			mangle: func(c *Config) { c.API.Username = "" },
		},
		{
			name:   "port out of range",
			mangle: func(c *Config) { c.API.Port = 0 },
		},
		{
			name:   "missing keyfile",
			mangle: func(c *Config) { c.SSH.Keyfile = "" },
		},
		{
			name:   "missing database path",
			mangle: func(c *Config) { c.Database.Path = "" },
		},
		{
			name: "both catalogue backends set",
			mangle: func(c *Config) {
				c.Docker.ComposePath = "/srv/docker-compose.yml"
			},
		},
		{
			name: "neither catalogue backend set",
			mangle: func(c *Config) {
				c.Docker.ChallengePath = ""
			},
		},
		{
			name: "no default server table",
			mangle: func(c *Config) {
				delete(c.Servers, "default")
			},
		},
		{
			name: "no workers besides default",
			mangle: func(c *Config) {
				delete(c.Servers, "alpha")
				delete(c.Servers, "bravo")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, validConfig))
			require.NoError(t, err)

			tt.mangle(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}
