package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih-ucgun/autoconfig/internal/consts"
)

func TestLoadConfigMissingDefault(t *testing.T) {
	t.Setenv(consts.EnvHome, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfigMissingExplicit(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoconfig.yaml")
	content := `
charset: UTF-8
duplicate_policy: fail
diff: true
replace:
  attempts: 3
  pause: 250ms
patterns:
  packages: ["**/*.jar"]
property_files:
  - prod.properties
  - /etc/shop.yaml
properties:
  env: prod
backup:
  enabled: true
remote:
  sftp:
    user: deploy
    key_path: ~/.ssh/id_ed25519
  s3:
    endpoint: minio.local:9000
    insecure: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "UTF-8", cfg.Charset)
	assert.Equal(t, "fail", cfg.DuplicatePolicy)
	assert.True(t, cfg.Diff)
	assert.Equal(t, 3, cfg.Replace.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Replace.Pause)
	assert.Equal(t, []string{"**/*.jar"}, cfg.Patterns.Packages)
	assert.Equal(t, consts.DefaultDescriptorPatterns, cfg.Patterns.Descriptors)
	assert.Equal(t, []string{filepath.Join(dir, "prod.properties"), "/etc/shop.yaml"}, cfg.PropertyFiles)
	assert.Equal(t, "prod", cfg.Properties["env"])
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "deploy", cfg.Remote.SFTP.User)
	assert.Equal(t, 22, cfg.Remote.SFTP.Port)
	assert.True(t, cfg.Remote.S3.Insecure)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown charset", func(c *Config) { c.Charset = "klingon" }},
		{"unknown policy", func(c *Config) { c.DuplicatePolicy = "newest" }},
		{"no attempts", func(c *Config) { c.Replace.Attempts = 0 }},
		{"bad pattern", func(c *Config) { c.Patterns.Packages = []string{"[*.jar"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
