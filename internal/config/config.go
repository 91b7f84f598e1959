// Package config loads the optional autoconfig.yaml that sets defaults for
// generation runs. Command line flags override every value here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/melih-ucgun/autoconfig/internal/charset"
	"github.com/melih-ucgun/autoconfig/internal/consts"
)

type ReplaceConfig struct {
	Attempts int           `yaml:"attempts"`
	Pause    time.Duration `yaml:"pause"`
}

type PatternConfig struct {
	Descriptors []string `yaml:"descriptors"`
	Packages    []string `yaml:"packages"`
}

type BackupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type SFTPConfig struct {
	User       string `yaml:"user"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"` // may be ENC[AES256:...]
	KeyPath    string `yaml:"key_path"`
	KnownHosts string `yaml:"known_hosts"`
	// InsecureIgnoreHostKey skips host key verification. Tests only.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"` // may be ENC[AES256:...]
	Insecure  bool   `yaml:"insecure"`
}

type RemoteConfig struct {
	SFTP SFTPConfig `yaml:"sftp"`
	S3   S3Config   `yaml:"s3"`
}

type Config struct {
	Charset         string            `yaml:"charset"`
	DuplicatePolicy string            `yaml:"duplicate_policy"`
	Diff            bool              `yaml:"diff"`
	Replace         ReplaceConfig     `yaml:"replace"`
	Patterns        PatternConfig     `yaml:"patterns"`
	PropertyFiles   []string          `yaml:"property_files"`
	Properties      map[string]string `yaml:"properties"`
	Backup          BackupConfig      `yaml:"backup"`
	Remote          RemoteConfig      `yaml:"remote"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Charset:         consts.DefaultCharset,
		DuplicatePolicy: "keep-first",
		Replace: ReplaceConfig{
			Attempts: consts.DefaultReplaceAttempts,
			Pause:    consts.DefaultReplacePause,
		},
		Patterns: PatternConfig{
			Descriptors: consts.DefaultDescriptorPatterns,
			Packages:    consts.DefaultPackagePatterns,
		},
		Remote: RemoteConfig{SFTP: SFTPConfig{Port: 22}},
	}
}

// DefaultPath is autoconfig.yaml in the autoconfig home directory.
func DefaultPath() (string, error) {
	dir, err := consts.GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, consts.ConfigFileName), nil
}

// LoadConfig reads path over the defaults. An empty path means the default
// location, where a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("yaml parse error in %s: %w", path, err)
	}

	// Relative property files are relative to the config file.
	for i, p := range cfg.PropertyFiles {
		if !filepath.IsAbs(p) {
			cfg.PropertyFiles[i] = filepath.Join(filepath.Dir(path), p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late, mid-run.
func (c *Config) Validate() error {
	if _, err := charset.Lookup(c.Charset); err != nil {
		return err
	}
	switch c.DuplicatePolicy {
	case "", "keep-first", "first", "fail", "error":
	default:
		return fmt.Errorf("unknown duplicate_policy %q", c.DuplicatePolicy)
	}
	if c.Replace.Attempts < 1 {
		return fmt.Errorf("replace.attempts must be at least 1")
	}
	if c.Replace.Pause < 0 {
		return fmt.Errorf("replace.pause must not be negative")
	}
	for _, p := range append(append([]string(nil), c.Patterns.Descriptors...), c.Patterns.Packages...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}
