package consts

import (
	"os"
	"path/filepath"
	"time"
)

// Names and defaults shared by the scanner, the generator and the CLI.
const (
	DefaultDirName    = ".autoconfig"
	ConfigFileName    = "autoconfig.yaml"
	MasterKeyFileName = "master.key"
	BackupDirName     = "backups"

	// DescriptorFileName is the manifest searched for inside every package.
	DescriptorFileName = "auto-config.xml"
	// LogFileSuffix is appended to a descriptor name to form its reserved log entry.
	LogFileSuffix = ".log"

	// DefaultCharset is used when neither the rule nor the template declares one.
	DefaultCharset = "ISO-8859-1"
	// SniffLimit bounds how much of a template is searched for an encoding attribute.
	SniffLimit = 1024

	DefaultReplaceAttempts = 10
	DefaultReplacePause    = 100 * time.Millisecond

	EnvMasterKey = "AUTOCONFIG_MASTER_KEY"
	EnvHome      = "AUTOCONFIG_HOME"
)

// DefaultDescriptorPatterns locate descriptors relative to a package root.
var DefaultDescriptorPatterns = []string{
	"META-INF/**/" + DescriptorFileName,
	"WEB-INF/**/" + DescriptorFileName,
	DescriptorFileName,
}

// DefaultPackagePatterns locate nested packages relative to a package root.
var DefaultPackagePatterns = []string{
	"**/*.jar",
	"**/*.war",
	"**/*.ear",
	"**/*.rar",
}

// GetHomeDir returns the autoconfig state directory, honoring AUTOCONFIG_HOME.
func GetHomeDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultDirName), nil
}

// GetMasterKeyPath returns the default path for the property master key.
func GetMasterKeyPath() (string, error) {
	dir, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, MasterKeyFileName), nil
}

// GetBackupDir returns the default directory for archive backups.
func GetBackupDir() (string, error) {
	dir, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, BackupDirName), nil
}
